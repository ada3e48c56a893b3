package events

import "time"

// PlanSource tells where a plan lookup was satisfied.
type PlanSource string

const (
	PlanFromLocal     PlanSource = "local"
	PlanFromTier      PlanSource = "tier"
	PlanFromPlanner   PlanSource = "planner"
	PlanFromCoalesced PlanSource = "coalesced"
	PlanFailed        PlanSource = "failed"
)

// PlanLookup is emitted once per plan cache lookup.
type PlanLookup struct {
	Signature string
	Source    PlanSource
	Duration  time.Duration
}
