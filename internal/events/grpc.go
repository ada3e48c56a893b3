package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// GRPCClientStart is emitted before a gRPC subgraph call.
type GRPCClientStart struct {
	Subgraph string
	Method   string
	Target   string
}

// GRPCClientFinish is emitted after a gRPC subgraph call completes.
type GRPCClientFinish struct {
	Subgraph string
	Method   string
	Target   string
	Code     codes.Code
	Err      error
	Duration time.Duration
}
