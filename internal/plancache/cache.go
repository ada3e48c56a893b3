// Package plancache maps operation signatures to query plans.
//
// A Cache belongs to one schema generation. Lookups of cached plans never
// block on planning; misses are coalesced per signature through an explicit
// registry of pending computations, so N concurrent identical requests cause
// a single planner (or distributed tier) round trip. Failed planning is
// reported to every waiter and never cached.
package plancache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/plan"
)

// DefaultSize bounds the local LRU when Options.Size is zero.
const DefaultSize = 512

// ErrNoPlan is returned when a PlanFunc yields neither a plan nor an error.
var ErrNoPlan = errors.New("plancache: planner returned no plan")

// PlanFunc computes a plan on a miss. It runs at most once per signature at
// a time, detached from the cancellation of the caller that triggered it.
type PlanFunc func(ctx context.Context) (*plan.QueryPlan, error)

type Options struct {
	// Size is the maximum number of plans kept locally.
	Size int
	// Tier is consulted after a local miss and before planning. Optional.
	Tier Tier
	// TierTTL is passed to Tier.Set.
	TierTTL time.Duration
	// TierPrefix namespaces tier keys.
	TierPrefix string
}

type Cache struct {
	plans      *lru.Cache[Signature, *plan.QueryPlan]
	tier       Tier
	tierTTL    time.Duration
	tierPrefix string

	mu      sync.Mutex
	pending map[Signature]*call
}

// call is one in-flight computation. Fields other than done and waiters are
// written once before done is closed.
type call struct {
	done    chan struct{}
	waiters int

	plan   *plan.QueryPlan
	source events.PlanSource
	err    error
}

func New(opts Options) (*Cache, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	plans, err := lru.New[Signature, *plan.QueryPlan](size)
	if err != nil {
		return nil, fmt.Errorf("plancache: %w", err)
	}
	prefix := opts.TierPrefix
	if prefix == "" {
		prefix = "fedgate:plan:"
	}
	return &Cache{
		plans:      plans,
		tier:       opts.Tier,
		tierTTL:    opts.TierTTL,
		tierPrefix: prefix,
		pending:    make(map[Signature]*call),
	}, nil
}

// GetOrPlan returns the plan cached under sig, or obtains it through the tier
// or fn. Concurrent callers for the same sig share one computation. A caller
// whose ctx ends stops waiting; the computation continues for the others.
func (c *Cache) GetOrPlan(ctx context.Context, sig Signature, fn PlanFunc) (*plan.QueryPlan, error) {
	start := time.Now()
	if p, ok := c.plans.Get(sig); ok {
		publishLookup(ctx, sig, events.PlanFromLocal, start)
		return p, nil
	}

	c.mu.Lock()
	// A computation may have finished between the lookup and the lock.
	if p, ok := c.plans.Get(sig); ok {
		c.mu.Unlock()
		publishLookup(ctx, sig, events.PlanFromLocal, start)
		return p, nil
	}
	cl, coalesced := c.pending[sig]
	if !coalesced {
		cl = &call{done: make(chan struct{})}
		c.pending[sig] = cl
		go c.compute(context.WithoutCancel(ctx), sig, fn, cl)
	}
	cl.waiters++
	c.mu.Unlock()

	if coalesced {
		ctxlog.FromContext(ctx).Debug("plan computation coalesced", zap.String("signature", string(sig)))
	}

	select {
	case <-cl.done:
	case <-ctx.Done():
		c.mu.Lock()
		cl.waiters--
		c.mu.Unlock()
		return nil, ctx.Err()
	}

	source := cl.source
	if coalesced && cl.err == nil {
		source = events.PlanFromCoalesced
	}
	publishLookup(ctx, sig, source, start)
	return cl.plan, cl.err
}

func (c *Cache) compute(ctx context.Context, sig Signature, fn PlanFunc, cl *call) {
	p, source, err := c.load(ctx, sig, fn)
	if err == nil {
		c.plans.Add(sig, p)
	} else {
		source = events.PlanFailed
	}

	c.mu.Lock()
	delete(c.pending, sig)
	cl.plan, cl.source, cl.err = p, source, err
	c.mu.Unlock()
	close(cl.done)
}

func (c *Cache) load(ctx context.Context, sig Signature, fn PlanFunc) (*plan.QueryPlan, events.PlanSource, error) {
	logger := ctxlog.FromContext(ctx).With(zap.String("signature", string(sig)))
	if c.tier != nil {
		if p, ok := c.fromTier(ctx, sig, logger); ok {
			return p, events.PlanFromTier, nil
		}
	}

	p, err := callPlanner(ctx, fn)
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		return nil, "", ErrNoPlan
	}

	if c.tier != nil {
		encoded, err := p.MarshalJSON()
		if err == nil {
			err = c.tier.Set(ctx, c.tierPrefix+string(sig), encoded, c.tierTTL)
		}
		if err != nil {
			logger.Warn("plan cache tier write failed", zap.Error(err))
		}
	}
	return p, events.PlanFromPlanner, nil
}

func (c *Cache) fromTier(ctx context.Context, sig Signature, logger *zap.Logger) (*plan.QueryPlan, bool) {
	raw, err := c.tier.Get(ctx, c.tierPrefix+string(sig))
	switch {
	case errors.Is(err, ErrMiss):
		return nil, false
	case err != nil:
		logger.Warn("plan cache tier read failed", zap.Error(err))
		return nil, false
	}
	p, err := plan.Parse(raw)
	if err != nil {
		logger.Warn("plan cache tier returned an undecodable plan", zap.Error(err))
		return nil, false
	}
	return p, true
}

func callPlanner(ctx context.Context, fn PlanFunc) (p *plan.QueryPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plancache: planner panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func publishLookup(ctx context.Context, sig Signature, source events.PlanSource, start time.Time) {
	eventbus.Publish(ctx, events.PlanLookup{Signature: string(sig), Source: source, Duration: time.Since(start)})
}

// Peek returns a cached plan without updating recency.
func (c *Cache) Peek(sig Signature) (*plan.QueryPlan, bool) { return c.plans.Peek(sig) }

// Len reports the number of locally cached plans.
func (c *Cache) Len() int { return c.plans.Len() }

// Pending reports the number of signatures currently being computed.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
