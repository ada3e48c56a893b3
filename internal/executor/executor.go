package executor

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/dispatch"
	"github.com/hanpama/fedgate/internal/gql"
	"github.com/hanpama/fedgate/internal/plan"
)

// Fetcher issues subgraph requests. *dispatch.Dispatcher implements it.
type Fetcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) dispatch.PartialResult
}

type Options struct {
	// MaxParallelBranches bounds the goroutines started for one Parallel
	// node. Zero means one goroutine per branch.
	MaxParallelBranches int
}

type Executor struct {
	fetcher     Fetcher
	maxBranches int
	conditions  conditionCache
}

func New(fetcher Fetcher, opts Options) *Executor {
	return &Executor{fetcher: fetcher, maxBranches: opts.MaxParallelBranches}
}

// Result is the stitched response tree and the errors collected while
// producing it, in plan order.
type Result struct {
	Data   map[string]any
	Errors []gql.GraphQLError
}

// InvariantViolation reports a plan that cannot be executed safely. It is
// fatal to the request.
type InvariantViolation struct {
	Reason string
	Err    error
}

func (v *InvariantViolation) Error() string {
	if v.Err != nil {
		return fmt.Sprintf("executor: invariant violation: %s: %v", v.Reason, v.Err)
	}
	return "executor: invariant violation: " + v.Reason
}

func (v *InvariantViolation) Unwrap() error { return v.Err }

// Execute runs p with the request variables. The deadline of ctx applies to
// the whole walk: once it passes no further fetch is started and unreached
// fetches report a timeout at their target paths. The returned error is
// always an *InvariantViolation.
func (e *Executor) Execute(ctx context.Context, p *plan.QueryPlan, variables map[string]any) (*Result, error) {
	if err := p.Check(); err != nil {
		return nil, &InvariantViolation{Reason: "invalid plan", Err: err}
	}
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	ec := newExecutionContext(variables, abort)
	errs, err := e.node(ctx, ec, p.Root, nil)
	if err != nil {
		ctxlog.FromContext(ctx).Error("plan execution aborted", zap.Error(err))
		return nil, err
	}
	return &Result{Data: ec.data, Errors: errs}, nil
}

// node executes n. path is the enclosing Flatten path, nil at the root.
func (e *Executor) node(ctx context.Context, ec *ExecutionContext, n *plan.Node, path []string) ([]gql.GraphQLError, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case plan.KindFetch:
		return e.fetch(ctx, ec, n.Fetch, path)
	case plan.KindSequence:
		return e.sequence(ctx, ec, n.Nodes, path)
	case plan.KindParallel:
		return e.parallel(ctx, ec, n.Nodes, path)
	case plan.KindFlatten:
		full := append(append([]string(nil), path...), n.Flatten.Path...)
		return e.node(ctx, ec, n.Flatten.Node, full)
	case plan.KindCondition:
		branch, err := e.condition(ec, n.Condition)
		if err != nil {
			return nil, ec.fail(err)
		}
		return e.node(ctx, ec, branch, path)
	}
	return nil, ec.fail(&InvariantViolation{Reason: fmt.Sprintf("unknown plan node kind %q", n.Kind)})
}

// Each step observes the merges of every step before it.
func (e *Executor) sequence(ctx context.Context, ec *ExecutionContext, steps []*plan.Node, path []string) ([]gql.GraphQLError, error) {
	var out []gql.GraphQLError
	for _, step := range steps {
		errs, err := e.node(ctx, ec, step, path)
		if err != nil {
			return nil, err
		}
		out = append(out, errs...)
	}
	return out, nil
}

// Branches run concurrently and are never cancelled by a sibling's failure.
// Their errors are concatenated in declaration order.
func (e *Executor) parallel(ctx context.Context, ec *ExecutionContext, branches []*plan.Node, path []string) ([]gql.GraphQLError, error) {
	if len(branches) == 1 {
		return e.node(ctx, ec, branches[0], path)
	}
	results := make([][]gql.GraphQLError, len(branches))
	fatal := make([]error, len(branches))

	p := pool.New()
	if e.maxBranches > 0 {
		p = p.WithMaxGoroutines(e.maxBranches)
	}
	for i, branch := range branches {
		p.Go(func() {
			results[i], fatal[i] = e.node(ctx, ec, branch, path)
		})
	}
	p.Wait()

	if err := firstViolation(fatal); err != nil {
		return nil, err
	}
	var out []gql.GraphQLError
	for _, errs := range results {
		out = append(out, errs...)
	}
	return out, nil
}

func firstViolation(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
