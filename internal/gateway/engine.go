package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/assembler"
	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/executor"
	"github.com/hanpama/fedgate/internal/gql"
	language "github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/plancache"
	schema "github.com/hanpama/fedgate/internal/schema"
)

// Planner produces query plans. It is external to the gateway and may be
// slow; the Engine calls it at most once per signature at a time.
type Planner interface {
	Plan(ctx context.Context, query, operationName string, s *schema.Schema) (*plan.QueryPlan, error)
}

type PlannerFunc func(ctx context.Context, query, operationName string, s *schema.Schema) (*plan.QueryPlan, error)

func (f PlannerFunc) Plan(ctx context.Context, query, operationName string, s *schema.Schema) (*plan.QueryPlan, error) {
	return f(ctx, query, operationName, s)
}

// PlanningError reports that no plan could be produced for an operation.
// The request fails without data.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string { return "planning failed: " + e.Err.Error() }

func (e *PlanningError) Unwrap() error { return e.Err }

type Options struct {
	Planner   Planner
	Fetcher   executor.Fetcher
	Executor  executor.Options
	PlanCache plancache.Options
}

// Engine executes client operations against the current schema generation.
type Engine struct {
	planner   Planner
	executor  *executor.Executor
	cacheOpts plancache.Options

	reloadMu sync.Mutex
	current  atomic.Pointer[Generation]
}

func NewEngine(supergraph []byte, opts Options) (*Engine, error) {
	if opts.Planner == nil {
		return nil, errors.New("gateway: a planner is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("gateway: a fetcher is required")
	}
	gen, err := newGeneration(supergraph, opts.PlanCache)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	e := &Engine{
		planner:   opts.Planner,
		executor:  executor.New(opts.Fetcher, opts.Executor),
		cacheOpts: opts.PlanCache,
	}
	e.current.Store(gen)
	return e, nil
}

// Generation returns the schema generation new requests run against.
func (e *Engine) Generation() *Generation { return e.current.Load() }

// Reload installs a new generation built from supergraph, discarding every
// cached plan. Requests already running finish on the generation they
// started with. It reports false when the supergraph is unchanged.
func (e *Engine) Reload(ctx context.Context, supergraph []byte) (bool, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	old := e.current.Load()
	if plancache.SchemaVersion(supergraph) == old.Version {
		return false, nil
	}
	gen, err := newGeneration(supergraph, e.cacheOpts)
	if err != nil {
		return false, fmt.Errorf("gateway: reload: %w", err)
	}
	e.current.Store(gen)
	ctxlog.FromContext(ctx).Info("schema generation installed",
		zap.String("version", gen.Version),
		zap.String("previous", old.Version),
		zap.Int("discarded_plans", old.Plans.Len()),
	)
	return true, nil
}

// Serve runs req to completion. Every failure is reported in the result.
func (e *Engine) Serve(ctx context.Context, req *Request) *gql.ExecutionResult {
	gen := e.current.Load()
	sig := plancache.ComputeSignature(req.Query, req.OperationName, gen.Version)
	logger := ctxlog.FromContext(ctx).With(zap.String("signature", string(sig)))
	ctx = ctxlog.WithLogger(ctx, logger)

	start := time.Now()
	eventbus.Publish(ctx, events.OperationStart{OperationName: req.OperationName, Signature: string(sig)})
	res := e.serve(ctx, gen, sig, req)
	eventbus.Publish(ctx, events.OperationFinish{
		OperationName: req.OperationName,
		Signature:     string(sig),
		Errors:        len(res.Errors),
		NoData:        res.NoData,
		Duration:      time.Since(start),
	})
	return res
}

func (e *Engine) serve(ctx context.Context, gen *Generation, sig plancache.Signature, req *Request) *gql.ExecutionResult {
	doc := req.Document
	if doc == nil {
		parsed, err := language.ParseQuery(req.Query)
		if err != nil {
			return gql.RequestFailure(gql.NewError(err.Error(), gql.CodeParseFailed, nil))
		}
		doc = parsed
	}
	op := language.SelectOperation(doc, req.OperationName)
	if op == nil {
		msg := "Must provide operation name if query contains multiple operations."
		if req.OperationName != "" {
			msg = fmt.Sprintf("Unknown operation named %q.", req.OperationName)
		}
		return gql.RequestFailure(gql.NewError(msg, gql.CodeValidationFailed, nil))
	}

	variables, err := coerceVariables(op, req.Variables)
	if err != nil {
		return gql.RequestFailure(gql.NewError(err.Error(), gql.CodeValidationFailed, nil))
	}

	p, err := gen.Plans.GetOrPlan(ctx, sig, func(ctx context.Context) (*plan.QueryPlan, error) {
		return e.planner.Plan(ctx, req.Query, req.OperationName, gen.Schema)
	})
	if err != nil {
		return planFailure(ctx, err)
	}

	result, err := e.executor.Execute(ctx, p, variables)
	if err != nil {
		return gql.RequestFailure(gql.NewError("Internal server error", gql.CodeInternal, nil))
	}
	return gen.assembler.Assemble(assembler.Request{
		Document:  doc,
		Operation: op,
		Variables: variables,
	}, result.Data, result.Errors)
}

func planFailure(ctx context.Context, err error) *gql.ExecutionResult {
	logger := ctxlog.FromContext(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Debug("request ended while waiting for a plan", zap.Error(err))
		return gql.RequestFailure(gql.NewError("Request timed out while waiting for a query plan", gql.CodeGatewayTimeout, nil))
	}
	logger.Debug("planning failed", zap.Error(err))
	var pe *PlanningError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return gql.RequestFailure(gql.NewError(err.Error(), gql.CodePlanningFailed, nil))
}
