// Package dispatch issues subgraph requests for individual plan fetches.
//
// The Dispatcher never fails: transport errors, malformed responses and
// expired deadlines all become a PartialResult with absent data and a
// synthetic error. It does not retry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/gql"
	"github.com/hanpama/fedgate/internal/representation"
)

// RepresentationsVariable is the variable carrying entity representations.
const RepresentationsVariable = "representations"

// DefaultDrainTimeout bounds how long a subgraph call may outlive the
// request deadline before it is abandoned.
const DefaultDrainTimeout = 5 * time.Second

// PartialResult is the outcome of one fetch. Data is meaningful only when
// HasData is set; a transport failure leaves it absent while a subgraph
// answering "data": null yields HasData with a nil Data.
type PartialResult struct {
	Data    any
	HasData bool
	Errors  []gql.GraphQLError
}

// Call describes one subgraph request.
type Call struct {
	Service       string
	Operation     string
	OperationName string
	Variables     map[string]any
	// Representations is set for entity fetches, including empty batches.
	Representations []representation.Representation
}

type Options struct {
	// MaxInFlight bounds concurrent subgraph requests across all requests
	// sharing the dispatcher. Zero means unbounded.
	MaxInFlight int64
	// DrainTimeout is how long a call may run past the request deadline.
	DrainTimeout time.Duration
}

type Dispatcher struct {
	routes Routes
	sem    *semaphore.Weighted
	drain  time.Duration
	nextID atomic.Uint64
}

func New(routes Routes, opts Options) *Dispatcher {
	d := &Dispatcher{routes: routes, drain: opts.DrainTimeout}
	if opts.MaxInFlight > 0 {
		d.sem = semaphore.NewWeighted(opts.MaxInFlight)
	}
	if d.drain <= 0 {
		d.drain = DefaultDrainTimeout
	}
	return d
}

type fetchIDKey struct{}

// FetchID reports the id of the fetch a transport call belongs to.
func FetchID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(fetchIDKey{}).(uint64)
	return id, ok
}

type roundTrip struct {
	body []byte
	err  error
}

// Dispatch sends call and waits for its result until ctx is done. A call that
// is still running when ctx ends is not torn down; its result is discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) PartialResult {
	id := d.nextID.Add(1)
	ctx = context.WithValue(ctx, fetchIDKey{}, id)
	start := time.Now()
	logger := ctxlog.FromContext(ctx).With(zap.String("service", call.Service), zap.Uint64("fetch", id))

	eventbus.Publish(ctx, events.FetchStart{ID: id, Service: call.Service, Representations: len(call.Representations)})
	res, err := d.dispatch(ctx, call)
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if err != nil {
		res = PartialResult{Errors: []gql.GraphQLError{syntheticError(call.Service, err)}}
		logger.Debug("subgraph fetch failed", zap.Error(err))
	}
	eventbus.Publish(ctx, events.FetchFinish{
		ID:       id,
		Service:  call.Service,
		Errors:   len(res.Errors),
		HasData:  res.HasData,
		TimedOut: timedOut,
		Err:      err,
		Duration: time.Since(start),
	})
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) (PartialResult, error) {
	transport, ok := d.routes[call.Service]
	if !ok {
		return PartialResult{}, fmt.Errorf("%w %q", ErrUnknownService, call.Service)
	}
	req, err := buildRequest(call)
	if err != nil {
		return PartialResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return PartialResult{}, err
	}
	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return PartialResult{}, err
		}
	}

	callCtx, cancel := d.detach(ctx)
	done := make(chan roundTrip, 1)
	go func() {
		defer cancel()
		if d.sem != nil {
			defer d.sem.Release(1)
		}
		body, err := transport.RoundTrip(callCtx, req)
		done <- roundTrip{body: body, err: err}
	}()

	select {
	case rt := <-done:
		if rt.err != nil {
			return PartialResult{}, &transportError{err: rt.err}
		}
		res, err := decodeResponse(rt.body)
		if err != nil {
			return PartialResult{}, &malformedError{err: err}
		}
		return res, nil
	case <-ctx.Done():
		return PartialResult{}, ctx.Err()
	}
}

// detach derives the context of the subgraph call: it keeps the values of
// ctx but not its cancellation, and allows the drain period past its deadline.
func (d *Dispatcher) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline.Add(d.drain))
	}
	return context.WithCancel(base)
}

func buildRequest(call Call) (*Request, error) {
	req := &Request{Query: call.Operation, OperationName: call.OperationName}
	if len(call.Variables) > 0 || call.Representations != nil {
		req.Variables = make(map[string]any, len(call.Variables)+1)
		maps.Copy(req.Variables, call.Variables)
	}
	if call.Representations != nil {
		reps, err := representation.EncodeAll(call.Representations)
		if err != nil {
			return nil, fmt.Errorf("encode representations: %w", err)
		}
		req.Variables[RepresentationsVariable] = reps
	}
	return req, nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type malformedError struct{ err error }

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

func syntheticError(service string, err error) gql.GraphQLError {
	var (
		msg  string
		code string
		mal  *malformedError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return TimeoutError(service)
	case errors.As(err, &mal):
		msg, code = fmt.Sprintf("Invalid response from subgraph %q: %v", service, mal.err), gql.CodeMalformedResponse
	default:
		msg, code = fmt.Sprintf("HTTP fetch failed from %q: %v", service, err), gql.CodeSubrequestHTTP
	}
	e := gql.NewError(msg, code, nil)
	e.Extensions["service"] = service
	return e
}

// TimeoutError is the error recorded for a fetch that did not complete
// before the request deadline, whether it was in flight or never started.
func TimeoutError(service string) gql.GraphQLError {
	e := gql.NewError(fmt.Sprintf("Request to subgraph %q timed out", service), gql.CodeGatewayTimeout, nil)
	e.Extensions["service"] = service
	return e
}
