// Package gateway is the execution stage of the request pipeline. An Engine
// turns a client operation into a response: it looks the operation up in the
// plan cache of the current schema generation, asks the planner on a miss,
// executes the plan against the subgraphs and assembles the response.
package gateway

import (
	"context"

	"github.com/hanpama/fedgate/internal/gql"
	language "github.com/hanpama/fedgate/internal/language"
)

// Request is a client GraphQL operation. Document is parsed from Query when
// an earlier stage has not done so.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	Document      *language.QueryDocument
}

// Handler is one stage of the pipeline. The Engine is the terminal stage.
type Handler interface {
	Serve(ctx context.Context, req *Request) *gql.ExecutionResult
}

type HandlerFunc func(ctx context.Context, req *Request) *gql.ExecutionResult

func (f HandlerFunc) Serve(ctx context.Context, req *Request) *gql.ExecutionResult {
	return f(ctx, req)
}

// Middleware wraps a Handler. It may short-circuit by returning a result
// without calling next.
type Middleware func(next Handler) Handler

// Chain wraps h so that the first middleware runs first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
