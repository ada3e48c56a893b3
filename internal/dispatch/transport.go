package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hanpama/fedgate/internal/representation"
)

// ErrUnknownService is returned for fetches naming a service with no route.
var ErrUnknownService = errors.New("dispatch: unknown service")

// Request is the GraphQL-over-HTTP body sent to a subgraph.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Representations decodes the entity batch of an _entities request, for
// subgraph handlers. A request without the variable yields nil.
func (r *Request) Representations() ([]representation.Representation, error) {
	v, ok := r.Variables[RepresentationsVariable]
	if !ok {
		return nil, nil
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return representation.Decode(raw)
}

// Transport delivers a request to one subgraph and returns the raw response
// document. Implementations must be safe for concurrent use.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) ([]byte, error)

func (f TransportFunc) RoundTrip(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

// Routes maps service names to transports.
type Routes map[string]Transport

type headersKey struct{}

// WithForwardedHeaders attaches client headers that transports copy onto
// subgraph requests.
func WithForwardedHeaders(ctx context.Context, h http.Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, h)
}

// ForwardedHeaders returns the headers attached with WithForwardedHeaders.
func ForwardedHeaders(ctx context.Context) http.Header {
	h, _ := ctx.Value(headersKey{}).(http.Header)
	return h
}
