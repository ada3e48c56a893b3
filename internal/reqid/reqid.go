// Package reqid propagates per-request identifiers.
package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header carries the request id between the gateway, its clients and
// subgraphs.
const Header = "X-Request-Id"

type key struct{}

// NewContext returns a copy of parent carrying a freshly generated id.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// WithID returns a copy of parent carrying id. An empty id generates one.
func WithID(parent context.Context, id string) (context.Context, string) {
	if id == "" {
		return NewContext(parent)
	}
	return context.WithValue(parent, key{}, id), id
}

// FromRequest reuses an inbound X-Request-Id or generates a new one.
func FromRequest(r *http.Request) (context.Context, string) {
	return WithID(r.Context(), r.Header.Get(Header))
}

// FromContext extracts the request id from ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
