package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when a client request reaches the gateway.
// Context carries the request context.
type HTTPStart struct {
	Request   *http.Request
	RequestID string
}

// HTTPFinish is emitted after the response is written.
type HTTPFinish struct {
	Request   *http.Request
	RequestID string
	Status    int
	Duration  time.Duration
}
