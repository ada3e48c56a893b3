package events

import "time"

// FetchStart is emitted before a subgraph request is sent. ID pairs it with
// the matching FetchFinish.
type FetchStart struct {
	ID              uint64
	Service         string
	Representations int
}

// FetchFinish is emitted when the dispatcher returns a result for a fetch,
// including synthetic timeout and transport failures.
type FetchFinish struct {
	ID       uint64
	Service  string
	Errors   int
	HasData  bool
	TimedOut bool
	Err      error
	Duration time.Duration
}
