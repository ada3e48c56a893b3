package events

import "time"

// OperationStart is emitted when the engine accepts a GraphQL operation.
type OperationStart struct {
	OperationName string
	Signature     string
}

// OperationFinish is emitted after the response has been assembled.
type OperationFinish struct {
	OperationName string
	Signature     string
	Errors        int
	NoData        bool
	Duration      time.Duration
}
