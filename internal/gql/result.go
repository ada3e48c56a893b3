package gql

import (
	"bytes"
	"encoding/json"
)

// Error codes placed in extensions.code of gateway-produced errors.
const (
	CodeParseFailed       = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed  = "GRAPHQL_VALIDATION_FAILED"
	CodePlanningFailed    = "GRAPHQL_PLANNING_FAILED"
	CodeSubrequestHTTP    = "SUBREQUEST_HTTP_ERROR"
	CodeMalformedResponse = "SUBREQUEST_MALFORMED_RESPONSE"
	CodeGatewayTimeout    = "GATEWAY_TIMEOUT"
	CodeInternal          = "INTERNAL_SERVER_ERROR"
)

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// WithPath returns a copy of e located at p.
func (e GraphQLError) WithPath(p Path) GraphQLError {
	e.Path = p
	return e
}

// Code returns extensions.code, or "" when unset.
func (e GraphQLError) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// NewError builds an error carrying a gateway error code.
func NewError(message, code string, path Path) GraphQLError {
	return GraphQLError{
		Message:    message,
		Path:       path,
		Extensions: map[string]any{"code": code},
	}
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`

	// NoData marks results of requests that failed before execution began.
	// Such responses omit the data entry entirely.
	NoData bool `json:"-"`
}

func (r *ExecutionResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	wrote := false
	if !r.NoData {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"data":`)
		buf.Write(data)
		wrote = true
	}
	if len(r.Errors) > 0 {
		errs, err := json.Marshal(r.Errors)
		if err != nil {
			return nil, err
		}
		if wrote {
			buf.WriteByte(',')
		}
		buf.WriteString(`"errors":`)
		buf.Write(errs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RequestFailure builds a result for a request that never reached execution.
func RequestFailure(errs ...GraphQLError) *ExecutionResult {
	return &ExecutionResult{Errors: errs, NoData: true}
}
