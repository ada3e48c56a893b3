package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/fedgate/internal/dispatch"
	"github.com/hanpama/fedgate/internal/gateway"
	"github.com/hanpama/fedgate/internal/gql"
	"github.com/hanpama/fedgate/internal/reqid"
)

// echo answers every operation with its name and records the request.
type echo struct {
	ctx  context.Context
	reqs []*gateway.Request
}

func (e *echo) Serve(ctx context.Context, req *gateway.Request) *gql.ExecutionResult {
	e.ctx = ctx
	e.reqs = append(e.reqs, req)
	return &gql.ExecutionResult{Data: map[string]any{"op": req.OperationName}}
}

func post(h http.Handler, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostRunsPipeline(t *testing.T) {
	next := &echo{}
	w := post(New(next), `{"query":"query A { a }","operationName":"A","variables":{"n":1}}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":{"op":"A"}}`, w.Body.String())
	require.Len(t, next.reqs, 1)
	require.Equal(t, "query A { a }", next.reqs[0].Query)
	require.Equal(t, map[string]any{"n": json.Number("1")}, next.reqs[0].Variables)
	_, hasDeadline := next.ctx.Deadline()
	require.True(t, hasDeadline, "default timeout applies")
}

func TestGetAndBatch(t *testing.T) {
	next := &echo{}
	h := New(next)

	q := url.Values{"query": {"{a}"}, "operationName": {"G"}, "variables": {`{"x":true}`}}
	req := httptest.NewRequest(http.MethodGet, "/graphql?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]any{"x": true}, next.reqs[0].Variables)

	w = post(h, `[{"query":"{a}","operationName":"One"},{"query":"{b}","operationName":"Two"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[{"data":{"op":"One"}},{"data":{"op":"Two"}}]`, w.Body.String())
}

func TestVariablesKeepNumberPrecision(t *testing.T) {
	next := &echo{}
	w := post(New(next), `{"query":"{a}","variables":{"id":9007199254740993,"nested":{"ids":[12345678901234567890]}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	vars := next.reqs[0].Variables
	require.Equal(t, json.Number("9007199254740993"), vars["id"])
	require.Equal(t, map[string]any{"ids": []any{json.Number("12345678901234567890")}}, vars["nested"])

	b, err := json.Marshal(vars)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":9007199254740993,"nested":{"ids":[12345678901234567890]}}`, string(b))
}

func TestGetOnlyRunsQueries(t *testing.T) {
	next := &echo{}
	h := New(next)

	get := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/graphql?"+url.Values{"query": {query}}.Encode(), nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := get(`mutation { addItem(id: 1) }`)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, http.MethodPost, w.Header().Get("Allow"))
	require.Contains(t, w.Body.String(), "mutation")
	require.Empty(t, next.reqs, "the mutation never reaches the pipeline")

	w = get(`query { a }`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, next.reqs, 1)
	require.NotNil(t, next.reqs[0].Document, "the parsed document is passed on")

	w = post(h, `{"query":"mutation { addItem(id: 1) }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, next.reqs, 2)
}

func TestMalformedRequests(t *testing.T) {
	h := New(&echo{}, WithMaxBodyBytes(64))
	for _, tc := range []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing query", `{"variables":{}}`, http.StatusBadRequest},
		{"empty batch", `[]`, http.StatusBadRequest},
		{"too large", `{"query":"` + string(bytes.Repeat([]byte("a"), 100)) + `"}`, http.StatusRequestEntityTooLarge},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := post(h, tc.body)
			require.Equal(t, tc.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.NotContains(t, body, "data")
			require.Contains(t, body, "errors")
		})
	}

	req := httptest.NewRequest(http.MethodPut, "/graphql", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestForwardedHeaders(t *testing.T) {
	next := &echo{}
	w := post(New(next, WithForwardHeaders("authorization")), `{"query":"{a}"}`,
		"Authorization", "Bearer t", "X-Other", "nope")
	require.Equal(t, http.StatusOK, w.Code)

	fwd := dispatch.ForwardedHeaders(next.ctx)
	require.Equal(t, "Bearer t", fwd.Get("Authorization"))
	require.Empty(t, fwd.Get("X-Other"))
}

func TestRequestID(t *testing.T) {
	next := &echo{}
	w := post(New(next), `{"query":"{a}"}`, reqid.Header, "abc-123")
	id, ok := reqid.FromContext(next.ctx)
	require.True(t, ok)
	require.Equal(t, "abc-123", id)
	require.Equal(t, "abc-123", w.Header().Get(reqid.Header))

	w = post(New(next), `{"query":"{a}"}`)
	id, _ = reqid.FromContext(next.ctx)
	require.NotEmpty(t, id)
	require.Equal(t, id, w.Header().Get(reqid.Header))
}

func TestCORSAndPreflight(t *testing.T) {
	h := New(&echo{}, WithCORS("*"))

	w := post(h, `{"query":"{a}"}`, "Origin", "http://example.com")
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))

	restricted := New(&echo{}, WithCORS("http://app.example"))
	w = post(restricted, `{"query":"{a}"}`, "Origin", "http://evil.example")
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
