package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hanpama/fedgate/internal/reqid"
)

// DefaultMaxResponseBytes bounds subgraph response bodies read by HTTPTransport.
const DefaultMaxResponseBytes = 64 << 20

// HTTPTransport posts GraphQL requests to a subgraph endpoint.
type HTTPTransport struct {
	url      string
	client   *http.Client
	headers  http.Header
	maxBytes int64
}

type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption { return func(t *HTTPTransport) { t.client = c } }

// WithHeaders adds static headers to every request.
func WithHeaders(h map[string]string) HTTPOption {
	return func(t *HTTPTransport) {
		for k, v := range h {
			t.headers.Set(k, v)
		}
	}
}

// WithMaxResponseBytes bounds response bodies.
func WithMaxResponseBytes(n int64) HTTPOption { return func(t *HTTPTransport) { t.maxBytes = n } }

func NewHTTPTransport(url string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		url:      url,
		client:   http.DefaultClient,
		headers:  http.Header{},
		maxBytes: DefaultMaxResponseBytes,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// StatusError reports a non-2xx subgraph response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, vs := range ForwardedHeaders(ctx) {
		hr.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range t.headers {
		hr.Header[k] = append([]string(nil), vs...)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/graphql-response+json, application/json")
	if id, ok := reqid.FromContext(ctx); ok {
		hr.Header.Set(reqid.Header, id)
	}

	resp, err := t.client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > t.maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", t.maxBytes)
	}
	// graphql-response+json subgraphs report request errors with 4xx and a
	// regular response document.
	if resp.StatusCode >= 300 && !isGraphQLResponse(resp) {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return body, nil
}

func isGraphQLResponse(resp *http.Response) bool {
	return resp.StatusCode < 500 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/graphql-response+json")
}
