// Package server exposes a gateway.Handler over GraphQL-over-HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/dispatch"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/gateway"
	"github.com/hanpama/fedgate/internal/gql"
	language "github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/reqid"
)

// Handler is an http.Handler that serves a GraphQL endpoint.
// It parses requests, runs the pipeline and writes GraphQL responses.
type Handler struct {
	next gateway.Handler
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// ForwardHeaders lists client headers passed on to subgraphs.
	// Header names are case-insensitive. Default is none.
	ForwardHeaders []string

	// Logger is installed in every request context.
	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithForwardHeaders(headers ...string) Option {
	return func(o *Options) { o.ForwardHeaders = headers }
}
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New wraps next, usually a gateway.Engine behind its middleware chain.
func New(next gateway.Handler, opts ...Option) *Handler {
	op := Options{Timeout: 30 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{next: next, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, rid := reqid.FromRequest(r)
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	if h.opt.Logger != nil {
		ctx = ctxlog.WithLogger(ctx, h.opt.Logger.With(zap.String("request_id", rid)))
	}
	w.Header().Set(reqid.Header, rid)

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r, RequestID: rid})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, RequestID: rid, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, gql.RequestFailure(gql.GraphQLError{Message: "method not allowed"}), h.opt.Pretty)
		return
	}

	ctx = dispatch.WithForwardedHeaders(ctx, h.forwarded(r.Header))

	req, batch, err := parseRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, gql.RequestFailure(gql.GraphQLError{Message: err.Error()}), h.opt.Pretty)
		return
	}

	if batch != nil {
		out := make([]*gql.ExecutionResult, len(batch))
		for i := range batch {
			out[i] = h.next.Serve(ctx, batch[i].toGateway())
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}
	gr := req.toGateway()
	if r.Method == http.MethodGet {
		// parse failures are reported by the engine
		if doc, err := language.ParseQuery(req.Query); err == nil {
			gr.Document = doc
			if op := language.SelectOperation(doc, req.OperationName); op != nil && op.Operation != language.OperationQuery {
				status = http.StatusMethodNotAllowed
				w.Header().Set("Allow", http.MethodPost)
				msg := fmt.Sprintf("Can only perform a %s operation from a POST request.", op.Operation)
				writeJSON(w, status, gql.RequestFailure(gql.GraphQLError{Message: msg}), h.opt.Pretty)
				return
			}
		}
	}
	writeJSON(w, status, h.next.Serve(ctx, gr), h.opt.Pretty)
}

func (h *Handler) forwarded(in http.Header) http.Header {
	out := http.Header{}
	for _, name := range h.opt.ForwardHeaders {
		if v := in.Values(name); len(v) > 0 {
			out[http.CanonicalHeaderKey(name)] = v
		}
	}
	return out
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func (r GraphQLRequest) toGateway() *gateway.Request {
	return &gateway.Request{Query: r.Query, OperationName: r.OperationName, Variables: r.Variables}
}

var (
	errBodyTooLarge      = errors.New("body too large")
	errMissingQuery      = errors.New("missing 'query'")
	errInvalidJSON       = errors.New("invalid JSON")
	errInvalidVariables  = errors.New("invalid 'variables' JSON")
	errEmptyBatch        = errors.New("empty batch")
	errUnsupportedMedium = errors.New("unsupported Content-Type")
)

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, errMissingQuery
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := decodeJSON([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, errInvalidVariables
			}
		}
		return GraphQLRequest{Query: q, Variables: vars, OperationName: r.URL.Query().Get("operationName")}, nil, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, errUnsupportedMedium
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, errors.New("failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, errBodyTooLarge
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := decodeJSON(body, &arr); err != nil {
			return GraphQLRequest{}, nil, errInvalidJSON
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, errEmptyBatch
		}
		return GraphQLRequest{}, arr, nil
	}
	var req GraphQLRequest
	if err := decodeJSON(body, &req); err != nil {
		return GraphQLRequest{}, nil, errInvalidJSON
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, errMissingQuery
	}
	return req, nil, nil
}

// decodeJSON decodes a single JSON value, keeping numbers as json.Number so
// variables reach subgraphs with their literal precision.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// ------------------ Response formatting ------------------

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	wildcard := false
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		if o == "*" || o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
