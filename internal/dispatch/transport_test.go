package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/hanpama/fedgate/internal/gql"
	"github.com/hanpama/fedgate/internal/reqid"
)

func TestHTTPTransport(t *testing.T) {
	var gotReq Request
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"me":{"id":"1"}}}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, WithHeaders(map[string]string{"X-Api-Key": "secret"}))
	ctx, id := reqid.NewContext(context.Background())
	ctx = WithForwardedHeaders(ctx, http.Header{"Authorization": {"Bearer t"}})

	body, err := tr.RoundTrip(ctx, &Request{Query: "query Me{me{id}}", OperationName: "Me", Variables: map[string]any{"x": 1}})
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"me":{"id":"1"}}}`, string(body))

	require.Equal(t, "Me", gotReq.OperationName)
	require.Equal(t, "query Me{me{id}}", gotReq.Query)
	require.Equal(t, "secret", gotHeader.Get("X-Api-Key"))
	require.Equal(t, "Bearer t", gotHeader.Get("Authorization"))
	require.Equal(t, id, gotHeader.Get(reqid.Header))
	require.Equal(t, "application/json", gotHeader.Get("Content-Type"))
}

func TestHTTPTransportStatusHandling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		case "/invalid":
			w.Header().Set("Content-Type", "application/graphql-response+json; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":[{"message":"Cannot query field \"nope\""}]}`))
		}
	}))
	defer srv.Close()

	d := New(Routes{
		"broken":  NewHTTPTransport(srv.URL + "/broken"),
		"invalid": NewHTTPTransport(srv.URL + "/invalid"),
	}, Options{})

	res := d.Dispatch(context.Background(), Call{Service: "broken", Operation: "{a}"})
	require.False(t, res.HasData)
	require.Equal(t, gql.CodeSubrequestHTTP, res.Errors[0].Code())
	require.Contains(t, res.Errors[0].Message, "502")

	res = d.Dispatch(context.Background(), Call{Service: "invalid", Operation: "{nope}"})
	require.False(t, res.HasData)
	require.Equal(t, `Cannot query field "nope"`, res.Errors[0].Message)
}

func TestHTTPTransportLimitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1024))
	}))
	defer srv.Close()
	_, err := NewHTTPTransport(srv.URL, WithMaxResponseBytes(100)).RoundTrip(context.Background(), &Request{Query: "{a}"})
	require.ErrorContains(t, err, "exceeds")
}

func TestGRPCTransportRoundTrip(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	var gotReq *Request
	var gotMD metadata.MD
	require.NoError(t, RegisterSubgraph(srv, SubgraphHandlerFunc(func(ctx context.Context, req *Request) ([]byte, error) {
		gotReq = req
		gotMD, _ = metadata.FromIncomingContext(ctx)
		return []byte(`{"data":{"_entities":[{"name":"Chair"}]}}`), nil
	})))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	tr, err := NewGRPCTransport("products", lis.Addr().String(), GRPCOptions{Metadata: map[string]string{"X-Tenant": "acme"}})
	require.NoError(t, err)
	defer tr.Close()

	d := New(Routes{"products": tr}, Options{})
	ctx, id := reqid.NewContext(context.Background())
	res := d.Dispatch(ctx, Call{
		Service:       "products",
		Operation:     "query($representations:[_Any!]!){_entities(representations:$representations){...on Product{name}}}",
		OperationName: "",
		Variables:     map[string]any{"locale": "en"},
	})
	require.Empty(t, res.Errors)
	require.True(t, res.HasData)
	require.Equal(t, map[string]any{"_entities": []any{map[string]any{"name": "Chair"}}}, res.Data)

	require.Equal(t, map[string]any{"locale": "en"}, gotReq.Variables)
	require.Equal(t, []string{id}, gotMD.Get(reqid.Header))
	require.Equal(t, []string{"acme"}, gotMD.Get("x-tenant"))
}

func TestGRPCTransportUnavailable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	tr, err := NewGRPCTransport("gone", addr, GRPCOptions{})
	require.NoError(t, err)
	defer tr.Close()

	res := New(Routes{"gone": tr}, Options{}).Dispatch(context.Background(), Call{Service: "gone", Operation: "{a}"})
	require.False(t, res.HasData)
	require.Equal(t, gql.CodeSubrequestHTTP, res.Errors[0].Code())
}

func TestWriteContract(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteContract(&buf))
	out := buf.String()
	require.Contains(t, out, "package fedgate.subgraph.v1;")
	require.Contains(t, out, "service Subgraph")
	require.Contains(t, out, "rpc Execute")
	require.Contains(t, out, "message ExecuteResponse")
	require.Regexp(t, `string\s+variables_json\s*=\s*3;`, out)
}
