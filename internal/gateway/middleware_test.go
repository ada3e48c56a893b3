package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/gql"
)

func TestRecoverReportsInternalError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ctx := ctxlog.WithLogger(context.Background(), zap.New(core))

	h := Chain(HandlerFunc(func(context.Context, *Request) *gql.ExecutionResult {
		panic("boom")
	}), Recover())

	res := h.Serve(ctx, &Request{OperationName: "Me"})
	require.True(t, res.NoData)
	require.Len(t, res.Errors, 1)
	require.Equal(t, gql.CodeInternal, res.Errors[0].Code())
	require.Equal(t, 1, logs.FilterMessage("request panicked").Len())
}

func TestAccessLogRecordsOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := ctxlog.WithLogger(context.Background(), zap.New(core))

	h := Chain(HandlerFunc(func(context.Context, *Request) *gql.ExecutionResult {
		return &gql.ExecutionResult{Data: map[string]any{}, Errors: []gql.GraphQLError{{Message: "x"}}}
	}), AccessLog())
	h.Serve(ctx, &Request{OperationName: "Me"})

	entries := logs.FilterMessage("operation served").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "Me", fields["operation"])
	require.Equal(t, int64(1), fields["errors"])
	require.Equal(t, false, fields["no_data"])
}
