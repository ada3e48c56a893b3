package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/reqid"
)

func TestEventsBecomeNestedSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	unsubscribe := Subscribe(bus, tp.Tracer("test"))
	defer unsubscribe()

	ctx, rid := reqid.WithID(context.Background(), "r1")
	r := httptest.NewRequest("POST", "/graphql", nil)
	emit := func(e any) { eventbus.Publish(ctx, e) }
	emit(events.HTTPStart{Request: r, RequestID: rid})
	emit(events.OperationStart{OperationName: "Me", Signature: "sig"})
	emit(events.PlanLookup{Signature: "sig", Source: events.PlanFromPlanner})
	emit(events.FetchStart{ID: 7, Service: "accounts"})
	emit(events.FetchFinish{ID: 7, Service: "accounts", Err: errors.New("boom")})
	emit(events.OperationFinish{OperationName: "Me", Signature: "sig", Errors: 1})
	emit(events.HTTPFinish{Request: r, RequestID: rid, Status: 200})

	spans := rec.Ended()
	require.Len(t, spans, 3)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	httpSpan, op, fetch := byName["http.request"], byName["graphql.operation"], byName["subgraph.fetch"]
	require.NotNil(t, httpSpan)
	require.NotNil(t, op)
	require.NotNil(t, fetch)

	require.Equal(t, httpSpan.SpanContext().SpanID(), op.Parent().SpanID())
	require.Equal(t, op.SpanContext().SpanID(), fetch.Parent().SpanID())
	require.Len(t, op.Events(), 1)
	require.Equal(t, "plan.lookup", op.Events()[0].Name)
	require.Len(t, fetch.Events(), 1, "fetch error recorded")
}

func TestUnsubscribeStopsRecording(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	Subscribe(bus, tp.Tracer("test"))()

	eventbus.Publish(context.Background(), events.FetchStart{ID: 1, Service: "a"})
	eventbus.Publish(context.Background(), events.FetchFinish{ID: 1, Service: "a"})
	require.Empty(t, rec.Ended())
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), eventbus.New(), "", "fedgate")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
