// Package otel turns gateway events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/fedgate/internal/dispatch"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/reqid"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers to bus.
// If endpoint is empty, no telemetry is configured.
func Setup(ctx context.Context, bus *eventbus.Bus, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Subscribe(bus, tp.Tracer("fedgate"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Subscribe records spans for gateway events published on bus.
//
// Span tree: http.request > graphql.operation > subgraph.fetch > grpc.client.
// HTTP and operation spans are keyed by request id, fetch and gRPC spans by
// fetch id.
func Subscribe(bus *eventbus.Bus, tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register(bus)
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	opSpans    sync.Map // rid -> trace.Span
	fetchSpans sync.Map // fetch id -> trace.Span
	grpcSpans  sync.Map // fetch id -> trace.Span
}

func (s *subscriber) parent(ctx context.Context, maps ...*sync.Map) context.Context {
	rid, _ := reqid.FromContext(ctx)
	for _, m := range maps {
		if v, ok := m.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(m *sync.Map, key any, fn func(trace.Span)) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	fn(span)
	span.End()
}

func (s *subscriber) register(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.HTTPStart) {
			_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
				attribute.String("request.id", e.RequestID),
			)
			s.httpSpans.Store(e.RequestID, span)
		}),
		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.HTTPFinish) {
			end(&s.httpSpans, e.RequestID, func(span trace.Span) {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
				if e.Status >= 500 {
					span.SetStatus(codes.Error, "")
				}
			})
		}),

		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.OperationStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, &s.httpSpans), "graphql.operation")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.signature", e.Signature),
			)
			s.opSpans.Store(rid, span)
		}),
		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.PlanLookup) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.opSpans.Load(rid); ok {
				v.(trace.Span).AddEvent("plan.lookup", trace.WithAttributes(
					attribute.String("plan.source", string(e.Source)),
					attribute.Int64("plan.duration_us", e.Duration.Microseconds()),
				))
			}
		}),
		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.OperationFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.opSpans, rid, func(span trace.Span) {
				span.SetAttributes(
					attribute.Int("graphql.error_count", e.Errors),
					attribute.Bool("graphql.no_data", e.NoData),
				)
				if e.NoData {
					span.SetStatus(codes.Error, "no data")
				}
			})
		}),

		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.FetchStart) {
			_, span := s.tracer.Start(s.parent(ctx, &s.opSpans, &s.httpSpans), "subgraph.fetch",
				trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				attribute.String("subgraph.name", e.Service),
				attribute.Int("subgraph.representations", e.Representations),
			)
			s.fetchSpans.Store(e.ID, span)
		}),
		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.FetchFinish) {
			end(&s.fetchSpans, e.ID, func(span trace.Span) {
				span.SetAttributes(
					attribute.Int("subgraph.error_count", e.Errors),
					attribute.Bool("subgraph.has_data", e.HasData),
					attribute.Bool("subgraph.timed_out", e.TimedOut),
				)
				if e.Err != nil {
					span.RecordError(e.Err)
					span.SetStatus(codes.Error, e.Err.Error())
				}
			})
		}),

		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.GRPCClientStart) {
			id, _ := dispatch.FetchID(ctx)
			parent := ctx
			if v, ok := s.fetchSpans.Load(id); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "grpc.client", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				semconv.RPCSystemGRPC,
				semconv.RPCServiceKey.String(e.Subgraph),
				semconv.RPCMethodKey.String(e.Method),
				attribute.String("net.peer.name", e.Target),
			)
			s.grpcSpans.Store(id, span)
		}),
		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.GRPCClientFinish) {
			id, _ := dispatch.FetchID(ctx)
			end(&s.grpcSpans, id, func(span trace.Span) {
				span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
				if e.Err != nil {
					span.RecordError(e.Err)
					span.SetStatus(codes.Error, e.Code.String())
				}
			})
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
