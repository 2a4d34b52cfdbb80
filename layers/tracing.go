package layers

import (
	"context"

	"github.com/sagarc03/anystore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sagarc03/anystore/layers"

// Tracing starts an OpenTelemetry client span for every operation. Reader
// spans cover the reader from open to Close.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing creates the layer. A nil provider uses the global one.
func NewTracing(provider trace.TracerProvider) *Tracing {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracing{tracer: provider.Tracer(tracerName)}
}

func (t *Tracing) Layer(inner anystore.Accessor) anystore.Accessor {
	return observe(inner, t)
}

func (t *Tracing) begin(ctx context.Context, scheme string, op anystore.Operation, path string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "anystore."+op.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("anystore.backend", scheme),
			attribute.String("anystore.operation", op.String()),
			attribute.String("anystore.path", path),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(
				attribute.String("anystore.error.kind", outcome(err)),
				attribute.Bool("anystore.error.retryable", anystore.IsRetryable(err)),
			)
			span.SetStatus(codes.Error, outcome(err))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (t *Tracing) transferred(string, anystore.Operation, int) {}
