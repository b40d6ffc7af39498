package tracing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "smr"
	ServiceVersion = "1.0.0"
)

// Tracer holds the tracer instance
type Tracer struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewTracer creates a tracer and installs it as the global provider
func NewTracer(serviceName, collectorEndpoint string, useOTLP bool) (*Tracer, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(ServiceVersion),
	)

	var exp sdktrace.SpanExporter
	var err error

	if useOTLP {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(collectorEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		exp, err = otlptrace.New(context.Background(), client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	} else {
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{
		tracer: tp.Tracer(serviceName),
		tp:     tp,
	}, nil
}

// StartSpan starts a new span with the provided name
func (t *Tracer) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// Shutdown flushes and stops the trace provider
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.tp.Shutdown(ctx)
}

// StartStage starts a span for one pipeline stage of an upload. It uses the
// global provider, so it is a no-op until NewTracer has run.
func StartStage(ctx context.Context, stage string, uploadID int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{
		attribute.String("component", "pipeline"),
		attribute.String("smr.stage", stage),
	}, attrs...)
	if uploadID != 0 {
		all = append(all, attribute.Int64("smr.upload_id", uploadID))
	}
	return otel.Tracer(ServiceName).Start(ctx, "smr."+stage, trace.WithAttributes(all...))
}

// StartJob starts a consumer span for a queued task
func StartJob(ctx context.Context, jobID, queue, jobType string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(ServiceName).Start(ctx, "job."+jobType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(JobProcessingTracingAttrs(jobID, queue, jobType, attempt)...))
}

// AddAttributes adds attributes to the current span
func AddAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.SetAttributes(attrs...)
	}
}

// SetSpanError marks the current span as having an error
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// JobProcessingTracingAttrs returns common attributes for job processing operations
func JobProcessingTracingAttrs(jobID, queue, jobType string, attempt int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("component", "job.processing"),
	}
	if jobID != "" {
		attrs = append(attrs, attribute.String("job.id", jobID))
	}
	if queue != "" {
		attrs = append(attrs, attribute.String("job.queue", queue))
	}
	if jobType != "" {
		attrs = append(attrs, attribute.String("job.type", jobType))
	}
	attrs = append(attrs, attribute.Int("job.attempt", attempt))
	return attrs
}

// FiberMiddleware starts a server span per request and stores it in the user context
func FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		carrier := propagation.HeaderCarrier{}
		c.Request().Header.VisitAll(func(k, v []byte) {
			carrier.Set(string(k), string(v))
		})
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), carrier)

		ctx, span := otel.Tracer(ServiceName).Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("component", "http"),
				attribute.String("http.method", c.Method()),
				attribute.String("http.target", c.OriginalURL()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		err := c.Next()

		span.SetAttributes(
			attribute.String("http.route", c.Route().Path),
			attribute.Int("http.status_code", c.Response().StatusCode()),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
