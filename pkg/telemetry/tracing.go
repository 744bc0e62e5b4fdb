package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/bountyscan/bountyscan/pkg/duration"
)

// Tracer exports one span per pipeline run with child spans per stage.
// A nil Tracer is a no-op.
type Tracer struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// TracerOptions configures OTLP export.
type TracerOptions struct {
	// Endpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	Endpoint string

	// ServiceName is the service name for traces (default: "bountyscan").
	ServiceName string

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// NewTracer creates a tracer exporting to the configured OTLP endpoint.
// Connection failures surface here, before any scan starts.
func NewTracer(ctx context.Context, opts TracerOptions) (*Tracer, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "bountyscan"
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "localhost:4317"
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
	}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}

	connectCtx, cancel := context.WithTimeout(ctx, duration.HTTPCrawl)
	defer cancel()

	exporter, err := otlptracegrpc.New(connectCtx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		attribute.String("service.component", "pipeline"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &Tracer{
		tracerProvider: tp,
		tracer:         tp.Tracer("bountyscan/pipeline"),
	}, nil
}

// NewTracerFromProvider wraps an existing provider. Embedders and tests
// use this to supply their own exporter or span processors.
func NewTracerFromProvider(tp *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		tracerProvider: tp,
		tracer:         tp.Tracer("bountyscan/pipeline"),
	}
}

// StartRun opens the root span for a pipeline run.
func (t *Tracer) StartRun(ctx context.Context, runID, target, mode string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noopSpan(ctx)
	}
	return t.tracer.Start(ctx, "bountyscan.run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("target", target),
			attribute.String("mode", mode),
		),
	)
}

// StartStage opens a child span for one pipeline stage.
func (t *Tracer) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noopSpan(ctx)
	}
	return t.tracer.Start(ctx, "bountyscan.stage."+stage)
}

// EndRun closes the root span with a terminal status.
func (t *Tracer) EndRun(span trace.Span, failed bool, reason string) {
	if failed {
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetStatus(codes.Ok, "completed")
	}
	span.End()
}

// Close flushes pending telemetry and shuts down the provider.
func (t *Tracer) Close() error {
	if t == nil || t.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

func noopSpan(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
