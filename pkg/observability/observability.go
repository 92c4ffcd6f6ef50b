package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC endpoint, e.g. "localhost:4317"
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns the worker's defaults: sample everything, flush
// every five seconds, secure transport.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "bomforge-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// Provider owns the trace and metric providers plus the pipeline's
// domain instruments. A disabled Provider (config.Enabled false, or a nil
// pointer) is safe to call; every record method no-ops.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	linesTotal       metric.Int64Counter
	enrichErrors     metric.Int64Counter
	supplierDuration metric.Float64Histogram
	activeWorkflows  metric.Int64UpDownCounter
	promotions       metric.Int64Counter
}

// New builds a Provider and installs it as the process-global OTel
// provider pair.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("bomforge.component", "enrichment-worker"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init traces: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	p.tracer = otel.Tracer("bomforge.enrichment",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("bomforge.enrichment",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initPipelineInstruments(); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initPipelineInstruments() error {
	var err error

	p.linesTotal, err = p.meter.Int64Counter("bomforge.enrichment.lines",
		metric.WithDescription("BOM line items processed, by terminal line status"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return err
	}

	p.enrichErrors, err = p.meter.Int64Counter("bomforge.enrichment.errors",
		metric.WithDescription("Classified errors raised during enrichment"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.supplierDuration, err = p.meter.Float64Histogram("bomforge.supplier.call.duration",
		metric.WithDescription("Supplier search latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	p.activeWorkflows, err = p.meter.Int64UpDownCounter("bomforge.workflows.active",
		metric.WithDescription("Enrichment workflows currently running on this worker"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return err
	}

	p.promotions, err = p.meter.Int64Counter("bomforge.catalog.promotions",
		metric.WithDescription("Component promotions, by route (production, staging, rejected)"),
		metric.WithUnit("{component}"),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the pipeline tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer("bomforge.enrichment")
	}
	return p.tracer
}

// StartSpan opens a span on the pipeline tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordLine counts one line item reaching a terminal status.
func (p *Provider) RecordLine(ctx context.Context, attrs ...attribute.KeyValue) {
	if p == nil || p.linesTotal == nil {
		return
	}
	p.linesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordError counts a classified enrichment error.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p == nil || p.enrichErrors == nil {
		return
	}
	all := append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
	p.enrichErrors.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordSupplierCall records one supplier search's latency.
func (p *Provider) RecordSupplierCall(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p == nil || p.supplierDuration == nil {
		return
	}
	p.supplierDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPromotion counts a routing decision from the promotion table.
func (p *Provider) RecordPromotion(ctx context.Context, attrs ...attribute.KeyValue) {
	if p == nil || p.promotions == nil {
		return
	}
	p.promotions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// TrackWorkflow bumps the active-workflow gauge and opens a workflow span;
// the returned func records the outcome and closes both.
func (p *Provider) TrackWorkflow(ctx context.Context, bomID string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(attrs, AttrBOMID.String(bomID))

	ctx, span := p.StartSpan(ctx, "enrichment.workflow",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p != nil && p.activeWorkflows != nil {
		p.activeWorkflows.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if p != nil && p.activeWorkflows != nil {
			p.activeWorkflows.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			p.RecordError(ctx, err, attrs...)
		}
		span.SetAttributes(attribute.Float64("bomforge.workflow.duration_s", time.Since(start).Seconds()))
		span.End()
	}
}
