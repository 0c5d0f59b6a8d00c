package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracing correlates the planning pipeline end to end: one optimization
// request fans out into forecast, evaluation, and validation spans per
// candidate.

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName          string
	ServiceVersion       string
	Environment          string
	CollectorEndpoint    string
	CollectorInsecure    bool
	SamplingRate         float64 // 0.0 to 1.0 (1.0 = always sample)
	MaxEventsPerSpan     int
	MaxAttributesPerSpan int
}

// DefaultConfig returns production defaults
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:          serviceName,
		ServiceVersion:       "0.1.0",
		Environment:          "production",
		CollectorEndpoint:    "localhost:4317",
		CollectorInsecure:    true, // Use TLS in production
		SamplingRate:         1.0,  // Sample all traces in dev
		MaxEventsPerSpan:     128,
		MaxAttributesPerSpan: 128,
	}
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("promoplan")
	}

	// Create OTLP exporter
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.CollectorEndpoint),
		otlptracegrpc.WithInsecure(), // Use WithTLSCredentials in production
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create tracer provider with sampling
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		sdktrace.WithSpanLimits(sdktrace.SpanLimits{
			EventCountLimit:     config.MaxEventsPerSpan,
			AttributeCountLimit: config.MaxAttributesPerSpan,
		}),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Set global propagator for context propagation
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	// Use context with timeout for shutdown
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan is a convenience wrapper for starting a span with common attributes
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)

	// Add attributes if provided
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return ctx, span
}

// RecordError records an error on a span with optional message
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}

	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span with optional attributes
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for the planning pipeline
const (
	// Forecast attributes
	AttrForecastStart   = attribute.Key("forecast.start")
	AttrForecastEnd     = attribute.Key("forecast.end")
	AttrForecastChannel = attribute.Key("forecast.channel")
	AttrForecastGapDays = attribute.Key("forecast.gap_days")

	// Scenario attributes
	AttrScenarioID   = attribute.Key("scenario.id")
	AttrScenarioType = attribute.Key("scenario.type")
	AttrMechanics    = attribute.Key("scenario.mechanics")

	// Model attributes
	AttrModelVersion = attribute.Key("model.version")
	AttrCoefficients = attribute.Key("model.coefficients")

	// Validation attributes
	AttrValidationStatus = attribute.Key("validation.status")
	AttrValidationScore  = attribute.Key("validation.score")

	// Optimizer attributes
	AttrCandidates         = attribute.Key("optimize.candidates")
	AttrCandidatesBlocked  = attribute.Key("optimize.candidates_blocked")
	AttrOptimizeTruncated  = attribute.Key("optimize.truncated")

	// Performance attributes
	AttrCacheHit  = attribute.Key("cache.hit")
	AttrLatencyMs = attribute.Key("latency.ms")
)

// Helper functions to create common attributes

func ForecastAttributes(start, end string, channel string, gapDays int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrForecastStart.String(start),
		AttrForecastEnd.String(end),
		AttrForecastChannel.String(channel),
		AttrForecastGapDays.Int(gapDays),
	}
}

func ScenarioAttributes(scenarioID, scenarioType, modelVersion string, mechanics int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrScenarioID.String(scenarioID),
		AttrScenarioType.String(scenarioType),
		AttrModelVersion.String(modelVersion),
		AttrMechanics.Int(mechanics),
	}
}

func ValidationAttributes(status string, score float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrValidationStatus.String(status),
		AttrValidationScore.Float64(score),
	}
}

func OptimizeAttributes(candidates, blocked int, truncated bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCandidates.Int(candidates),
		AttrCandidatesBlocked.Int(blocked),
		AttrOptimizeTruncated.Bool(truncated),
	}
}

func PerformanceAttributes(cacheHit bool, latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCacheHit.Bool(cacheHit),
		AttrLatencyMs.Float64(latencyMs),
	}
}
