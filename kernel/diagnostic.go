package kernel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type AppDiagnostic struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	RequestCounter  metric.Int64Counter
	ErrorCounter    metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

func (diag *AppDiagnostic) BeginTracing(ctx context.Context, spanName string) (trace.Span, context.Context) {
	ctx, span := diag.Tracer.Start(ctx, spanName)
	return span, ctx
}

func (diag *AppDiagnostic) setupCounters() error {
	var err error
	diag.RequestCounter, err = diag.Meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	if err != nil {
		return err
	}
	diag.ErrorCounter, err = diag.Meter.Int64Counter("http_errors_total",
		metric.WithDescription("HTTP requests answered with an error"))
	if err != nil {
		return err
	}
	diag.RequestDuration, err = diag.Meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"))
	return err
}
