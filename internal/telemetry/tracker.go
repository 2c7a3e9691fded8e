// Package telemetry records spans, metrics and auth events for outbound calls to the directory service.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "userdesk/client"

// Tracker wraps outbound calls in spans and records request count, duration and errors.
// A nil *Tracker is valid and records nothing.
type Tracker struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewTracker creates the instruments on the given providers.
func NewTracker(tp trace.TracerProvider, mp metric.MeterProvider) (*Tracker, error) {
	meter := mp.Meter(instrumentationName)
	requests, err := meter.Int64Counter(
		"userdesk.client.request.count",
		metric.WithDescription("Outbound requests to the directory service"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"userdesk.client.request.duration",
		metric.WithDescription("Outbound request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}
	errCount, err := meter.Int64Counter(
		"userdesk.client.error.count",
		metric.WithDescription("Outbound requests that did not succeed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	return &Tracker{
		tracer:   tp.Tracer(instrumentationName),
		requests: requests,
		duration: duration,
		errors:   errCount,
	}, nil
}

// Call is one tracked outbound request. End must be called exactly once.
type Call struct {
	t     *Tracker
	ctx   context.Context
	span  trace.Span
	op    string
	start time.Time
}

// Start opens a span named op. The returned context carries the span.
func (t *Tracker) Start(ctx context.Context, op, method, path string) (context.Context, *Call) {
	if t == nil {
		return ctx, nil
	}
	ctx, span := t.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)
	return ctx, &Call{t: t, ctx: ctx, span: span, op: op, start: time.Now()}
}

// End records status (0 when no response was received) and the outcome label.
// failed marks the call as an error for metrics and span status.
func (c *Call) End(status int, outcome string, failed bool) {
	if c == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("op", c.op),
		attribute.String("outcome", outcome),
		attribute.Int("http.response.status_code", status),
	}
	c.t.requests.Add(c.ctx, 1, metric.WithAttributes(attrs...))
	c.t.duration.Record(c.ctx, float64(time.Since(c.start).Milliseconds()), metric.WithAttributes(attrs...))
	c.span.SetAttributes(attrs...)
	if failed {
		c.t.errors.Add(c.ctx, 1, metric.WithAttributes(attrs...))
		c.span.SetStatus(codes.Error, outcome)
	} else {
		c.span.SetStatus(codes.Ok, outcome)
	}
	c.span.End()
}
