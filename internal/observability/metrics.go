// Package observability holds the service's OpenTelemetry instruments.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName identifies this service's meter.
const InstrumentationName = "mint/backend"

// Metrics groups the counters recorded by services and the poller.
type Metrics struct {
	ensemblesGenerated     metric.Int64Counter
	ensemblesPerGeneration metric.Int64Histogram
	runsSubmitted          metric.Int64Counter
	runsCompleted          metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	generated, err := meter.Int64Counter("mint.ensembles.generated",
		metric.WithDescription("Executable ensembles produced by regeneration"))
	if err != nil {
		return nil, err
	}
	perGeneration, err := meter.Int64Histogram("mint.ensembles.per_generation",
		metric.WithDescription("Ensemble set size per regeneration"))
	if err != nil {
		return nil, err
	}
	submitted, err := meter.Int64Counter("mint.runs.submitted",
		metric.WithDescription("Ensembles submitted to the ensemble manager"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("mint.runs.completed",
		metric.WithDescription("Runs that reached a terminal status"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		ensemblesGenerated:     generated,
		ensemblesPerGeneration: perGeneration,
		runsSubmitted:          submitted,
		runsCompleted:          completed,
	}, nil
}

// Default creates Metrics on the global meter provider.
func Default() (*Metrics, error) {
	return NewMetrics(otel.Meter(InstrumentationName))
}

// Noop returns Metrics that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

// EnsemblesGenerated records one regeneration of a model's ensemble set.
func (m *Metrics) EnsemblesGenerated(ctx context.Context, modelID string, added, total int) {
	attrs := metric.WithAttributes(attribute.String("model_id", modelID))
	m.ensemblesGenerated.Add(ctx, int64(added), attrs)
	m.ensemblesPerGeneration.Record(ctx, int64(total), attrs)
}

// RunsSubmitted records submitted ensembles.
func (m *Metrics) RunsSubmitted(ctx context.Context, modelID string, n int) {
	m.runsSubmitted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("model_id", modelID)))
}

// RunCompleted records a run reaching a terminal status.
func (m *Metrics) RunCompleted(ctx context.Context, modelID, status string) {
	m.runsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model_id", modelID),
		attribute.String("status", status),
	))
}
