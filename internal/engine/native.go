package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bighogz/vibes-core/internal/anomaly"
	"github.com/bighogz/vibes-core/internal/telemetry"
	"github.com/bighogz/vibes-core/internal/trend"
)

// Native runs the computations in-process.
type Native struct{}

func NewNative() *Native {
	return &Native{}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Anomaly(ctx context.Context, req AnomalyRequest) (AnomalyResponse, error) {
	_, span := telemetry.Tracer().Start(ctx, "engine.native.anomaly")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(req.Records)))

	p, err := req.Validate()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return AnomalyResponse{}, err
	}
	signals := anomaly.ComputeSignals(req.Records, p)
	span.SetAttributes(
		attribute.Int("signals", len(signals)),
		attribute.Int("anomalies", len(anomaly.AnomalousTickers(signals))),
	)
	return AnomalyResponse{Signals: signals}, nil
}

func (n *Native) Trend(ctx context.Context, req TrendRequest) (TrendResponse, error) {
	_, span := telemetry.Tracer().Start(ctx, "engine.native.trend")
	defer span.End()
	span.SetAttributes(attribute.Int("closes", len(req.Closes)))

	t := trend.FromCloses(req.Closes)
	span.SetAttributes(attribute.Bool("trend", t != nil))
	return TrendResponse{Trend: t}, nil
}

func (n *Native) Close(context.Context) error { return nil }
