// Package scan runs one end-to-end anomaly scan: constituents, insider
// sells for the combined window, the engine, and a per-ticker summary.
package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bighogz/vibes-core/internal/aggregator"
	"github.com/bighogz/vibes-core/internal/anomaly"
	"github.com/bighogz/vibes-core/internal/engine"
	"github.com/bighogz/vibes-core/internal/telemetry"
)

// TopInsidersPerTicker is how many sellers each ticker's summary keeps.
const TopInsidersPerTicker = 5

var ErrNoTickers = errors.New("could not load S&P 500 constituents")

type Source interface {
	aggregator.InsiderSource
	GetSP500Tickers(ctx context.Context) ([]string, error)
}

type Options struct {
	Params anomaly.Params
	// Limit caps the ticker set; 0 scans every constituent.
	Limit    int
	FreeTier bool
}

type ParamsSummary struct {
	BaselineDays      int     `json:"baseline_days"`
	CurrentDays       int     `json:"current_days"`
	StdThreshold      float64 `json:"std_threshold"`
	MinBaselinePoints int     `json:"min_baseline_points"`
}

type Result struct {
	TickersCount   int                                `json:"tickers_count"`
	RecordsCount   int                                `json:"records_count"`
	AnomaliesCount int                                `json:"anomalies_count"`
	DateFrom       string                             `json:"date_from"`
	DateTo         string                             `json:"date_to"`
	AsOf           string                             `json:"as_of"`
	Engine         string                             `json:"engine"`
	Params         ParamsSummary                      `json:"params"`
	Anomalies      []anomaly.AnomalySignal            `json:"anomalies"`
	AllSignals     []anomaly.AnomalySignal            `json:"all_signals"`
	TopInsiders    map[string][]aggregator.TopInsider `json:"top_insiders"`
}

// CacheKey identifies the result a set of options produces.
func CacheKey(o Options) string {
	p := o.Params
	return fmt.Sprintf("scan|%s|%d|%d|%g|%d|%d|%t",
		p.AsOf, p.BaselineDays, p.CurrentDays, p.StdThreshold, p.MinBaselinePoints, o.Limit, o.FreeTier)
}

func Run(ctx context.Context, src Source, eng engine.Engine, o Options) (*Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "scan.run")
	defer span.End()

	res, err := run(ctx, src, eng, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("tickers", res.TickersCount),
		attribute.Int("records", res.RecordsCount),
		attribute.Int("anomalies", res.AnomaliesCount),
	)
	return res, nil
}

func run(ctx context.Context, src Source, eng engine.Engine, o Options) (*Result, error) {
	tickers, err := src.GetSP500Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTickers, err)
	}
	if len(tickers) == 0 {
		return nil, ErrNoTickers
	}
	if o.Limit > 0 && o.Limit < len(tickers) {
		tickers = tickers[:o.Limit]
	}

	p := o.Params
	dateFrom := p.AsOf.AddDays(-(p.BaselineDays + p.CurrentDays))
	dateTo := p.AsOf
	log.Info().Int("tickers", len(tickers)).Str("from", dateFrom.String()).Str("to", dateTo.String()).Msg("collecting insider sells")

	records, err := aggregator.AggregateInsiderSells(ctx, src, tickers, dateFrom, dateTo, o.FreeTier)
	if err != nil {
		return nil, err
	}
	resp, err := eng.Anomaly(ctx, engine.NewAnomalyRequest(records, p))
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", eng.Name(), err)
	}

	signals := resp.Signals
	if signals == nil {
		signals = []anomaly.AnomalySignal{}
	}
	anomalies := make([]anomaly.AnomalySignal, 0)
	for _, s := range signals {
		if s.IsAnomaly {
			anomalies = append(anomalies, s)
		}
	}
	return &Result{
		TickersCount:   len(tickers),
		RecordsCount:   len(records),
		AnomaliesCount: len(anomalies),
		DateFrom:       dateFrom.String(),
		DateTo:         dateTo.String(),
		AsOf:           p.AsOf.String(),
		Engine:         eng.Name(),
		Params: ParamsSummary{
			BaselineDays:      p.BaselineDays,
			CurrentDays:       p.CurrentDays,
			StdThreshold:      p.StdThreshold,
			MinBaselinePoints: p.MinBaselinePoints,
		},
		Anomalies:   anomalies,
		AllSignals:  signals,
		TopInsiders: aggregator.TopInsiders(records, TopInsidersPerTicker),
	}, nil
}
