package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bighogz/vibes-core/internal/anomaly"
	"github.com/bighogz/vibes-core/internal/config"
	"github.com/bighogz/vibes-core/internal/engine"
	"github.com/bighogz/vibes-core/internal/fmp"
	"github.com/bighogz/vibes-core/internal/logging"
	"github.com/bighogz/vibes-core/internal/models"
	"github.com/bighogz/vibes-core/internal/scan"
	"github.com/bighogz/vibes-core/internal/telemetry"
)

type cliFlags struct {
	opts    scan.Options
	listAll bool
	csvPath string
}

func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	baselineDays := fs.Int("baseline-days", config.BaselineDays, "Days of history for baseline")
	currentDays := fs.Int("current-days", config.CurrentWindowDays, "Current window days")
	stdThreshold := fs.Float64("std-threshold", config.AnomalyStdThreshold, "Z-score threshold")
	minPoints := fs.Int("min-baseline-points", config.MinBaselinePoints, "Minimum baseline days with activity")
	asOfStr := fs.String("as-of", "", "As-of date YYYY-MM-DD (default today)")
	limit := fs.Int("limit", 0, "Scan only the first N tickers (0 = all)")
	listAll := fs.Bool("list-all-signals", false, "Print all signals")
	csvPath := fs.String("csv", "", "Write to CSV")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}

	asOf := models.NewDate(time.Now())
	if *asOfStr != "" {
		var err error
		if asOf, err = models.ParseDate(*asOfStr); err != nil {
			return cliFlags{}, fmt.Errorf("invalid -as-of: %w", err)
		}
	}
	if *limit < 0 {
		return cliFlags{}, fmt.Errorf("invalid -limit %d", *limit)
	}
	return cliFlags{
		opts: scan.Options{
			Params: anomaly.Params{
				BaselineDays:      *baselineDays,
				CurrentDays:       *currentDays,
				StdThreshold:      *stdThreshold,
				MinBaselinePoints: *minPoints,
				AsOf:              asOf,
			},
			Limit:    *limit,
			FreeTier: config.FMPFreeTier,
		},
		listAll: *listAll,
		csvPath: *csvPath,
	}, nil
}

func main() {
	config.Load()
	logging.Setup(config.LogLevel)

	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTracing, err := telemetry.Init(config.TraceStdout)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}
	defer shutdownTracing(context.Background())

	eng := engine.New(ctx, config.CoreWasmPath)
	defer eng.Close(context.Background())

	if config.FMPAPIKey == "" {
		log.Warn().Msg("FMP_API_KEY not set; no insider records will be fetched")
	}
	res, err := scan.Run(ctx, fmp.New(config.FMPAPIKey), eng, f.opts)
	if err != nil {
		log.Error().Err(err).Msg("scan failed")
		os.Exit(1)
	}

	printResult(os.Stdout, res, f.listAll)

	if f.csvPath != "" {
		if err := writeCSVFile(f.csvPath, res.AllSignals, f.listAll); err != nil {
			log.Error().Err(err).Str("path", f.csvPath).Msg("could not write CSV")
			os.Exit(1)
		}
		fmt.Printf("\nWrote %s.\n", f.csvPath)
	}
}

func printResult(w io.Writer, res *scan.Result, listAll bool) {
	fmt.Fprintf(w, "Scanned %d S&P 500 tickers, %d insider sell records from %s to %s (engine: %s).\n",
		res.TickersCount, res.RecordsCount, res.DateFrom, res.DateTo, res.Engine)

	if listAll {
		fmt.Fprintln(w, "\nAll signals (current window vs baseline):")
		if len(res.AllSignals) == 0 {
			fmt.Fprintln(w, "  (No data)")
		}
		for _, s := range res.AllSignals {
			fmt.Fprintf(w, "  %s  current=%.0f  mean=%.1f  std=%.1f  z=%.2f  anomaly=%v\n",
				s.Ticker, s.CurrentSharesSold, s.BaselineMean, s.BaselineStd, s.ZScore, s.IsAnomaly)
		}
		return
	}

	fmt.Fprintln(w, "\nAnomalous insider selling (above normal):")
	if len(res.Anomalies) == 0 {
		fmt.Fprintln(w, "  None detected.")
	}
	for _, s := range res.Anomalies {
		fmt.Fprintf(w, "  %s  current=%.0f  mean=%.1f  std=%.1f  z=%.2f\n",
			s.Ticker, s.CurrentSharesSold, s.BaselineMean, s.BaselineStd, s.ZScore)
		for _, ins := range res.TopInsiders[s.Ticker] {
			fmt.Fprintf(w, "      %s  %.0f shares on %s\n", ins.Name, ins.Shares, ins.Date)
		}
	}
}

func writeCSVFile(path string, signals []anomaly.AnomalySignal, listAll bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeCSV(f, signals, listAll); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCSV(out io.Writer, signals []anomaly.AnomalySignal, listAll bool) error {
	w := csv.NewWriter(out)
	w.Write([]string{"ticker", "current_shares_sold", "baseline_mean", "baseline_std", "z_score", "is_anomaly"})
	for _, s := range signals {
		if listAll || s.IsAnomaly {
			w.Write([]string{
				s.Ticker,
				fmt.Sprintf("%.0f", s.CurrentSharesSold),
				fmt.Sprintf("%.2f", s.BaselineMean),
				fmt.Sprintf("%.2f", s.BaselineStd),
				fmt.Sprintf("%.2f", s.ZScore),
				fmt.Sprintf("%v", s.IsAnomaly),
			})
		}
	}
	w.Flush()
	return w.Error()
}
