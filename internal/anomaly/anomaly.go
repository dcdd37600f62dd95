// Package anomaly flags tickers whose recent insider selling deviates from
// their own historical baseline.
package anomaly

import (
	"math"
	"sort"

	"github.com/bighogz/vibes-core/internal/models"
)

type Params struct {
	BaselineDays      int
	CurrentDays       int
	StdThreshold      float64
	MinBaselinePoints int
	AsOf              models.Date
}

type AnomalySignal struct {
	Ticker            string  `json:"ticker"`
	CurrentSharesSold float64 `json:"current_shares_sold"`
	BaselineMean      float64 `json:"baseline_mean"`
	BaselineStd       float64 `json:"baseline_std"`
	ZScore            float64 `json:"z_score"`
	IsAnomaly         bool    `json:"is_anomaly"`
}

// Windows holds the two date ranges derived from Params.
// Current is [CurrentStart, AsOf], baseline is [BaselineStart, BaselineEnd).
type Windows struct {
	BaselineStart models.Date
	BaselineEnd   models.Date
	CurrentStart  models.Date
	AsOf          models.Date
}

func (p Params) Windows() Windows {
	currentStart := p.AsOf.AddDays(-p.CurrentDays)
	baselineEnd := p.AsOf.AddDays(-p.CurrentDays)
	return Windows{
		BaselineStart: baselineEnd.AddDays(-p.BaselineDays),
		BaselineEnd:   baselineEnd,
		CurrentStart:  currentStart,
		AsOf:          p.AsOf,
	}
}

func (w Windows) InBaseline(d models.Date) bool {
	return !d.Before(w.BaselineStart.Time) && d.Before(w.BaselineEnd.Time)
}

func (w Windows) InCurrent(d models.Date) bool {
	return !d.Before(w.CurrentStart.Time) && !d.After(w.AsOf.Time)
}

// CurrentDays is the length of the current window, floored at 1.
func (w Windows) CurrentDays() int {
	return max(1, w.AsOf.DaysSince(w.CurrentStart))
}

// ComputeSignals compares each ticker's average daily selling in the current
// window with the distribution of its daily totals in the baseline window.
//
// Signals come back ordered by z-score, highest first. NaN z-scores sort
// last and equal scores keep ascending ticker order.
func ComputeSignals(records []models.InsiderSellRecord, p Params) []AnomalySignal {
	daily := DailyTotals(records)
	if len(daily) == 0 {
		return []AnomalySignal{}
	}
	w := p.Windows()
	numDays := float64(w.CurrentDays())

	tickers := make([]string, 0, len(daily))
	for t := range daily {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	results := make([]AnomalySignal, 0, len(tickers))
	for _, ticker := range tickers {
		byDate := daily[ticker]
		var baselineTotals []float64
		var currentTotal float64
		for _, dt := range byDate.SortedDates() {
			shares := byDate[dt]
			if w.InBaseline(dt) {
				baselineTotals = append(baselineTotals, shares)
			}
			if w.InCurrent(dt) {
				currentTotal += shares
			}
		}

		sig := AnomalySignal{Ticker: ticker, CurrentSharesSold: currentTotal}
		if len(baselineTotals) < p.MinBaselinePoints {
			results = append(results, sig)
			continue
		}
		meanB, stdB := meanStd(baselineTotals)
		currentAvgDaily := currentTotal / numDays
		z := (currentAvgDaily - meanB) / safeDivisor(stdB, stdEpsilon)
		sig.BaselineMean = meanB
		sig.BaselineStd = stdB
		sig.ZScore = z
		sig.IsAnomaly = z >= p.StdThreshold && currentTotal > 0
		results = append(results, sig)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return zScoreBefore(results[i].ZScore, results[j].ZScore)
	})
	return results
}

func zScoreBefore(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a > b
}

// AnomalousTickers returns the flagged tickers in signal order.
func AnomalousTickers(signals []AnomalySignal) []string {
	out := make([]string, 0)
	for _, s := range signals {
		if s.IsAnomaly {
			out = append(out, s.Ticker)
		}
	}
	return out
}
