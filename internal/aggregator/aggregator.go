// Package aggregator collects insider sell records across a ticker set and
// summarizes them per ticker.
package aggregator

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bighogz/vibes-core/internal/fmp"
	"github.com/bighogz/vibes-core/internal/models"
)

// FreeTierTickerLimit caps per-ticker calls on FMP's free plan.
const FreeTierTickerLimit = 25

type InsiderSource interface {
	GetInsiderSells(ctx context.Context, ticker string, dateFrom, dateTo models.Date) ([]models.InsiderSellRecord, error)
}

// AggregateInsiderSells queries src for each ticker and then the latest
// market-wide feed, dropping duplicates. A failing ticker is logged and
// skipped. Context cancellation aborts the collection; a missing API key
// stops it with whatever was gathered.
func AggregateInsiderSells(ctx context.Context, src InsiderSource, tickers []string, dateFrom, dateTo models.Date, freeTier bool) ([]models.InsiderSellRecord, error) {
	seen := make(map[string]bool)
	all := make([]models.InsiderSellRecord, 0)
	add := func(recs []models.InsiderSellRecord) {
		for _, r := range recs {
			key := keyFor(r)
			if !seen[key] {
				seen[key] = true
				all = append(all, r)
			}
		}
	}

	limit := len(tickers)
	if freeTier && limit > FreeTierTickerLimit {
		limit = FreeTierTickerLimit
	}
	for _, t := range append(tickers[:limit:limit], "") {
		recs, err := src.GetInsiderSells(ctx, t, dateFrom, dateTo)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, fmp.ErrNoAPIKey) {
				log.Warn().Msg("no FMP API key; skipping insider sells")
				return all, nil
			}
			log.Warn().Err(err).Str("ticker", t).Msg("insider sells fetch failed")
			continue
		}
		add(recs)
	}
	return all, nil
}

func keyFor(r models.InsiderSellRecord) string {
	ins := ""
	if r.InsiderName != nil {
		ins = *r.InsiderName
	}
	return strings.ToUpper(r.Ticker) + "|" + r.TransactionDate.String() + "|" + ins + "|" + strconv.FormatFloat(r.SharesSold, 'g', -1, 64)
}

type TopInsider struct {
	Name   string   `json:"name"`
	Role   *string  `json:"role,omitempty"`
	Shares float64  `json:"shares"`
	Value  *float64 `json:"value,omitempty"`
	Date   string   `json:"date"`
}

// TopInsiders returns, per upper-cased ticker, the n largest sales by shares.
func TopInsiders(records []models.InsiderSellRecord, n int) map[string][]TopInsider {
	byTicker := make(map[string][]TopInsider)
	for _, r := range records {
		name := "Unknown"
		if r.InsiderName != nil {
			name = *r.InsiderName
		}
		t := strings.ToUpper(r.Ticker)
		byTicker[t] = append(byTicker[t], TopInsider{
			Name:   name,
			Role:   r.Role,
			Shares: r.SharesSold,
			Value:  r.ValueUSD,
			Date:   r.TransactionDate.String(),
		})
	}
	for t, lst := range byTicker {
		sort.SliceStable(lst, func(i, j int) bool { return lst[i].Shares > lst[j].Shares })
		if len(lst) > n {
			lst = lst[:n]
		}
		byTicker[t] = lst
	}
	return byTicker
}
