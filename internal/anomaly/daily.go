package anomaly

import (
	"sort"
	"strings"

	"github.com/bighogz/vibes-core/internal/models"
)

type dailyVolume struct {
	ticker string
	date   models.Date
	shares float64
}

// TickerDailyTotals maps a calendar day to the shares sold that day.
type TickerDailyTotals map[models.Date]float64

// SortedDates returns the days in ascending order.
func (t TickerDailyTotals) SortedDates() []models.Date {
	dates := make([]models.Date, 0, len(t))
	for d := range t {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j].Time) })
	return dates
}

// DailyTotals sums shares sold per upper-cased ticker and transaction day.
// Several records on the same day are additive.
func DailyTotals(records []models.InsiderSellRecord) map[string]TickerDailyTotals {
	out := make(map[string]TickerDailyTotals)
	for _, d := range dailyVolumeByTicker(records) {
		byDate := out[d.ticker]
		if byDate == nil {
			byDate = make(TickerDailyTotals)
			out[d.ticker] = byDate
		}
		byDate[d.date] += d.shares
	}
	return out
}

func dailyVolumeByTicker(records []models.InsiderSellRecord) []dailyVolume {
	out := make([]dailyVolume, 0, len(records))
	for _, r := range records {
		out = append(out, dailyVolume{
			ticker: strings.ToUpper(r.Ticker),
			date:   models.NewDate(r.TransactionDate.Time),
			shares: r.SharesSold,
		})
	}
	return out
}
