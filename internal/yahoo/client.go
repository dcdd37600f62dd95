package yahoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bighogz/vibes-core/internal/httpclient"
	"github.com/bighogz/vibes-core/internal/models"
)

// User-Agent required: Yahoo blocks generic clients (401/429)
const yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const DefaultChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

type Client struct {
	ChartURL string
	HTTP     *httpclient.Client
}

func New() *Client {
	return &Client{ChartURL: DefaultChartURL, HTTP: httpclient.New(4)}
}

// ToYahooSymbol converts S&P 500 symbols to Yahoo format: BRK.B -> BRK-B
func ToYahooSymbol(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), ".", "-")
}

type Bar struct {
	Date  models.Date `json:"date"`
	Close float64     `json:"close"`
}

// GetHistoricalRange returns daily closes in [from, to], oldest first.
// Days Yahoo reports without a close are returned with Close 0 so the
// trend engine can discard them.
func (c *Client) GetHistoricalRange(ctx context.Context, ticker string, from, to models.Date) ([]Bar, error) {
	ticker = ToYahooSymbol(ticker)
	if ticker == "" {
		return nil, errors.New("yahoo: empty ticker")
	}
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.AddDays(1).Unix(), 10))
	u := c.ChartURL + "/" + url.PathEscape(ticker) + "?" + q.Encode()
	resp, err := c.HTTP.Get(ctx, u, http.Header{"User-Agent": {yahooUserAgent}})
	if err != nil {
		return nil, errors.Wrapf(err, "yahoo chart %s", ticker)
	}
	defer resp.Body.Close()
	var data struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Close []*float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, errors.Wrapf(err, "decode yahoo chart %s", ticker)
	}
	if data.Chart.Error != nil {
		return nil, errors.Errorf("yahoo chart %s: %s", ticker, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}
	r := data.Chart.Result[0]
	closes := r.Indicators.Quote[0].Close
	bars := make([]Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(closes) {
			break
		}
		b := Bar{Date: models.NewDate(time.Unix(ts, 0).UTC())}
		if closes[i] != nil {
			b.Close = *closes[i]
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date.Time) })
	return bars, nil
}

// Closes extracts the close column.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
