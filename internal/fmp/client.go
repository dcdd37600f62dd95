// Package fmp reads S&P 500 constituents and insider trades from
// Financial Modeling Prep.
package fmp

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bighogz/vibes-core/internal/httpclient"
	"github.com/bighogz/vibes-core/internal/models"
	"github.com/bighogz/vibes-core/internal/sp500"
)

const DefaultBaseURL = "https://financialmodelingprep.com/stable"

// ErrNoAPIKey is returned by calls that need a key when none is configured.
var ErrNoAPIKey = errors.New("fmp: no API key")

type Client struct {
	APIKey  string
	BaseURL string
	CSVURL  string
	HTTP    *httpclient.Client
}

func New(apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: DefaultBaseURL,
		CSVURL:  sp500.CSVURL,
		HTTP:    httpclient.New(5),
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (interface{}, error) {
	if c.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	params.Set("apikey", c.APIKey)
	resp, err := c.HTTP.Get(ctx, c.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fmp %s", path)
	}
	defer resp.Body.Close()
	var data interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, errors.Wrapf(err, "decode fmp %s", path)
	}
	if m, ok := data.(map[string]interface{}); ok {
		if msg, ok := m["Error Message"].(string); ok && msg != "" {
			return nil, errors.Errorf("fmp %s: %s", path, msg)
		}
	}
	return data, nil
}

// GetSP500Tickers lists constituents from FMP, falling back to the public CSV.
func (c *Client) GetSP500Tickers(ctx context.Context) ([]string, error) {
	data, err := c.get(ctx, "/sp500-constituent", url.Values{})
	if err == nil {
		out := make([]string, 0)
		for _, m := range items(data) {
			if sym := strings.TrimSpace(str(m["symbol"])); sym != "" {
				out = append(out, sym)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	} else if !errors.Is(err, ErrNoAPIKey) {
		log.Warn().Err(err).Msg("fmp constituents failed; using public csv")
	}
	companies, err := sp500.Load(ctx, c.HTTP, c.CSVURL)
	if err != nil {
		return nil, err
	}
	return sp500.Symbols(companies), nil
}

// GetInsiderSells returns sell-side insider trades for ticker (or the latest
// feed when ticker is empty) with transaction dates in [dateFrom, dateTo].
func (c *Client) GetInsiderSells(ctx context.Context, ticker string, dateFrom, dateTo models.Date) ([]models.InsiderSellRecord, error) {
	params := url.Values{}
	params.Set("page", "0")
	params.Set("limit", "100")
	path := "/insider-trading/latest"
	if ticker != "" {
		params.Set("symbol", ticker)
		path = "/insider-trading/search"
	}
	data, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	return parseInsiderSells(items(data), ticker, dateFrom, dateTo), nil
}

func items(data interface{}) []map[string]interface{} {
	var raw []interface{}
	switch v := data.(type) {
	case []interface{}:
		raw = v
	case map[string]interface{}:
		for _, k := range []string{"data", "insider_trading"} {
			if d, ok := v[k].([]interface{}); ok && len(d) > 0 {
				raw = d
				break
			}
		}
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, it := range raw {
		if m, ok := it.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func parseInsiderSells(rows []map[string]interface{}, ticker string, dateFrom, dateTo models.Date) []models.InsiderSellRecord {
	records := make([]models.InsiderSellRecord, 0)
	for _, m := range rows {
		if !isSell(m) {
			continue
		}
		tickerSym := strings.TrimSpace(strOr(m["symbol"], m["ticker"]))
		if tickerSym == "" {
			tickerSym = ticker
		}
		if tickerSym == "" {
			continue
		}
		txDate, err := models.ParseDate(strOr(m["transactionDate"], m["periodOfReport"], m["filingDate"]))
		if err != nil {
			continue
		}
		if !dateFrom.IsZero() && txDate.Before(dateFrom.Time) {
			continue
		}
		if !dateTo.IsZero() && txDate.After(dateTo.Time) {
			continue
		}
		shares := toFloat(m["securitiesTransacted"], m["numberOfShares"], m["shares"])
		if !(shares > 0 && shares <= models.MaxSharesSold) {
			continue
		}
		rec := models.InsiderSellRecord{
			Ticker:          strings.ToUpper(tickerSym),
			TransactionDate: txDate,
			SharesSold:      shares,
			Source:          "fmp",
		}
		if v := toFloat(m["value"], m["valueUsd"]); v > 0 {
			rec.ValueUSD = &v
		} else if p := toFloat(m["price"]); p > 0 {
			v := p * shares
			rec.ValueUSD = &v
		}
		if fd, err := models.ParseDate(strOr(m["filingDate"], m["filedAt"])); err == nil {
			rec.FilingDate = &fd
		}
		rec.CompanyName = optional(strOr(m["companyName"]))
		rec.InsiderName = optional(strOr(m["reportingName"], m["reportingOwner"]))
		rec.Role = optional(strOr(m["typeOfOwner"]))
		records = append(records, rec)
	}
	return records
}

func isSell(m map[string]interface{}) bool {
	transType := strings.ToUpper(str(m["transactionType"]) + str(m["type"]))
	acqDisp := strings.ToUpper(str(m["acquisitionOrDisposition"]) + str(m["acquiredDisposedCode"]))
	return transType == "S" || transType == "D" || acqDisp == "D" ||
		strings.HasPrefix(transType, "S-") ||
		strings.Contains(strings.ToLower(str(m["transactionType"])), "sale")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func str(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]interface{}:
		if n, ok := x["name"].(string); ok {
			return n
		}
	}
	return ""
}

func strOr(vals ...interface{}) string {
	for _, v := range vals {
		if s := str(v); s != "" {
			return s
		}
	}
	return ""
}

func toFloat(vals ...interface{}) float64 {
	for _, v := range vals {
		switch x := v.(type) {
		case float64:
			return x
		case string:
			if f, err := strconv.ParseFloat(strings.ReplaceAll(x, ",", ""), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
