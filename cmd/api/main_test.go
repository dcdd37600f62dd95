package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bighogz/vibes-core/internal/cache"
	"github.com/bighogz/vibes-core/internal/engine"
	"github.com/bighogz/vibes-core/internal/models"
	"github.com/bighogz/vibes-core/internal/yahoo"
)

type fakeSource struct {
	tickerCalls int
}

func (f *fakeSource) GetSP500Tickers(context.Context) ([]string, error) {
	f.tickerCalls++
	return []string{"AAPL", "MSFT"}, nil
}

func (f *fakeSource) GetInsiderSells(_ context.Context, ticker string, _, _ models.Date) ([]models.InsiderSellRecord, error) {
	if ticker != "AAPL" {
		return nil, nil
	}
	name := "Jane"
	return []models.InsiderSellRecord{{
		Ticker:          "AAPL",
		TransactionDate: models.MustParseDate("2024-01-05"),
		SharesSold:      1000,
		InsiderName:     &name,
		Source:          "fake",
	}}, nil
}

type fakePrices struct{ n int }

func (f fakePrices) GetHistoricalRange(_ context.Context, _ string, from, _ models.Date) ([]yahoo.Bar, error) {
	bars := make([]yahoo.Bar, f.n)
	for i := range bars {
		bars[i] = yahoo.Bar{Date: from.AddDays(i), Close: 100 + 0.5*float64(i)}
	}
	return bars, nil
}

func newTestServer(t *testing.T, adminKey string) (*server, *fakeSource) {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	src := &fakeSource{}
	return &server{
		eng:         engine.NewNative(),
		src:         src,
		prices:      fakePrices{n: 65},
		store:       store,
		defaults:    defaults{BaselineDays: 365, CurrentDays: 30, StdThreshold: 2, MinBaselinePoints: 2},
		adminKey:    adminKey,
		scanLimiter: newIPLimiter(time.Hour, 1),
	}, src
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := do(t, s.routes(), http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["engine"] != "native" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing middleware headers: %v", rec.Header())
	}
}

func TestAnomalyEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	h := s.routes()
	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"records":[{"ticker":"AAPL","transaction_date":"2024-01-05","shares_sold":1000,"source":"t"}],"params":{"baseline_days":365,"current_days":30,"std_threshold":2,"min_baseline_points":2,"as_of":"2024-02-02"}}`, http.StatusOK},
		{"bad as_of", `{"records":[],"params":{"as_of":"02/02/2024"}}`, http.StatusBadRequest},
		{"malformed", `{"records":`, http.StatusBadRequest},
		{"oversized shares", `{"records":[{"ticker":"A","transaction_date":"2024-01-05","shares_sold":1e308,"source":"t"},{"ticker":"A","transaction_date":"2024-01-06","shares_sold":1e308,"source":"t"}],"params":{"as_of":"2024-02-02"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/anomaly", tt.body, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestTrendEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")
	h := s.routes()

	rec := do(t, h, http.MethodPost, "/api/trend", `{"closes":[1,2,3]}`, nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"trend":null}` {
		t.Errorf("POST /api/trend = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/trend/brk.b?as_of=2024-06-28", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/trend/{symbol} = %d %s", rec.Code, rec.Body)
	}
	var body struct {
		Symbol string `json:"symbol"`
		Points int    `json:"points"`
		Trend  *struct {
			Slope float64 `json:"slope"`
		} `json:"trend"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Symbol != "BRK-B" || body.Points != 65 || body.Trend == nil {
		t.Fatalf("body = %+v", body)
	}
	if d := body.Trend.Slope - 0.5; d > 1e-9 || d < -1e-9 {
		t.Errorf("slope = %v", body.Trend.Slope)
	}
}

func TestScanCachesResult(t *testing.T) {
	s, src := newTestServer(t, "secret")
	h := s.routes()
	auth := map[string]string{"X-Admin-Key": "secret"}
	target := "/api/scan?as_of=2024-02-02&limit=2"

	rec := do(t, h, http.MethodPost, target, "", auth)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first scan = %d %s %s", rec.Code, rec.Header().Get("X-Cache"), rec.Body)
	}
	var res struct {
		TickersCount int    `json:"tickers_count"`
		RecordsCount int    `json:"records_count"`
		AsOf         string `json:"as_of"`
		Params       struct {
			BaselineDays int `json:"baseline_days"`
		} `json:"params"`
		AllSignals []json.RawMessage `json:"all_signals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.TickersCount != 2 || res.RecordsCount != 1 || res.AsOf != "2024-02-02" || res.Params.BaselineDays != 365 || len(res.AllSignals) != 1 {
		t.Errorf("result = %+v", res)
	}

	rec = do(t, h, http.MethodPost, target, "", auth)
	if rec.Header().Get("X-Cache") != "HIT" || src.tickerCalls != 1 {
		t.Errorf("second scan cache=%s tickerCalls=%d", rec.Header().Get("X-Cache"), src.tickerCalls)
	}
	rec = do(t, h, http.MethodPost, target+"&refresh=true", "", auth)
	if rec.Header().Get("X-Cache") != "MISS" || src.tickerCalls != 2 {
		t.Errorf("refresh cache=%s tickerCalls=%d", rec.Header().Get("X-Cache"), src.tickerCalls)
	}

	rec = do(t, h, http.MethodGet, "/api/scan/meta", "", nil)
	var meta map[string]*string
	json.Unmarshal(rec.Body.Bytes(), &meta)
	if meta["last_updated"] == nil {
		t.Errorf("meta = %s", rec.Body)
	}
}

func TestScanGuards(t *testing.T) {
	t.Run("admin key", func(t *testing.T) {
		s, _ := newTestServer(t, "secret")
		h := s.routes()
		for _, hdr := range []map[string]string{nil, {"X-Admin-Key": "wrong"}, {"Authorization": "Bearer nope"}} {
			if rec := do(t, h, http.MethodPost, "/api/scan?as_of=2024-02-02", "", hdr); rec.Code != http.StatusUnauthorized {
				t.Errorf("headers %v: status = %d", hdr, rec.Code)
			}
		}
		if rec := do(t, h, http.MethodPost, "/api/scan?as_of=2024-02-02", "", map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusOK {
			t.Errorf("bearer: status = %d", rec.Code)
		}
	})
	t.Run("rate limit", func(t *testing.T) {
		s, _ := newTestServer(t, "")
		h := s.routes()
		hdr := map[string]string{"X-Forwarded-For": "203.0.113.7"}
		if rec := do(t, h, http.MethodPost, "/api/scan?as_of=2024-02-02", "", hdr); rec.Code != http.StatusOK {
			t.Fatalf("first: status = %d", rec.Code)
		}
		if rec := do(t, h, http.MethodPost, "/api/scan?as_of=2024-02-02", "", hdr); rec.Code != http.StatusTooManyRequests {
			t.Errorf("second: status = %d", rec.Code)
		}
	})
	t.Run("forwarded for ignored without trusted proxy", func(t *testing.T) {
		s, _ := newTestServer(t, "")
		h := s.routes()
		if rec := do(t, h, http.MethodPost, "/api/scan?as_of=2024-02-02", "", map[string]string{"X-Forwarded-For": "198.51.100.1"}); rec.Code != http.StatusOK {
			t.Fatalf("first: status = %d", rec.Code)
		}
		if rec := do(t, h, http.MethodPost, "/api/scan?as_of=2024-02-02", "", map[string]string{"X-Forwarded-For": "198.51.100.2"}); rec.Code != http.StatusTooManyRequests {
			t.Errorf("rotated header: status = %d", rec.Code)
		}
	})
	t.Run("forwarded for behind trusted proxy", func(t *testing.T) {
		s, _ := newTestServer(t, "")
		s.trustProxy = true
		h := s.routes()
		for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
			if rec := do(t, h, http.MethodPost, "/api/scan?as_of=2024-02-02", "", map[string]string{"X-Forwarded-For": ip}); rec.Code != http.StatusOK {
				t.Errorf("%s: status = %d", ip, rec.Code)
			}
		}
	})
	t.Run("bad as_of", func(t *testing.T) {
		s, _ := newTestServer(t, "secret")
		rec := do(t, s.routes(), http.MethodPost, "/api/scan?as_of=yesterday", "", map[string]string{"X-Admin-Key": "secret"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestScanOptionsClamp(t *testing.T) {
	s, _ := newTestServer(t, "")
	tests := []struct {
		query     string
		baseline  int
		current   int
		threshold float64
		limit     int
	}{
		{"", 365, 30, 2, 0},
		{"baseline_days=5&current_days=500&std_threshold=9", 30, 90, 5, 0},
		{"baseline_days=x&std_threshold=0.1&limit=9999", 365, 30, 1, 600},
		{"std_threshold=NaN", 365, 30, 2, 0},
		{"std_threshold=-Inf", 365, 30, 2, 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/scan?as_of=2024-02-02&"+tt.query, nil)
		o, err := s.scanOptions(req)
		if err != nil {
			t.Fatal(err)
		}
		p := o.Params
		if p.BaselineDays != tt.baseline || p.CurrentDays != tt.current || p.StdThreshold != tt.threshold || o.Limit != tt.limit {
			t.Errorf("%q: got %+v limit %d", tt.query, p, o.Limit)
		}
	}

	s.freeTier = true
	o, _ := s.scanOptions(httptest.NewRequest(http.MethodPost, "/api/scan", nil))
	if o.Limit != 25 {
		t.Errorf("free tier default limit = %d", o.Limit)
	}
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(time.Hour, 2)
	if !l.allow("a") || !l.allow("a") || l.allow("a") {
		t.Error("burst of 2 not enforced")
	}
	if !l.allow("b") {
		t.Error("limiter shared across keys")
	}
}

func TestIPLimiterBounded(t *testing.T) {
	l := newIPLimiter(time.Hour, 1)
	l.maxSize = 3
	for i := 0; i < 50; i++ {
		l.allow(fmt.Sprintf("10.0.0.%d", i))
		if len(l.visitors) > l.maxSize {
			t.Fatalf("visitors = %d after %d keys", len(l.visitors), i+1)
		}
	}
	if _, ok := l.visitors["10.0.0.49"]; !ok {
		t.Error("newest visitor evicted")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(r, false); got != "192.0.2.10" {
		t.Errorf("untrusted = %s", got)
	}
	if got := clientIP(r, true); got != "203.0.113.9" {
		t.Errorf("trusted = %s", got)
	}
}
