package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/bighogz/vibes-core/internal/anomaly"
	"github.com/bighogz/vibes-core/internal/cache"
	"github.com/bighogz/vibes-core/internal/engine"
	"github.com/bighogz/vibes-core/internal/models"
	"github.com/bighogz/vibes-core/internal/scan"
	"github.com/bighogz/vibes-core/internal/yahoo"
)

const maxBodyBytes = 10 << 20

// trendLookbackDays is how much price history /api/trend/{symbol} fetches.
const trendLookbackDays = 365

type priceSource interface {
	GetHistoricalRange(ctx context.Context, ticker string, from, to models.Date) ([]yahoo.Bar, error)
}

// defaults holds the scan parameters used when a query omits them.
type defaults struct {
	BaselineDays      int
	CurrentDays       int
	StdThreshold      float64
	MinBaselinePoints int
}

type server struct {
	eng         engine.Engine
	src         scan.Source
	prices      priceSource
	store       *cache.Store
	defaults    defaults
	freeTier    bool
	adminKey    string
	scanLimiter *ipLimiter
	trustProxy  bool
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(accessLog, securityHeaders)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/anomaly", s.handleAnomaly).Methods(http.MethodPost)
	api.HandleFunc("/trend", s.handleTrend).Methods(http.MethodPost)
	api.HandleFunc("/trend/{symbol}", s.handleTrendSymbol).Methods(http.MethodGet)
	api.HandleFunc("/scan", adminOrRateLimit(s.adminKey, s.scanLimiter, s.trustProxy, s.handleScan)).Methods(http.MethodPost)
	api.HandleFunc("/scan/meta", s.handleScanMeta).Methods(http.MethodGet)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": s.eng.Name()})
}

func (s *server) handleAnomaly(w http.ResponseWriter, r *http.Request) {
	req, err := engine.DecodeAnomalyRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.eng.Anomaly(r.Context(), req)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *server) handleTrend(w http.ResponseWriter, r *http.Request) {
	req, err := engine.DecodeTrendRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.eng.Trend(r.Context(), req)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *server) handleTrendSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(mux.Vars(r)["symbol"])
	asOf, err := asOfParam(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	bars, err := s.prices.GetHistoricalRange(ctx, symbol, asOf.AddDays(-trendLookbackDays), asOf)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID(r.Context())).Str("symbol", symbol).Msg("price history fetch failed")
		respondWithError(w, http.StatusBadGateway, "could not fetch price history")
		return
	}
	resp, err := s.eng.Trend(ctx, engine.TrendRequest{Closes: yahoo.Closes(bars)})
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": yahoo.ToYahooSymbol(symbol),
		"as_of":  asOf.String(),
		"points": len(bars),
		"trend":  resp.Trend,
	})
}

func (s *server) handleScan(w http.ResponseWriter, r *http.Request) {
	opts, err := s.scanOptions(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := scan.CacheKey(opts)
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if s.store != nil && !refresh {
		payload, _, ok, err := s.store.Read(r.Context(), key, false)
		if err != nil {
			log.Warn().Err(err).Msg("scan cache read failed")
		} else if ok {
			w.Header().Set("X-Cache", "HIT")
			respondWithPayload(w, http.StatusOK, payload)
			return
		}
	}

	res, err := scan.Run(r.Context(), s.src, s.eng, opts)
	if errors.Is(err, scan.ErrNoTickers) {
		respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":         "Could not load S&P 500 constituents",
			"tickers_count": 0,
		})
		return
	}
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "encode scan result")
		return
	}
	if s.store != nil {
		if err := s.store.Write(r.Context(), key, payload); err != nil {
			log.Warn().Err(err).Msg("scan cache write failed")
		}
	}
	w.Header().Set("X-Cache", "MISS")
	respondWithPayload(w, http.StatusOK, payload)
}

func (s *server) handleScanMeta(w http.ResponseWriter, r *http.Request) {
	var last *string
	if s.store != nil {
		t, err := s.store.CachedAt(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("scan cache meta failed")
		}
		if t != nil {
			formatted := t.Format(time.RFC3339)
			last = &formatted
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"last_updated": last})
}

// scanOptions reads and clamps the scan query parameters.
func (s *server) scanOptions(r *http.Request) (scan.Options, error) {
	q := r.URL.Query()
	asOf, err := asOfParam(r)
	if err != nil {
		return scan.Options{}, err
	}
	limit := parseInt(q.Get("limit"), -1)
	if limit < 0 {
		if s.freeTier {
			limit = 25
		} else {
			limit = 0
		}
	}
	if limit > 0 {
		limit = clamp(limit, 1, 600)
	}
	return scan.Options{
		Params: anomaly.Params{
			BaselineDays:      clamp(parseInt(q.Get("baseline_days"), s.defaults.BaselineDays), 30, 730),
			CurrentDays:       clamp(parseInt(q.Get("current_days"), s.defaults.CurrentDays), 7, 90),
			StdThreshold:      clampFloat(parseFloat(q.Get("std_threshold"), s.defaults.StdThreshold), 1.0, 5.0),
			MinBaselinePoints: s.defaults.MinBaselinePoints,
			AsOf:              asOf,
		},
		Limit:    limit,
		FreeTier: s.freeTier,
	}, nil
}

func (s *server) engineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, engine.ErrBadRequest) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Error().Err(err).Str("request_id", requestID(r.Context())).Str("engine", s.eng.Name()).Msg("engine call failed")
	respondWithError(w, http.StatusInternalServerError, "internal error")
}

// asOfParam parses ?as_of, defaulting to today.
func asOfParam(r *http.Request) (models.Date, error) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return models.NewDate(time.Now()), nil
	}
	return models.ParseDate(v)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"encode response"}`))
		return
	}
	respondWithPayload(w, code, body)
}

func respondWithPayload(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
