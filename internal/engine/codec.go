package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/bighogz/vibes-core/internal/anomaly"
	"github.com/bighogz/vibes-core/internal/models"
	"github.com/bighogz/vibes-core/internal/trend"
)

// ErrBadRequest marks input that cannot be decoded or fails validation.
var ErrBadRequest = errors.New("bad request")

var validate = validator.New(validator.WithRequiredStructEnabled())

type AnomalyParams struct {
	BaselineDays      int     `json:"baseline_days" validate:"gte=0"`
	CurrentDays       int     `json:"current_days" validate:"gte=0"`
	StdThreshold      float64 `json:"std_threshold"`
	MinBaselinePoints int     `json:"min_baseline_points" validate:"gte=0"`
	AsOf              string  `json:"as_of" validate:"required"`
}

type AnomalyRequest struct {
	Records []models.InsiderSellRecord `json:"records" validate:"dive"`
	Params  AnomalyParams              `json:"params"`
}

type AnomalyResponse struct {
	Signals []anomaly.AnomalySignal `json:"signals"`
}

type TrendRequest struct {
	Closes []float64 `json:"closes"`
}

type TrendResponse struct {
	Trend *trend.QuarterlyTrend `json:"trend"`
}

// NewAnomalyRequest builds a request for the given records and params.
func NewAnomalyRequest(records []models.InsiderSellRecord, p anomaly.Params) AnomalyRequest {
	if records == nil {
		records = []models.InsiderSellRecord{}
	}
	return AnomalyRequest{
		Records: records,
		Params: AnomalyParams{
			BaselineDays:      p.BaselineDays,
			CurrentDays:       p.CurrentDays,
			StdThreshold:      p.StdThreshold,
			MinBaselinePoints: p.MinBaselinePoints,
			AsOf:              p.AsOf.String(),
		},
	}
}

// Validate checks the request structure and parses as_of.
func (r AnomalyRequest) Validate() (anomaly.Params, error) {
	if err := validate.Struct(r); err != nil {
		return anomaly.Params{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	asOf, err := models.ParseDate(r.Params.AsOf)
	if err != nil {
		return anomaly.Params{}, fmt.Errorf("%w: as_of: %w", ErrBadRequest, err)
	}
	return anomaly.Params{
		BaselineDays:      r.Params.BaselineDays,
		CurrentDays:       r.Params.CurrentDays,
		StdThreshold:      r.Params.StdThreshold,
		MinBaselinePoints: r.Params.MinBaselinePoints,
		AsOf:              asOf,
	}, nil
}

func DecodeAnomalyRequest(r io.Reader) (AnomalyRequest, error) {
	var req AnomalyRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return AnomalyRequest{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if _, err := req.Validate(); err != nil {
		return AnomalyRequest{}, err
	}
	return req, nil
}

func DecodeTrendRequest(r io.Reader) (TrendRequest, error) {
	var req TrendRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return TrendRequest{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return req, nil
}
