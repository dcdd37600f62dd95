package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// MaxSharesSold bounds a single record so per-ticker sums and z-scores stay
// finite. Keep in sync with the validate tag on SharesSold.
const MaxSharesSold = 1e15

// Date is a calendar date pinned to UTC midnight.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate honors only the first 10 characters, so "2024-02-02T15:04:05Z" is 2024-02-02.
func ParseDate(s string) (Date, error) {
	s = s[:min(10, len(s))]
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t}, nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// DaysSince returns d - other in whole days.
func (d Date) DaysSince(other Date) int {
	return int(d.Time.Sub(other.Time).Hours() / 24)
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type InsiderSellRecord struct {
	Ticker          string   `json:"ticker" validate:"required"`
	CompanyName     *string  `json:"company_name,omitempty"`
	InsiderName     *string  `json:"insider_name,omitempty"`
	Role            *string  `json:"role,omitempty"`
	TransactionDate Date     `json:"transaction_date" validate:"required"`
	FilingDate      *Date    `json:"filing_date,omitempty"`
	SharesSold      float64  `json:"shares_sold" validate:"gte=0,lte=1e15"`
	ValueUSD        *float64 `json:"value_usd,omitempty"`
	Source          string   `json:"source"`
}

// UnmarshalJSON treats an unparsable filing date as absent; the transaction
// date stays strict.
func (r *InsiderSellRecord) UnmarshalJSON(b []byte) error {
	type plain InsiderSellRecord
	var raw struct {
		plain
		FilingDate *string `json:"filing_date,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = InsiderSellRecord(raw.plain)
	r.FilingDate = nil
	if raw.FilingDate != nil {
		if fd, err := ParseDate(*raw.FilingDate); err == nil {
			r.FilingDate = &fd
		}
	}
	return nil
}
