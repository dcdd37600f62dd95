package sp500

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/bighogz/vibes-core/internal/httpclient"
)

const CSVURL = "https://raw.githubusercontent.com/datasets/s-and-p-500-companies/master/data/constituents.csv"

type Company struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Sector      string `json:"sector"`
	SubIndustry string `json:"sub_industry,omitempty"`
}

// Load downloads the public constituents CSV.
func Load(ctx context.Context, c *httpclient.Client, url string) ([]Company, error) {
	resp, err := c.Get(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch constituents")
	}
	defer resp.Body.Close()
	return Parse(resp.Body)
}

// Parse reads a constituents CSV. Columns are matched by header name;
// duplicate and blank symbols are skipped.
func Parse(r io.Reader) ([]Company, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse constituents csv")
	}
	if len(rows) < 2 {
		return nil, errors.New("constituents csv has no rows")
	}
	symIdx, nameIdx, sectorIdx, subIdx := -1, -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "symbol":
			symIdx = i
		case "security":
			nameIdx = i
		case "gics sector":
			sectorIdx = i
		case "gics sub-industry":
			subIdx = i
		}
	}
	if symIdx < 0 {
		return nil, errors.New("constituents csv has no Symbol column")
	}
	cell := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	seen := make(map[string]bool)
	out := make([]Company, 0, len(rows)-1)
	for _, row := range rows[1:] {
		sym := cell(row, symIdx)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		c := Company{
			Symbol:      sym,
			Name:        cell(row, nameIdx),
			Sector:      cell(row, sectorIdx),
			SubIndustry: cell(row, subIdx),
		}
		if c.Sector == "" {
			c.Sector = "Unknown"
		}
		out = append(out, c)
	}
	return out, nil
}

func Symbols(companies []Company) []string {
	out := make([]string, len(companies))
	for i, c := range companies {
		out[i] = c.Symbol
	}
	return out
}
