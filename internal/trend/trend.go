package trend

import "math"

const (
	minPoints       = 30
	quarterLookback = 63
	slopeEpsilon    = 1e-12
)

// QuarterlyTrend holds quarterly return and slope.
type QuarterlyTrend struct {
	QuarterPct float64 `json:"quarter_pct"`
	QReturn    float64 `json:"q_return"`
	Slope      float64 `json:"slope"`
	Last       float64 `json:"last"`
}

// FromCloses computes quarterly return and linear regression slope from
// closes ordered oldest to newest. Non-positive closes are dropped first.
// The lookback is 63 points or half the valid series, whichever is smaller.
// Returns nil if fewer than 30 valid points remain.
func FromCloses(closes []float64) *QuarterlyTrend {
	valid := make([]float64, 0, len(closes))
	for _, c := range closes {
		if c > 0 {
			valid = append(valid, c)
		}
	}
	if len(valid) < minPoints {
		return nil
	}
	last := valid[len(valid)-1]
	lookback := max(1, min(quarterLookback, len(valid)/2))
	prev := valid[len(valid)-lookback]
	if prev <= 0 {
		return nil
	}
	qReturn := last/prev - 1
	return &QuarterlyTrend{
		QuarterPct: qReturn * 100,
		QReturn:    qReturn,
		Slope:      linearSlope(valid[len(valid)-lookback:]),
		Last:       last,
	}
}

// linearSlope is the OLS slope of y against 0..n-1.
func linearSlope(y []float64) float64 {
	n := float64(len(y))
	if n == 0 {
		return 0
	}
	xMean := (n - 1) / 2
	var ySum float64
	for _, v := range y {
		ySum += v
	}
	yMean := ySum / n
	var num, den float64
	for i, yi := range y {
		xi := float64(i)
		num += (xi - xMean) * (yi - yMean)
		den += (xi - xMean) * (xi - xMean)
	}
	if math.Abs(den) < slopeEpsilon {
		return 0
	}
	return num / den
}
