package trend

import (
	"math"
	"testing"
)

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestFromClosesKnownSlope(t *testing.T) {
	closes := linear(65, 100, 0.5)
	got := FromCloses(closes)
	if got == nil {
		t.Fatal("expected a trend")
	}
	if math.Abs(got.Slope-0.5) > 1e-9 {
		t.Errorf("slope = %v, want 0.5", got.Slope)
	}
	if got.QuarterPct <= 0 {
		t.Errorf("quarter_pct = %v, want > 0", got.QuarterPct)
	}
	if got.Last != 132 {
		t.Errorf("last = %v, want 132", got.Last)
	}
	// 65 points: lookback = 32, prev = closes[33] = 116.5.
	wantReturn := 132.0/116.5 - 1
	if math.Abs(got.QReturn-wantReturn) > 1e-12 {
		t.Errorf("q_return = %v, want %v", got.QReturn, wantReturn)
	}
	if math.Abs(got.QuarterPct-wantReturn*100) > 1e-9 {
		t.Errorf("quarter_pct = %v", got.QuarterPct)
	}
}

func TestFromClosesLookbackCapped(t *testing.T) {
	closes := linear(200, 50, 1)
	got := FromCloses(closes)
	if got == nil {
		t.Fatal("expected a trend")
	}
	// lookback 63: prev = closes[137] = 187, last = 249.
	want := 249.0/187.0 - 1
	if math.Abs(got.QReturn-want) > 1e-12 {
		t.Errorf("q_return = %v, want %v", got.QReturn, want)
	}
	if math.Abs(got.Slope-1) > 1e-9 {
		t.Errorf("slope = %v, want 1", got.Slope)
	}
}

func TestFromClosesAbsent(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
	}{
		{"empty", nil},
		{"29 points", linear(29, 10, 1)},
		{"40 non-positive", append(linear(20, 0, -1), linear(20, -5, 0)...)},
		{"29 valid among invalid", append(linear(29, 10, 1), 0, -1, 0, -3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromCloses(tt.closes); got != nil {
				t.Errorf("expected nil, got %+v", got)
			}
		})
	}
}

func TestFromClosesFiltersBeforeIndexing(t *testing.T) {
	closes := linear(30, 10, 1)
	// Interleave invalid points; the result must match the clean series.
	dirty := make([]float64, 0, 60)
	for _, c := range closes {
		dirty = append(dirty, c, 0)
	}
	clean := FromCloses(closes)
	got := FromCloses(dirty)
	if clean == nil || got == nil {
		t.Fatal("expected trends")
	}
	if *clean != *got {
		t.Errorf("dirty %+v != clean %+v", got, clean)
	}
	// 30 points: lookback 15, prev = 25, last = 39.
	if clean.Last != 39 || math.Abs(clean.QReturn-(39.0/25.0-1)) > 1e-12 {
		t.Errorf("unexpected trend %+v", clean)
	}
}

func TestFromClosesFlatSeries(t *testing.T) {
	got := FromCloses(linear(40, 100, 0))
	if got == nil {
		t.Fatal("expected a trend")
	}
	if got.Slope != 0 || got.QReturn != 0 {
		t.Errorf("flat series gave %+v", got)
	}
}

func TestLinearSlopeDegenerate(t *testing.T) {
	if s := linearSlope([]float64{42}); s != 0 {
		t.Errorf("single point slope = %v", s)
	}
	if s := linearSlope(nil); s != 0 {
		t.Errorf("empty slope = %v", s)
	}
	if s := linearSlope([]float64{1, 3}); s != 2 {
		t.Errorf("two point slope = %v", s)
	}
}
