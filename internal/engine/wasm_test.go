package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/bighogz/vibes-core/internal/anomaly"
	"github.com/bighogz/vibes-core/internal/models"
)

var wasmBuild struct {
	once sync.Once
	dir  string
	path string
	err  error
}

// buildCoreWasm compiles cmd/vibes-core for wasip1 once per test binary.
func buildCoreWasm(t *testing.T) string {
	t.Helper()
	wasmBuild.once.Do(func() {
		goBin, err := exec.LookPath("go")
		if err != nil {
			wasmBuild.err = err
			return
		}
		dir, err := os.MkdirTemp("", "vibes-core-wasm")
		if err != nil {
			wasmBuild.err = err
			return
		}
		wasmBuild.dir = dir
		wasmBuild.path = filepath.Join(dir, wasmName)
		cmd := exec.Command(goBin, "build", "-o", wasmBuild.path, "../../cmd/vibes-core")
		cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm")
		if out, err := cmd.CombinedOutput(); err != nil {
			wasmBuild.err = errors.New(string(out))
		}
	})
	if wasmBuild.err != nil {
		t.Skipf("cannot build wasip1 core module: %v", wasmBuild.err)
	}
	return wasmBuild.path
}

func TestMain(m *testing.M) {
	code := m.Run()
	if wasmBuild.dir != "" {
		os.RemoveAll(wasmBuild.dir)
	}
	os.Exit(code)
}

func newTestWasm(t *testing.T) *Wasm {
	t.Helper()
	ctx := context.Background()
	w, err := NewWasm(ctx, buildCoreWasm(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close(ctx) })
	return w
}

func TestWasmAnomalyMatchesNative(t *testing.T) {
	w := newTestWasm(t)
	ctx := context.Background()
	records := []models.InsiderSellRecord{
		{Ticker: "AAPL", TransactionDate: models.MustParseDate("2023-06-01"), SharesSold: 1000, Source: "t"},
		{Ticker: "AAPL", TransactionDate: models.MustParseDate("2023-07-01"), SharesSold: 500, Source: "t"},
		{Ticker: "AAPL", TransactionDate: models.MustParseDate("2024-02-01"), SharesSold: 50000, Source: "t"},
		{Ticker: "MSFT", TransactionDate: models.MustParseDate("2024-01-20"), SharesSold: 300, Source: "t"},
	}
	p := anomaly.Params{BaselineDays: 365, CurrentDays: 30, StdThreshold: 2, MinBaselinePoints: 2, AsOf: models.MustParseDate("2024-02-02")}
	req := NewAnomalyRequest(records, p)

	want, err := NewNative().Anomaly(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.Anomaly(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("wasm = %+v\nnative = %+v", got, want)
	}
	if len(got.Signals) != 2 || !got.Signals[0].IsAnomaly {
		t.Errorf("unexpected signals %+v", got.Signals)
	}
}

func TestWasmTrendMatchesNative(t *testing.T) {
	w := newTestWasm(t)
	ctx := context.Background()
	closes := make([]float64, 65)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
	}
	for _, in := range [][]float64{closes, closes[:10]} {
		req := TrendRequest{Closes: in}
		want, _ := NewNative().Trend(ctx, req)
		got, err := w.Trend(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%d closes: wasm = %+v, native = %+v", len(in), got.Trend, want.Trend)
		}
	}
}

func TestWasmBadRequest(t *testing.T) {
	w := newTestWasm(t)
	req := AnomalyRequest{Records: []models.InsiderSellRecord{}, Params: AnomalyParams{AsOf: "02/02/2024"}}
	if _, err := w.Anomaly(context.Background(), req); !errors.Is(err, ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
}
