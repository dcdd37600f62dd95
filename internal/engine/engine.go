// Package engine is the process boundary around the anomaly and trend
// computations. The native engine calls the Go packages directly; the wasm
// engine runs the same JSON protocol inside a WASI module.
package engine

import (
	"context"

	"github.com/rs/zerolog/log"
)

type Engine interface {
	Name() string
	Anomaly(ctx context.Context, req AnomalyRequest) (AnomalyResponse, error)
	Trend(ctx context.Context, req TrendRequest) (TrendResponse, error)
	Close(ctx context.Context) error
}

// New prefers the wasm module at wasmPath when it loads; otherwise it falls
// back to the native engine.
func New(ctx context.Context, wasmPath string) Engine {
	if path := FindWasm(wasmPath); path != "" {
		w, err := NewWasm(ctx, path)
		if err == nil {
			log.Info().Str("path", path).Msg("using wasm core engine")
			return w
		}
		log.Warn().Err(err).Str("path", path).Msg("wasm core engine unavailable; using native")
	}
	return NewNative()
}
