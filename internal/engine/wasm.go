package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bighogz/vibes-core/internal/telemetry"
)

const wasmName = "vibes-core.wasm"

// Wasm runs cmd/vibes-core compiled for GOOS=wasip1. The module is compiled
// once; every call instantiates a fresh copy wired to in-memory stdin/stdout.
type Wasm struct {
	path     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

func NewWasm(ctx context.Context, path string) (*Wasm, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	return &Wasm{path: path, runtime: r, compiled: compiled}, nil
}

func (w *Wasm) Name() string { return "wasm" }

// run executes the module with the given subcommand and JSON input.
func (w *Wasm) run(ctx context.Context, subcmd string, input, output interface{}) error {
	ctx, span := telemetry.Tracer().Start(ctx, "engine.wasm."+subcmd)
	defer span.End()

	body, err := json.Marshal(input)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("input_bytes", len(body)))
	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("vibes-core", subcmd).
		WithStdin(bytes.NewReader(body)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		err = fmt.Errorf("vibes-core %s: %w (stderr: %s)", subcmd, err, strings.TrimSpace(stderr.String()))
		if strings.Contains(stderr.String(), ErrBadRequest.Error()) {
			err = fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "module failed")
		return err
	}
	if err := json.Unmarshal(stdout.Bytes(), output); err != nil {
		return fmt.Errorf("parse vibes-core %s output: %w", subcmd, err)
	}
	return nil
}

func (w *Wasm) Anomaly(ctx context.Context, req AnomalyRequest) (AnomalyResponse, error) {
	var out AnomalyResponse
	if err := w.run(ctx, "anomaly", req, &out); err != nil {
		return AnomalyResponse{}, err
	}
	return out, nil
}

func (w *Wasm) Trend(ctx context.Context, req TrendRequest) (TrendResponse, error) {
	var out TrendResponse
	if err := w.run(ctx, "trend", req, &out); err != nil {
		return TrendResponse{}, err
	}
	return out, nil
}

func (w *Wasm) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// FindWasm resolves the module path. An explicit path must be absolute and
// under the working directory; otherwise a few conventional locations are
// probed. Returns "" when nothing is found.
func FindWasm(explicit string) string {
	if explicit != "" {
		if !validateWasmPath(explicit) {
			log.Warn().Str("path", explicit).Msg("VIBES_CORE_WASM must be an absolute path under the working directory; ignoring")
			return ""
		}
		if _, err := os.Stat(explicit); err != nil {
			log.Warn().Err(err).Str("path", explicit).Msg("VIBES_CORE_WASM not readable; ignoring")
			return ""
		}
		return explicit
	}
	cwd, _ := os.Getwd()
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	candidates := []string{
		filepath.Join(execDir, wasmName),
		filepath.Join(cwd, "bin", wasmName),
		filepath.Join(cwd, wasmName),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func validateWasmPath(p string) bool {
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	projectRoot, err := os.Getwd()
	if err != nil {
		projectRoot = filepath.Dir(os.Args[0])
	}
	projectRoot = filepath.Clean(projectRoot)
	return strings.HasPrefix(clean, projectRoot+string(filepath.Separator))
}
