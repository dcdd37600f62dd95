// Command vibes-core reads a JSON request on stdin and writes the JSON result
// to stdout. It builds natively and for GOOS=wasip1, where it is the module
// run by the wasm engine.
//
// Usage:
//
//	echo '{"records":[...], "params":{...}}' | vibes-core anomaly
//	echo '{"closes":[100.0, 101.5, ...]}' | vibes-core trend
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bighogz/vibes-core/internal/engine"
)

func main() {
	cmd := "anomaly"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	if err := run(context.Background(), cmd, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "vibes-core: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, in io.Reader, out io.Writer) error {
	eng := engine.NewNative()
	var result interface{}
	switch cmd {
	case "trend":
		req, err := engine.DecodeTrendRequest(in)
		if err != nil {
			return err
		}
		resp, err := eng.Trend(ctx, req)
		if err != nil {
			return err
		}
		result = resp
	case "anomaly":
		req, err := engine.DecodeAnomalyRequest(in)
		if err != nil {
			return err
		}
		resp, err := eng.Anomaly(ctx, req)
		if err != nil {
			return err
		}
		result = resp
	default:
		return fmt.Errorf("unknown subcommand %q (want anomaly or trend)", cmd)
	}
	return json.NewEncoder(out).Encode(result)
}
