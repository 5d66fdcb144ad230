// Command pii-worker is the isolated per-file execution context the
// Adaptive Scheduler shells out to (spec §4.3 "Worker isolation"): it
// reads one models.WorkerRequest as JSON from stdin, analyzes that one
// file, and writes one models.AnalyzeResult as JSON to stdout. Being
// its own OS process is the isolation mechanism — nothing inside this
// binary needs to coordinate with siblings.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bobmcallan/piiscan/internal/models"
	"github.com/bobmcallan/piiscan/internal/piidetect"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	var req models.WorkerRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	analyzer := piidetect.New()
	result, err := analyzer.AnalyzeFile(context.Background(), req.Path, req.Settings)
	if err != nil {
		// A genuine process-level failure (e.g. the context was already
		// canceled). Encoded on stdout too, so ProcessAnalyzer's caller
		// sees a consistent AnalyzeResult shape either way.
		result = models.AnalyzeResult{Success: false, ErrorMessage: err.Error()}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
