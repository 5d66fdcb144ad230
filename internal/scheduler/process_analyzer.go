package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/models"
)

// ProcessAnalyzer satisfies interfaces.Analyzer by re-execing an isolated
// pii-worker subprocess per file (spec §4.3 "Worker isolation"): a
// crashing or resource-leaking analyzer cannot corrupt the Scheduler's
// own process or any sibling worker, and each subprocess's CPU time is
// independently accountable to the OS.
type ProcessAnalyzer struct {
	binaryPath string
	logger     *common.Logger
}

// NewProcessAnalyzer targets the given pii-worker binary.
func NewProcessAnalyzer(binaryPath string, logger *common.Logger) *ProcessAnalyzer {
	return &ProcessAnalyzer{binaryPath: binaryPath, logger: logger}
}

// AnalyzeFile implements interfaces.Analyzer. Per spec.md's "graceful
// drain, not preemptive abort" contract, the subprocess is never killed
// just because ctx (the per-item WORKER_TIMEOUT deadline) fires: it is
// started detached from ctx, so when ctx expires first, AnalyzeFile
// returns ctx.Err() immediately while the subprocess keeps running in
// the background for up to one additional WorkerTimeout before
// reclaimAfterTimeout kills it.
func (p *ProcessAnalyzer) AnalyzeFile(ctx context.Context, path string, settings models.Settings) (models.AnalyzeResult, error) {
	reqBytes, err := json.Marshal(models.WorkerRequest{Path: path, Settings: settings})
	if err != nil {
		return models.AnalyzeResult{}, fmt.Errorf("marshal worker request: %w", err)
	}

	cmd := exec.Command(p.binaryPath)
	cmd.Stdin = bytes.NewReader(reqBytes)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return models.AnalyzeResult{}, fmt.Errorf("start worker process: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case runErr := <-done:
		if runErr != nil {
			return models.AnalyzeResult{}, fmt.Errorf("worker process exited: %w: %s", runErr, stderr.String())
		}
		var result models.AnalyzeResult
		if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
			return models.AnalyzeResult{}, fmt.Errorf("decode worker output: %w", err)
		}
		return result, nil

	case <-ctx.Done():
		p.reclaimAfterTimeout(cmd, done)
		return models.AnalyzeResult{}, ctx.Err()
	}
}

// reclaimAfterTimeout waits up to one additional WorkerTimeout for a
// subprocess its caller already gave up on, per spec.md's "the worker
// execution context may continue in the background for up to one
// additional deadline before being reclaimed". Runs on its own
// goroutine so AnalyzeFile can return to the Scheduler immediately.
func (p *ProcessAnalyzer) reclaimAfterTimeout(cmd *exec.Cmd, done <-chan error) {
	go func() {
		select {
		case <-done:
		case <-time.After(WorkerTimeout):
			p.logger.Warn().Str("path", cmd.Path).Msg("killing worker process that outlived its reclaim deadline")
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-done
		}
	}()
}
