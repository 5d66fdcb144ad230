// Command pii-server wires the Result Store, Load Sampler, Adaptive
// Scheduler, Analysis Service, and Control API together and serves the
// Control API over HTTP (spec §2 data flow, §6 Control API).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/control"
	"github.com/bobmcallan/piiscan/internal/discovery"
	"github.com/bobmcallan/piiscan/internal/interfaces"
	"github.com/bobmcallan/piiscan/internal/models"
	"github.com/bobmcallan/piiscan/internal/sampler"
	"github.com/bobmcallan/piiscan/internal/scheduler"
	"github.com/bobmcallan/piiscan/internal/server"
	"github.com/bobmcallan/piiscan/internal/service"
	"github.com/bobmcallan/piiscan/internal/store"
	"github.com/shirou/gopsutil/v4/mem"
)

func main() {
	common.LoadVersionFromFile()

	showVersion := flag.Bool("version", false, "print version info and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(common.GetFullVersion())
		os.Exit(0)
	}

	configPath := os.Getenv("PII_CONFIG")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(config.Logging.Level)

	if err := os.MkdirAll(filepath.Dir(config.Storage.DBPath), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create database directory")
	}
	resultStore, err := store.Open(config.Storage.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open result store")
	}

	loadSampler := sampler.New(logger)
	stopSignal := control.NewStopSignal()
	walker := discovery.New(logger, stopSignal).WithRateLimit(2000)

	workerBinary := resolveWorkerBinary(logger)
	analyzer := scheduler.NewProcessAnalyzer(workerBinary, logger)

	initialWorkers := config.Scan.Workers
	if initialWorkers <= 0 {
		initialWorkers = sizeInitialWorkers(loadSampler, logger)
	}

	svc := service.New(service.Config{
		DBPath:         config.Storage.DBPath,
		DataPath:       config.Scan.DataPath,
		Walker:         walker,
		Analyzer:       analyzer,
		Sampler:        loadSampler,
		Settings: models.Settings{
			Threshold:     config.Scan.Threshold,
			FileSizeLimit: config.Scan.FileSizeLimitBytes(),
		},
		InitialWorkers: initialWorkers,
		InitialBatch:   config.Scan.BatchSize,
		Logger:         logger,
		OpenStore: func(path string, l *common.Logger) (interfaces.ResultStore, error) {
			return store.Open(path, l)
		},
	}, resultStore)

	srv := server.New(svc, logger, config.Server.Host, config.Server.Port)

	common.PrintBanner(config, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("control API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("control API server shutdown failed")
	}

	if _, msg := svc.Stop(); msg != "" {
		logger.Info().Str("message", msg).Msg("requested in-flight run to stop")
	}
	svc.Wait()

	if err := resultStore.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close result store")
	}
	logger.Info().Msg("server stopped")
}

// resolveWorkerBinary returns PII_WORKER_BIN when set; otherwise the
// pii-worker binary alongside this one, or a PATH lookup when this
// binary's own path cannot be resolved.
func resolveWorkerBinary(logger *common.Logger) string {
	if v := os.Getenv("PII_WORKER_BIN"); v != "" {
		return v
	}
	exe, err := os.Executable()
	if err != nil {
		logger.Warn().Err(err).Msg("could not resolve own executable path, falling back to PATH lookup for pii-worker")
		if path, lookErr := exec.LookPath("pii-worker"); lookErr == nil {
			return path
		}
		return "pii-worker"
	}
	return filepath.Join(filepath.Dir(exe), "pii-worker")
}

// sizeInitialWorkers applies spec §4.3's tiered sizing formula from one
// Load Sampler reading, falling back to 16 on sampler failure.
func sizeInitialWorkers(s *sampler.Sampler, logger *common.Logger) int {
	snap, err := s.Snapshot(context.Background())
	if err != nil {
		logger.Warn().Err(err).Msg("initial load sample failed, falling back to 16 workers")
		return 16
	}
	ramGB := estimateRAMGB(snap.MemoryPercent, snap.CPUCount)
	return scheduler.InitialWorkers(snap.CPUCount, ramGB)
}

// estimateRAMGB reads total installed RAM directly: the Load Sampler's
// Snapshot reports memory *percent used* (spec §4.2), not the total
// the initial-sizing formula needs, so this is a one-off call made
// only at startup rather than widening interfaces.Snapshot for a
// single caller.
func estimateRAMGB(_ float64, cpuCount int) float64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return float64(cpuCount) * 2
	}
	return float64(vm.Total) / (1024 * 1024 * 1024)
}
