// Package scheduler implements the Adaptive Scheduler (spec §4.3): the
// job-scoped control loop that claims pending files from the Result
// Store, dispatches them to isolated workers, enforces per-item
// timeouts, adapts concurrency and batch size to observed load, and
// trips a circuit breaker on sustained failure.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/control"
	"github.com/bobmcallan/piiscan/internal/interfaces"
	"github.com/bobmcallan/piiscan/internal/models"
)

// Outcome is the terminal state the Scheduler hands back to the caller.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
)

// Config holds the constructor arguments (spec §4.3's tuple).
type Config struct {
	Store           interfaces.ResultStore
	JobID           int64
	Analyzer        interfaces.Analyzer
	Sampler         interfaces.LoadSampler
	InitialWorkers  int
	InitialBatch    int
	Settings        models.Settings
	StopSignal      *control.StopSignal
	ProgressSink    interfaces.ProgressSink
	Logger          *common.Logger
	ScalingInterval time.Duration // zero means ScalingInterval constant
}

// Scheduler is one job's adaptive work-execution loop.
type Scheduler struct {
	store    interfaces.ResultStore
	jobID    int64
	analyzer interfaces.Analyzer
	sampler  interfaces.LoadSampler
	settings models.Settings
	stop     *control.StopSignal
	sink     interfaces.ProgressSink
	logger   *common.Logger

	scalingInterval  time.Duration
	workers          int
	batch            int
	consecutiveErrors int
}

// New constructs a Scheduler. InitialWorkers/InitialBatch are clamped to
// sane bounds (MinWorkers, [MinBatch, MaxBatch]) the way the control law
// itself would produce them.
func New(cfg Config) *Scheduler {
	interval := cfg.ScalingInterval
	if interval == 0 {
		interval = ScalingInterval
	}
	workers := cfg.InitialWorkers
	if workers < MinWorkers {
		workers = MinWorkers
	}
	batch := cfg.InitialBatch
	if batch < MinBatch {
		batch = MinBatch
	}
	if batch > MaxBatch {
		batch = MaxBatch
	}

	return &Scheduler{
		store:           cfg.Store,
		jobID:           cfg.JobID,
		analyzer:        cfg.Analyzer,
		sampler:         cfg.Sampler,
		settings:        cfg.Settings,
		stop:            cfg.StopSignal,
		sink:            cfg.ProgressSink,
		logger:          cfg.Logger,
		scalingInterval: interval,
		workers:         workers,
		batch:           batch,
	}
}

// Run drives the main loop until there is no pending work, the stop
// signal is raised, or the circuit breaker trips.
func (s *Scheduler) Run(ctx context.Context) (Outcome, error) {
	lastAdapt := time.Now()

	for {
		if time.Since(lastAdapt) >= s.scalingInterval {
			s.adapt(ctx)
			lastAdapt = time.Now()
		}

		pending, err := s.store.GetPendingFiles(ctx, s.jobID, s.batch)
		if err != nil {
			return OutcomeInterrupted, fmt.Errorf("scheduler: get pending files: %w", err)
		}
		if len(pending) == 0 {
			return OutcomeCompleted, nil
		}

		claimed := s.claimBatch(ctx, pending)
		if len(claimed) > 0 {
			tripped, err := s.drainBatch(ctx, claimed)
			if err != nil {
				return OutcomeInterrupted, fmt.Errorf("scheduler: drain batch: %w", err)
			}
			if tripped {
				s.logger.Warn().Int64("job_id", s.jobID).Msg("circuit breaker tripped, ending run")
				return OutcomeInterrupted, nil
			}
		}

		if s.stop.IsRaised() {
			return OutcomeInterrupted, nil
		}
	}
}

// adapt samples current load and applies the control law to the next
// batch's worker count and size (spec §4.3 step 1). A sampler failure is
// logged and skipped; it never aborts the run.
func (s *Scheduler) adapt(ctx context.Context) {
	snap, err := s.sampler.Snapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load sampler failed, skipping adaptation")
		return
	}
	newWorkers, newBatch := Adapt(s.workers, s.batch, snap)
	if newWorkers != s.workers || newBatch != s.batch {
		s.logger.Info().
			Int("workers_from", s.workers).Int("workers_to", newWorkers).
			Int("batch_from", s.batch).Int("batch_to", newBatch).
			Float64("cpu_percent", snap.CPUPercent).
			Float64("load_factor", snap.LoadFactor).
			Msg("adapted scheduler targets")
	}
	s.workers = newWorkers
	s.batch = newBatch
}

type claimedFile struct {
	fileID   int64
	filePath string
}

// claimBatch attempts MarkFileProcessing for every pending row; rows
// whose claim loses the race are skipped (spec §4.3 step 3).
func (s *Scheduler) claimBatch(ctx context.Context, pending []models.PendingFile) []claimedFile {
	claimed := make([]claimedFile, 0, len(pending))
	for _, pf := range pending {
		ok, err := s.store.MarkFileProcessing(ctx, pf.FileID)
		if err != nil {
			s.logger.Error().Err(err).Int64("file_id", pf.FileID).Msg("claim failed")
			continue
		}
		if ok {
			claimed = append(claimed, claimedFile{fileID: pf.FileID, filePath: pf.FilePath})
		}
	}
	return claimed
}

type workResult struct {
	file    claimedFile
	result  models.AnalyzeResult
	elapsed time.Duration
	err     error
	timedOut bool
}

// drainBatch dispatches claimed files to a bounded worker pool and
// drains results on the single control thread, updating the Store and
// the consecutive-error counter as each completion arrives (spec §4.3
// step 4). Once the circuit breaker trips, drainBatch keeps draining
// and applying the remaining already-dispatched results in this batch
// instead of abandoning them (a claimed file left undrained would be
// stuck in "processing" forever); only the *next* batch is refused,
// matching worker_management.py's process_files_parallel, which lets
// the current as_completed loop finish and only skips starting a new
// one. Returns true if the circuit breaker tripped during this batch.
func (s *Scheduler) drainBatch(ctx context.Context, claimed []claimedFile) (tripped bool, err error) {
	results := make(chan workResult, len(claimed))
	sem := make(chan struct{}, s.workers)

	for _, cf := range claimed {
		cf := cf
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			results <- s.runOne(ctx, cf)
		}()
	}

	for i := 0; i < len(claimed); i++ {
		res := <-results
		if tripErr := s.handleResult(ctx, res); tripErr != nil && err == nil {
			err = tripErr
		}
		if s.consecutiveErrors >= MaxConsecutiveErrors {
			tripped = true
		}
	}
	return tripped, err
}

// runOne executes one file's analysis with the worker timeout deadline
// (spec §4.3 step 3), off the control thread.
func (s *Scheduler) runOne(ctx context.Context, cf claimedFile) workResult {
	workCtx, cancel := context.WithTimeout(ctx, WorkerTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.analyzer.AnalyzeFile(workCtx, cf.filePath, s.settings)
	elapsed := time.Since(start)

	if workCtx.Err() == context.DeadlineExceeded {
		return workResult{file: cf, elapsed: elapsed, timedOut: true}
	}
	return workResult{file: cf, result: result, elapsed: elapsed, err: err}
}

// handleResult applies one completion to the Store and the consecutive
// error counter (spec §4.3 step 4), then emits a progress event.
func (s *Scheduler) handleResult(ctx context.Context, res workResult) error {
	switch {
	case res.timedOut:
		ok, err := s.store.MarkFileError(ctx, res.file.fileID, s.jobID, TimeoutMessage)
		if err != nil {
			return fmt.Errorf("mark timeout for file %d: %w", res.file.fileID, err)
		}
		if !ok {
			return fmt.Errorf("mark timeout for file %d: row was not in processing state", res.file.fileID)
		}
		s.consecutiveErrors++
		s.publish(models.WorkEvent{Type: "file_error", FileID: res.file.fileID, FilePath: res.file.filePath, Error: TimeoutMessage})

	case res.err != nil:
		ok, err := s.store.MarkFileError(ctx, res.file.fileID, s.jobID, res.err.Error())
		if err != nil {
			return fmt.Errorf("mark error for file %d: %w", res.file.fileID, err)
		}
		if !ok {
			return fmt.Errorf("mark error for file %d: row was not in processing state", res.file.fileID)
		}
		s.consecutiveErrors++
		s.publish(models.WorkEvent{Type: "file_error", FileID: res.file.fileID, FilePath: res.file.filePath, Error: res.err.Error()})

	case !res.result.Success:
		msg := res.result.ErrorMessage
		if msg == "" {
			msg = "analyzer reported failure"
		}
		ok, err := s.store.MarkFileError(ctx, res.file.fileID, s.jobID, msg)
		if err != nil {
			return fmt.Errorf("mark error for file %d: %w", res.file.fileID, err)
		}
		if !ok {
			return fmt.Errorf("mark error for file %d: row was not in processing state", res.file.fileID)
		}
		s.consecutiveErrors++
		s.publish(models.WorkEvent{Type: "file_error", FileID: res.file.fileID, FilePath: res.file.filePath, Error: msg})

	default:
		if err := s.store.StoreFileResults(ctx, res.file.fileID, res.elapsed.Seconds(), res.result.Entities, res.result.Metadata); err != nil {
			return fmt.Errorf("store results for file %d: %w", res.file.fileID, err)
		}
		ok, err := s.store.MarkFileCompleted(ctx, res.file.fileID, s.jobID)
		if err != nil {
			return fmt.Errorf("mark completed for file %d: %w", res.file.fileID, err)
		}
		if !ok {
			return fmt.Errorf("mark completed for file %d: row was not in processing state", res.file.fileID)
		}
		s.consecutiveErrors = 0
		s.publish(models.WorkEvent{Type: "file_completed", FileID: res.file.fileID, FilePath: res.file.filePath})
	}
	return nil
}

func (s *Scheduler) publish(evt models.WorkEvent) {
	if s.sink == nil || s.stop.IsRaised() {
		return
	}
	s.sink.Publish(evt)
}
