// Package service implements the Analysis Service (spec §4.4): the
// process-wide singleton lifecycle controller that drives one analysis
// run end to end, coordinating the directory walk with the Adaptive
// Scheduler and exposing a coarse state machine to the Control API.
package service

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/control"
	"github.com/bobmcallan/piiscan/internal/interfaces"
	"github.com/bobmcallan/piiscan/internal/models"
	"github.com/bobmcallan/piiscan/internal/scheduler"
)

// State is the Service's coarse, operator-visible state machine (spec
// §4.4): idle -> scanning -> processing -> {completed | idle}, with
// stopping as a transient sub-state and error as a terminal branch.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateStopping   State = "stopping"
	StateError      State = "error"
)

// Config holds everything the run routine needs. Store is held
// separately from Config so Clear can swap it out for a freshly opened
// handle after deleting the database file.
type Config struct {
	DBPath         string
	DataPath       string
	Walker         interfaces.DirectoryWalker
	Analyzer       interfaces.Analyzer
	Sampler        interfaces.LoadSampler
	Settings       models.Settings
	InitialWorkers int
	InitialBatch   int
	Logger         *common.Logger
	OpenStore      func(dbPath string, logger *common.Logger) (interfaces.ResultStore, error)
}

// Status is the snapshot returned by Status().
type Status struct {
	State                     State                  `json:"state"`
	JobID                     int64                  `json:"job_id,omitempty"`
	Directory                 string                 `json:"directory,omitempty"`
	StartTime                 time.Time              `json:"start_time,omitempty"`
	LastUpdated               time.Time              `json:"last_updated,omitempty"`
	ErrorMessage              string                 `json:"error_message,omitempty"`
	Stats                     *models.FileStatistics `json:"stats,omitempty"`
	EstimatedRemainingSeconds float64                `json:"estimated_remaining_seconds,omitempty"`
}

// Service is the Analysis Service singleton. All in-memory fields are
// guarded by mu; readers of Status observe a consistent snapshot (spec
// §5 "Service's in-memory state is guarded by one mutex").
type Service struct {
	cfg Config

	mu           sync.Mutex
	store        interfaces.ResultStore
	state        State
	jobID        int64
	startTime    time.Time
	lastUpdated  time.Time
	errorMessage string
	stop         *control.StopSignal

	wg sync.WaitGroup
}

// New constructs an idle Service around an already-open store.
func New(cfg Config, store interfaces.ResultStore) *Service {
	return &Service{
		cfg:   cfg,
		store: store,
		state: StateIdle,
	}
}

func (s *Service) isRunningLocked() bool {
	switch s.state {
	case StateScanning, StateProcessing, StateStopping:
		return true
	default:
		return false
	}
}

// Start begins a new run if idle and DataPath is a directory (spec
// §4.4 Start). Before scanning, any interrupted job with stalled
// processing rows is recovered (SPEC_FULL.md §12.4): those rows are
// reset to pending so this run or a prior one's leftovers are not
// silently abandoned.
func (s *Service) Start() (bool, string) {
	s.mu.Lock()
	if s.state != StateIdle {
		defer s.mu.Unlock()
		return false, fmt.Sprintf("cannot start: service is %s", s.state)
	}
	info, err := os.Stat(s.cfg.DataPath)
	if err != nil || !info.IsDir() {
		s.mu.Unlock()
		return false, fmt.Sprintf("data path %q is not a directory", s.cfg.DataPath)
	}

	s.stop = control.NewStopSignal()
	s.state = StateScanning
	s.errorMessage = ""
	s.startTime = time.Now()
	s.lastUpdated = s.startTime
	s.mu.Unlock()

	s.recoverStalled()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRoutine()
	}()
	return true, "started"
}

// recoverStalled resets any processing rows left over from a prior
// interrupted job on the same directory, per SPEC_FULL.md §12.4.
func (s *Service) recoverStalled() {
	ctx := context.Background()
	job, err := s.store.GetLatestJob(ctx)
	if err != nil || job == nil {
		return
	}
	if job.Directory != s.cfg.DataPath || job.Status != models.JobStatusInterrupted {
		return
	}
	n, err := s.store.ResetStalledFiles(ctx, job.JobID)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Int64("job_id", job.JobID).Msg("failed to recover stalled files")
		return
	}
	if n > 0 {
		s.cfg.Logger.Info().Int64("job_id", job.JobID).Int("count", n).Msg("recovered stalled processing rows")
	}
}

// Stop requests that the current run wind down at the next batch
// boundary (spec §4.4 Stop, §5 "graceful drain, not preemptive
// abort"). It never blocks on the run actually finishing.
func (s *Service) Stop() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunningLocked() {
		return false, fmt.Sprintf("cannot stop: service is %s", s.state)
	}
	s.stop.Raise()
	s.state = StateStopping
	return true, "stop requested, applies at the next batch boundary"
}

// Clear deletes the database file and resets in-memory state (spec
// §4.4 Clear). Guarded by !is_running.
func (s *Service) Clear() (bool, string) {
	s.mu.Lock()
	if s.isRunningLocked() {
		defer s.mu.Unlock()
		return false, fmt.Sprintf("cannot clear: service is %s", s.state)
	}
	store := s.store
	s.mu.Unlock()

	if err := store.Close(); err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("failed to close store before clear")
	}
	if err := os.Remove(s.cfg.DBPath); err != nil && !os.IsNotExist(err) {
		return false, fmt.Sprintf("failed to delete database: %v", err)
	}
	for _, ext := range []string{"-wal", "-shm"} {
		_ = os.Remove(s.cfg.DBPath + ext)
	}

	newStore, err := s.cfg.OpenStore(s.cfg.DBPath, s.cfg.Logger)
	if err != nil {
		return false, fmt.Sprintf("failed to reopen database: %v", err)
	}

	s.mu.Lock()
	s.store = newStore
	s.state = StateIdle
	s.jobID = 0
	s.errorMessage = ""
	s.startTime = time.Time{}
	s.lastUpdated = time.Time{}
	s.mu.Unlock()
	return true, "cleared"
}

// Status returns a consistent snapshot of the current run (spec §4.4
// Status), including a file-count breakdown and an ETA estimate (spec
// §9 Open Question resolution plus SPEC_FULL.md §12.1) when a job
// exists.
func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{
		State:        s.state,
		JobID:        s.jobID,
		Directory:    s.cfg.DataPath,
		StartTime:    s.startTime,
		LastUpdated:  s.lastUpdated,
		ErrorMessage: s.errorMessage,
	}
	jobID := s.jobID
	startTime := s.startTime
	s.mu.Unlock()

	if jobID == 0 {
		return st
	}

	stats, err := s.store.GetFileStatistics(context.Background(), jobID)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Int64("job_id", jobID).Msg("failed to read file statistics for status")
		return st
	}
	st.Stats = &stats
	st.EstimatedRemainingSeconds = estimateRemaining(stats, startTime)
	return st
}

// estimateRemaining projects remaining duration from the observed
// processing rate, the way worker_management.py's
// estimate_completion_time does (SPEC_FULL.md §12.1). Returns 0 when
// there is no rate to project from.
func estimateRemaining(stats models.FileStatistics, startTime time.Time) float64 {
	processed := stats.Completed + stats.Error
	remaining := stats.Total - processed
	if processed == 0 || remaining <= 0 || startTime.IsZero() {
		return 0
	}
	elapsed := time.Since(startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(processed) / elapsed
	if rate <= 0 {
		return 0
	}
	return float64(remaining) / rate
}

// ExportJson returns the Store's JSON snapshot of the most recent job
// (spec §4.4 ExportJson).
func (s *Service) ExportJson() ([]byte, error) {
	s.mu.Lock()
	jobID := s.jobID
	s.mu.Unlock()
	if jobID == 0 {
		job, err := s.store.GetLatestJob(context.Background())
		if err != nil {
			return nil, fmt.Errorf("get latest job: %w", err)
		}
		if job == nil {
			return nil, fmt.Errorf("no job has run yet")
		}
		jobID = job.JobID
	}
	return s.store.ExportToJSON(context.Background(), jobID)
}

// Wait blocks until the current (or most recently started) run
// routine returns. Exposed for tests and graceful-shutdown callers.
func (s *Service) Wait() {
	s.wg.Wait()
}

// runRoutine is the 8-step sequence from spec §4.4. It runs on its own
// goroutine; Start returns before it begins work.
func (s *Service) runRoutine() {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("recovered from panic in analysis run routine")
			s.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	ctx := context.Background()

	jobID, err := s.store.CreateJob(ctx, s.cfg.DataPath)
	if err != nil {
		s.fail(fmt.Errorf("create job: %w", err))
		return
	}
	s.setJobID(jobID)

	_, err = s.cfg.Walker.ScanDirectory(ctx, s.store, jobID, s.cfg.DataPath, models.AcceptedExtensions, func(models.ScanProgress) {
		s.touch()
	})
	if err != nil {
		s.fail(fmt.Errorf("scan directory: %w", err))
		return
	}

	if s.stop.IsRaised() {
		s.setState(StateIdle)
		return
	}

	stats, err := s.store.GetFileStatistics(ctx, jobID)
	if err != nil {
		s.fail(fmt.Errorf("get file statistics: %w", err))
		return
	}
	if stats.Pending == 0 {
		if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted); err != nil {
			s.fail(fmt.Errorf("update job status: %w", err))
			return
		}
		s.setState(StateCompleted)
		return
	}

	s.setState(StateProcessing)
	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusRunning); err != nil {
		s.fail(fmt.Errorf("update job status: %w", err))
		return
	}

	sched := scheduler.New(scheduler.Config{
		Store:          s.store,
		JobID:          jobID,
		Analyzer:       s.cfg.Analyzer,
		Sampler:        s.cfg.Sampler,
		InitialWorkers: s.cfg.InitialWorkers,
		InitialBatch:   s.cfg.InitialBatch,
		Settings:       s.cfg.Settings,
		StopSignal:     s.stop,
		ProgressSink:   interfaces.ProgressSinkFunc(func(models.WorkEvent) { s.touch() }),
		Logger:         s.cfg.Logger,
	})

	outcome, err := sched.Run(ctx)
	if err != nil {
		s.fail(fmt.Errorf("scheduler run: %w", err))
		return
	}

	switch outcome {
	case scheduler.OutcomeCompleted:
		if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted); err != nil {
			s.fail(fmt.Errorf("update job status: %w", err))
			return
		}
		s.setState(StateCompleted)
	default:
		if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusInterrupted); err != nil {
			s.fail(fmt.Errorf("update job status: %w", err))
			return
		}
		s.setState(StateIdle)
	}
}

func (s *Service) setJobID(id int64) {
	s.mu.Lock()
	s.jobID = id
	s.lastUpdated = time.Now()
	s.mu.Unlock()
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.lastUpdated = time.Now()
	s.mu.Unlock()
}

func (s *Service) touch() {
	s.mu.Lock()
	s.lastUpdated = time.Now()
	s.mu.Unlock()
}

// fail surfaces an unhandled run-routine failure (spec §7 kind 6):
// state -> error, message captured, job marked error on a best-effort
// basis.
func (s *Service) fail(err error) {
	s.cfg.Logger.Error().Err(err).Msg("analysis run failed")
	s.mu.Lock()
	jobID := s.jobID
	s.state = StateError
	s.errorMessage = err.Error()
	s.lastUpdated = time.Now()
	s.mu.Unlock()

	if jobID != 0 {
		if uerr := s.store.UpdateJobStatus(context.Background(), jobID, models.JobStatusError); uerr != nil {
			s.cfg.Logger.Warn().Err(uerr).Int64("job_id", jobID).Msg("failed to mark job error after run failure")
		}
	}
}
