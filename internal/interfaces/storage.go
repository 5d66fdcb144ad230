// Package interfaces defines service contracts for the PII scan service.
package interfaces

import (
	"context"

	"github.com/bobmcallan/piiscan/internal/models"
)

// ResultStore is the durable, transactional store holding jobs, file
// records, and detected entities (spec §4.1). Every operation listed
// here is a single atomic transaction unless its doc comment says
// otherwise.
type ResultStore interface {
	CreateJob(ctx context.Context, directory string) (int64, error)
	UpdateJobStatus(ctx context.Context, jobID int64, status string) error
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	GetLatestJob(ctx context.Context) (*models.Job, error)

	// RegisterFiles bulk inserts file rows, skipping duplicates on
	// (job_id, file_path). Each element of paths/types/sizes is positional.
	RegisterFiles(ctx context.Context, jobID int64, paths, types []string, sizes []int64) (added int, err error)

	// GetPendingFiles returns up to limit rows with status=pending, ordered
	// by file_id ascending (stable FIFO by insertion).
	GetPendingFiles(ctx context.Context, jobID int64, limit int) ([]models.PendingFile, error)

	// MarkFileProcessing is the claim primitive: a conditional
	// pending->processing update. Returns true iff exactly one row changed.
	MarkFileProcessing(ctx context.Context, fileID int64) (bool, error)

	// StoreFileResults inserts entity rows and writes the metadata blob in
	// one transaction. Must precede MarkFileCompleted.
	StoreFileResults(ctx context.Context, fileID int64, processingTime float64, entities []models.DetectedEntity, metadata map[string]interface{}) error

	// MarkFileCompleted is a conditional processing->completed update; it
	// increments the job's processed_files counter. Returns false (not an
	// error) if the row was not in processing state — per spec §9 this is
	// the race-with-recovery case and callers must treat it as an error.
	MarkFileCompleted(ctx context.Context, fileID, jobID int64) (bool, error)

	// MarkFileError is a conditional processing->error update; it
	// increments the job's error_files counter.
	MarkFileError(ctx context.Context, fileID, jobID int64, message string) (bool, error)

	GetFileStatistics(ctx context.Context, jobID int64) (models.FileStatistics, error)

	// ResetStalledFiles bulk-updates processing->pending. Used only by
	// recovery (spec §7).
	ResetStalledFiles(ctx context.Context, jobID int64) (int, error)

	// ExportToJSON returns a read-only snapshot of job + files + entities.
	ExportToJSON(ctx context.Context, jobID int64) ([]byte, error)

	Close() error
}

// Analyzer is the external PII-detection collaborator (spec §6
// AnalyzeFile). Implementations are expected to run text extraction and
// recognition; the Scheduler treats this purely as an opaque function.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string, settings models.Settings) (models.AnalyzeResult, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, path string, settings models.Settings) (models.AnalyzeResult, error)

// AnalyzeFile implements Analyzer.
func (f AnalyzerFunc) AnalyzeFile(ctx context.Context, path string, settings models.Settings) (models.AnalyzeResult, error) {
	return f(ctx, path, settings)
}

// DirectoryWalker is the external recursive directory walk collaborator
// (spec §6 ScanDirectory contract).
type DirectoryWalker interface {
	ScanDirectory(ctx context.Context, store ResultStore, jobID int64, root string, extensions map[string]bool, progress func(models.ScanProgress)) (added int, err error)
}

// LoadSampler exposes a point-in-time system load reading (spec §4.2).
type LoadSampler interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot is one Load Sampler reading.
type Snapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAvg1Min   float64
	CPUCount      int
	LoadFactor    float64
	Degraded      bool
}

// ProgressSink receives Scheduler work events (spec §4.3 step 4).
type ProgressSink interface {
	Publish(models.WorkEvent)
}

// ProgressSinkFunc adapts a plain function to ProgressSink.
type ProgressSinkFunc func(models.WorkEvent)

// Publish implements ProgressSink.
func (f ProgressSinkFunc) Publish(e models.WorkEvent) { f(e) }
