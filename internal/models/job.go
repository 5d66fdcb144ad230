// Package models defines data structures for the PII scan service.
package models

import "time"

// Job status constants (spec §3 Job).
const (
	JobStatusPending     = "pending"
	JobStatusRunning     = "running"
	JobStatusCompleted   = "completed"
	JobStatusInterrupted = "interrupted"
	JobStatusError       = "error"
)

// File status constants (spec §3 FileRecord).
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusCompleted  = "completed"
	FileStatusError      = "error"
)

// Job is one invocation of an analysis run against a directory.
type Job struct {
	JobID          int64     `json:"job_id"`
	Directory      string    `json:"directory"`
	Status         string    `json:"status"`
	StartTime      time.Time `json:"start_time"`
	LastUpdated    time.Time `json:"last_updated"`
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	ErrorFiles     int       `json:"error_files"`
}

// FileRecord is the Store's per-file state row.
type FileRecord struct {
	FileID                 int64      `json:"file_id"`
	JobID                  int64      `json:"job_id"`
	FilePath               string     `json:"file_path"`
	FileType               string     `json:"file_type"`
	SizeBytes              int64      `json:"size_bytes"`
	Status                 string     `json:"status"`
	ProcessingStartedAt    *time.Time `json:"processing_started_at,omitempty"`
	ProcessingTimeSeconds  float64    `json:"processing_time_seconds,omitempty"`
	ErrorMessage           string     `json:"error_message,omitempty"`
	Metadata               string     `json:"metadata,omitempty"` // opaque JSON blob
}

// PendingFile is the minimal projection GetPendingFiles returns.
type PendingFile struct {
	FileID   int64
	FilePath string
}

// Entity is a detected PII match within one file's extracted text.
type Entity struct {
	EntityID   int64   `json:"entity_id"`
	FileID     int64   `json:"file_id"`
	EntityType string  `json:"entity_type"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
}

// FileStatistics is the aggregate count breakdown for a job (spec §4.1
// GetFileStatistics).
type FileStatistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

// ProgressPercent returns completed+error as a percentage (0-100) of
// total, 0 when total is 0.
func (s FileStatistics) ProgressPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed+s.Error) / float64(s.Total) * 100
}

// Settings are the in-memory analyzer settings (spec §3 Settings).
// Only the enumerated fields are recognized; callers must not invent keys.
type Settings struct {
	Threshold     float64 `json:"threshold"`
	FileSizeLimit int64   `json:"file_size_limit"`
	WorkerID      string  `json:"worker_id,omitempty"`
}

// AnalyzeResult is the external analyzer's output contract (spec §6).
type AnalyzeResult struct {
	Success         bool                   `json:"success"`
	Entities        []DetectedEntity       `json:"entities,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ProcessingTime  float64                `json:"processing_time,omitempty"`
}

// DetectedEntity is a single PII match as returned by AnalyzeFile, before
// it is persisted as an Entity row (which additionally carries FileID).
type DetectedEntity struct {
	EntityType string  `json:"entity_type"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
}

// AcceptedExtensions is the whitelist of file extensions the discovery
// pass registers (spec §6), lowercased and dot-prefixed.
var AcceptedExtensions = map[string]bool{
	".txt": true, ".pdf": true, ".docx": true, ".doc": true, ".rtf": true,
	".xlsx": true, ".xls": true, ".csv": true, ".tsv": true,
	".pptx": true, ".ppt": true,
	".json": true, ".xml": true, ".html": true, ".htm": true,
	".md": true, ".log": true, ".eml": true, ".msg": true,
}

// ScanProgress is reported during directory discovery (spec §6 ScanDirectory).
type ScanProgress struct {
	Type         string `json:"type"` // "progress"
	FilesScanned int    `json:"files_scanned"`
}

// WorkerRequest is the JSON payload sent to an isolated pii-worker
// subprocess over stdin (spec §4.3 "Worker isolation").
type WorkerRequest struct {
	Path     string   `json:"path"`
	Settings Settings `json:"settings"`
}

// WorkEvent is reported to the Scheduler's progress sink per completed item
// (spec §4.3 step 4 "Drain").
type WorkEvent struct {
	Type     string `json:"type"` // "file_completed" | "file_error"
	FileID   int64  `json:"file_id"`
	FilePath string `json:"file_path"`
	Error    string `json:"error,omitempty"`
}
