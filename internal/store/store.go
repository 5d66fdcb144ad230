// Package store implements the durable, transactional Result Store
// (spec §4.1) on top of SQLite. The Store is the single source of truth
// for job and file state; every state transition the Scheduler performs
// goes through a conditional UPDATE here so that concurrent workers can
// never double-claim or double-complete the same file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/models"
)

const timeLayout = time.RFC3339Nano

// Store is a SQLite-backed interfaces.ResultStore.
type Store struct {
	db     *sql.DB
	logger *common.Logger

	// writeMu serializes writes. modernc.org/sqlite allows only one writer
	// at a time; WAL mode lets readers proceed concurrently, but without
	// this mutex concurrent writers would thrash on SQLITE_BUSY under the
	// claim loop's high contention (spec §8 "claim uniqueness under load").
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string, logger *common.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single connection avoids cross-conn lock contention

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job row in pending status.
func (s *Store) CreateJob(ctx context.Context, directory string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (directory, status, start_time, last_updated) VALUES (?, ?, ?, ?)`,
		directory, models.JobStatusPending, now, now)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create job: read inserted id: %w", err)
	}
	s.logger.Info().Int64("job_id", id).Str("directory", directory).Msg("job created")
	return id, nil
}

// UpdateJobStatus sets the job's status and bumps last_updated.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID int64, status string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_updated = ? WHERE job_id = ?`,
		status, time.Now().UTC().Format(timeLayout), jobID)
	if err != nil {
		return fmt.Errorf("update job %d status to %s: %w", jobID, status, err)
	}
	return nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	var j models.Job
	var start, updated string
	if err := row.Scan(&j.JobID, &j.Directory, &j.Status, &start, &updated,
		&j.TotalFiles, &j.ProcessedFiles, &j.ErrorFiles); err != nil {
		return nil, err
	}
	j.StartTime, _ = time.Parse(timeLayout, start)
	j.LastUpdated, _ = time.Parse(timeLayout, updated)
	return &j, nil
}

// GetJob fetches a single job by ID.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, directory, status, start_time, last_updated, total_files, processed_files, error_files
		 FROM jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return j, nil
}

// GetLatestJob returns the most recently created job, or nil if none exists.
func (s *Store) GetLatestJob(ctx context.Context) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, directory, status, start_time, last_updated, total_files, processed_files, error_files
		 FROM jobs ORDER BY job_id DESC LIMIT 1`)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest job: %w", err)
	}
	return j, nil
}

// RegisterFiles bulk inserts file rows for a job, skipping any path
// already registered for that job (discovery may re-walk a directory).
func (s *Store) RegisterFiles(ctx context.Context, jobID int64, paths, types []string, sizes []int64) (int, error) {
	if len(paths) != len(types) || len(paths) != len(sizes) {
		return 0, fmt.Errorf("register files: paths/types/sizes length mismatch")
	}
	if len(paths) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("register files: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO files (job_id, file_path, file_type, size_bytes, status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("register files: prepare: %w", err)
	}
	defer stmt.Close()

	added := 0
	for i := range paths {
		res, err := stmt.ExecContext(ctx, jobID, paths[i], types[i], sizes[i], models.FileStatusPending)
		if err != nil {
			return 0, fmt.Errorf("register file %s: %w", paths[i], err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}

	if added > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET total_files = total_files + ?, last_updated = ? WHERE job_id = ?`,
			added, time.Now().UTC().Format(timeLayout), jobID); err != nil {
			return 0, fmt.Errorf("register files: update job total: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("register files: commit: %w", err)
	}
	return added, nil
}

// GetPendingFiles returns up to limit pending files, FIFO by file_id.
func (s *Store) GetPendingFiles(ctx context.Context, jobID int64, limit int) ([]models.PendingFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, file_path FROM files WHERE job_id = ? AND status = ? ORDER BY file_id ASC LIMIT ?`,
		jobID, models.FileStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending files: %w", err)
	}
	defer rows.Close()

	var out []models.PendingFile
	for rows.Next() {
		var pf models.PendingFile
		if err := rows.Scan(&pf.FileID, &pf.FilePath); err != nil {
			return nil, fmt.Errorf("get pending files: scan: %w", err)
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

// MarkFileProcessing is the claim primitive: a conditional pending ->
// processing UPDATE, grounded on the same SELECT-then-conditional-UPDATE
// pattern SurrealDB jobqueue.Dequeue uses to claim a job. RowsAffected
// tells the caller whether it actually won the race; losers must treat
// that as "someone else already has it", not an error.
func (s *Store) MarkFileProcessing(ctx context.Context, fileID int64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = ?, processing_started_at = ? WHERE file_id = ? AND status = ?`,
		models.FileStatusProcessing, time.Now().UTC().Format(timeLayout), fileID, models.FileStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim file %d: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim file %d: rows affected: %w", fileID, err)
	}
	return n == 1, nil
}

// StoreFileResults writes the detected entities and the opaque metadata
// blob for a file. Must be called while the file is in processing state,
// before MarkFileCompleted.
func (s *Store) StoreFileResults(ctx context.Context, fileID int64, processingTime float64, entities []models.DetectedEntity, metadata map[string]interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store file results: begin tx: %w", err)
	}
	defer tx.Rollback()

	metaBlob := ""
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("store file results: marshal metadata: %w", err)
		}
		metaBlob = string(b)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET processing_time_seconds = ?, metadata = ? WHERE file_id = ?`,
		processingTime, metaBlob, fileID); err != nil {
		return fmt.Errorf("store file results: update file %d: %w", fileID, err)
	}

	if len(entities) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO entities (file_id, entity_type, text, score, start_pos, end_pos) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store file results: prepare entity insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entities {
			if _, err := stmt.ExecContext(ctx, fileID, e.EntityType, e.Text, e.Score, e.StartPos, e.EndPos); err != nil {
				return fmt.Errorf("store file results: insert entity for file %d: %w", fileID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store file results: commit: %w", err)
	}
	return nil
}

// MarkFileCompleted is a conditional processing -> completed UPDATE that
// also increments the job's processed_files counter, in one transaction.
func (s *Store) MarkFileCompleted(ctx context.Context, fileID, jobID int64) (bool, error) {
	return s.markFileDone(ctx, fileID, jobID, models.FileStatusCompleted, "", "processed_files")
}

// MarkFileError is a conditional processing -> error UPDATE that also
// increments the job's error_files counter, in one transaction.
func (s *Store) MarkFileError(ctx context.Context, fileID, jobID int64, message string) (bool, error) {
	return s.markFileDone(ctx, fileID, jobID, models.FileStatusError, message, "error_files")
}

func (s *Store) markFileDone(ctx context.Context, fileID, jobID int64, newStatus, errMsg, counterColumn string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mark file %d %s: begin tx: %w", fileID, newStatus, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET status = ?, error_message = ? WHERE file_id = ? AND status = ?`,
		newStatus, errMsg, fileID, models.FileStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark file %d %s: %w", fileID, newStatus, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark file %d %s: rows affected: %w", fileID, newStatus, err)
	}
	if n != 1 {
		// Row was not in processing state: either already finalized by
		// another caller or reclaimed by ResetStalledFiles mid-flight
		// (spec §9 Open Question: callers must surface this as an error).
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE jobs SET %s = %s + 1, last_updated = ? WHERE job_id = ?`, counterColumn, counterColumn),
		time.Now().UTC().Format(timeLayout), jobID); err != nil {
		return false, fmt.Errorf("mark file %d %s: update job counters: %w", fileID, newStatus, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mark file %d %s: commit: %w", fileID, newStatus, err)
	}
	return true, nil
}

// GetFileStatistics returns the count breakdown by status for a job.
func (s *Store) GetFileStatistics(ctx context.Context, jobID int64) (models.FileStatistics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM files WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return models.FileStatistics{}, fmt.Errorf("get file statistics: %w", err)
	}
	defer rows.Close()

	var stats models.FileStatistics
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.FileStatistics{}, fmt.Errorf("get file statistics: scan: %w", err)
		}
		switch status {
		case models.FileStatusPending:
			stats.Pending = count
		case models.FileStatusProcessing:
			stats.Processing = count
		case models.FileStatusCompleted:
			stats.Completed = count
		case models.FileStatusError:
			stats.Error = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// ResetStalledFiles resets any file stuck in processing back to pending,
// for use by crash/interrupt recovery (spec §7).
func (s *Store) ResetStalledFiles(ctx context.Context, jobID int64) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = ?, processing_started_at = NULL WHERE job_id = ? AND status = ?`,
		models.FileStatusPending, jobID, models.FileStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset stalled files for job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stalled files for job %d: rows affected: %w", jobID, err)
	}
	if n > 0 {
		s.logger.Warn().Int64("job_id", jobID).Int64("count", n).Msg("reset stalled files")
	}
	return int(n), nil
}

type exportEnvelope struct {
	Job      *models.Job       `json:"job"`
	Files    []exportFile      `json:"files"`
	Entities []models.Entity   `json:"entities"`
}

type exportFile struct {
	models.FileRecord
}

// ExportToJSON produces a read-only snapshot of a job, its files, and
// every detected entity, in the shape the control API's GET /export
// endpoint returns directly.
func (s *Store) ExportToJSON(ctx context.Context, jobID int64) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("export job %d: begin tx: %w", jobID, err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT job_id, directory, status, start_time, last_updated, total_files, processed_files, error_files
		 FROM jobs WHERE job_id = ?`, jobID))
	if err != nil {
		return nil, fmt.Errorf("export job %d: get job: %w", jobID, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT file_id, job_id, file_path, file_type, size_bytes, status,
		        processing_started_at, processing_time_seconds, error_message, metadata
		 FROM files WHERE job_id = ? ORDER BY file_id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("export job %d: query files: %w", jobID, err)
	}
	defer rows.Close()

	var files []exportFile
	var fileIDs []string
	for rows.Next() {
		var f models.FileRecord
		var startedAt sql.NullString
		if err := rows.Scan(&f.FileID, &f.JobID, &f.FilePath, &f.FileType, &f.SizeBytes, &f.Status,
			&startedAt, &f.ProcessingTimeSeconds, &f.ErrorMessage, &f.Metadata); err != nil {
			return nil, fmt.Errorf("export job %d: scan file: %w", jobID, err)
		}
		if startedAt.Valid {
			t, _ := time.Parse(timeLayout, startedAt.String)
			f.ProcessingStartedAt = &t
		}
		files = append(files, exportFile{FileRecord: f})
		fileIDs = append(fileIDs, fmt.Sprintf("%d", f.FileID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export job %d: %w", jobID, err)
	}

	var entities []models.Entity
	if len(fileIDs) > 0 {
		q := fmt.Sprintf(
			`SELECT entity_id, file_id, entity_type, text, score, start_pos, end_pos
			 FROM entities WHERE file_id IN (%s) ORDER BY entity_id ASC`,
			strings.Join(fileIDs, ","))
		erows, err := tx.QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("export job %d: query entities: %w", jobID, err)
		}
		defer erows.Close()
		for erows.Next() {
			var e models.Entity
			if err := erows.Scan(&e.EntityID, &e.FileID, &e.EntityType, &e.Text, &e.Score, &e.StartPos, &e.EndPos); err != nil {
				return nil, fmt.Errorf("export job %d: scan entity: %w", jobID, err)
			}
			entities = append(entities, e)
		}
		if err := erows.Err(); err != nil {
			return nil, fmt.Errorf("export job %d: %w", jobID, err)
		}
	}

	out, err := json.MarshalIndent(exportEnvelope{Job: job, Files: files, Entities: entities}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export job %d: marshal: %w", jobID, err)
	}
	return out, nil
}
