// Package store persists scene sessions and export job state using SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ocs-studio/server/internal/ocs"
)

// ErrNotFound is returned when a session or job does not exist.
var ErrNotFound = errors.New("not found")

// DefaultSessionID names the session the server restores on start.
const DefaultSessionID = "default"

// JobStatus represents the current state of an export job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Session is the persisted part of the scene: the entry list and the
// operator-set plane offset.
type Session struct {
	ID        string      `json:"session_id"`
	Entries   []ocs.Entry `json:"entries"`
	PlaneD    float32     `json:"plane_d"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ExportFile is one written PLY file.
type ExportFile struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

// ExportJob represents a PLY export of the displayed solids.
type ExportJob struct {
	ID         string       `json:"job_id"`
	SessionID  string       `json:"session_id"`
	Status     JobStatus    `json:"status"`
	Files      []ExportFile `json:"files"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Store provides persistent storage using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		entries_json TEXT NOT NULL,
		plane_d REAL NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS export_jobs (
		job_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		files_json TEXT NOT NULL DEFAULT '[]',
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_export_jobs_finished ON export_jobs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSession inserts or replaces a session.
func (s *Store) SaveSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := sess.Entries
	if entries == nil {
		entries = []ocs.Entry{}
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, entries_json, plane_d, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			entries_json = excluded.entries_json,
			plane_d = excluded.plane_d,
			updated_at = excluded.updated_at
	`, sess.ID, string(entriesJSON), sess.PlaneD, sess.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// LoadSession retrieves a session by ID.
func (s *Store) LoadSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, entries_json, plane_d, updated_at
		FROM sessions WHERE session_id = ?
	`, id)

	var sess Session
	var entriesJSON, updatedAtStr string
	err := row.Scan(&sess.ID, &entriesJSON, &sess.PlaneD, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(entriesJSON), &sess.Entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entries: %w", err)
	}
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return &sess, nil
}

// CreateExportJob creates a new job record.
func (s *Store) CreateExportJob(job *ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filesJSON, err := marshalFiles(job.Files)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO export_jobs (job_id, session_id, status, files_json, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.SessionID,
		string(job.Status),
		filesJSON,
		job.Error,
		job.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

const jobColumns = `job_id, session_id, status, files_json, error, created_at, started_at, finished_at`

// GetExportJob retrieves a job by ID.
func (s *Store) GetExportJob(jobID string) (*ExportJob, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM export_jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := s.scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("export job %q: %w", jobID, ErrNotFound)
	}
	return jobs[0], nil
}

// UpdateExportJobStarted marks a job as running with start time.
func (s *Store) UpdateExportJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE export_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// UpdateExportJobStatus updates the job status and error message.
func (s *Store) UpdateExportJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE export_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// SetExportJobFiles records the files a job wrote.
func (s *Store) SetExportJobFiles(jobID string, files []ExportFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filesJSON, err := marshalFiles(files)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE export_jobs SET files_json = ? WHERE job_id = ?`, filesJSON, jobID)
	return err
}

// MarkUnfinishedAsFailed fails queued and running jobs (for restart
// recovery). Export inputs live in memory only, so neither can resume.
func (s *Store) MarkUnfinishedAsFailed(errMsg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE export_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status IN (?, ?)
	`, string(JobStatusFailed), errMsg, now, string(JobStatusQueued), string(JobStatusRunning))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpiredJobs deletes jobs finished more than retentionDays ago and
// returns them so their files can be removed.
func (s *Store) DeleteExpiredJobs(retentionDays int) ([]*ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM export_jobs
		WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	jobs, err := s.scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`
		DELETE FROM export_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff); err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteExportJob deletes a job record.
func (s *Store) DeleteExportJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM export_jobs WHERE job_id = ?", jobID)
	return err
}

func marshalFiles(files []ExportFile) (string, error) {
	if files == nil {
		files = []ExportFile{}
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to marshal files: %w", err)
	}
	return string(b), nil
}

func (s *Store) scanJobs(rows *sql.Rows) ([]*ExportJob, error) {
	var jobs []*ExportJob
	for rows.Next() {
		var job ExportJob
		var filesJSON string
		var createdAtStr string
		var startedAtStr, finishedAtStr sql.NullString

		err := rows.Scan(
			&job.ID,
			&job.SessionID,
			&job.Status,
			&filesJSON,
			&job.Error,
			&createdAtStr,
			&startedAtStr,
			&finishedAtStr,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(filesJSON), &job.Files); err != nil {
			return nil, fmt.Errorf("failed to unmarshal files: %w", err)
		}

		job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
		if startedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, startedAtStr.String)
			job.StartedAt = &t
		}
		if finishedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
			job.FinishedAt = &t
		}

		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
