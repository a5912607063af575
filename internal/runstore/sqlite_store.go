// Package runstore provides persistent storage for analysis runs and their
// per-cell results using SQLite.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/soma-tiles/spotcoloc/internal/coloc"
)

// ErrNotQueued is returned when starting a run that is no longer queued.
var ErrNotQueued = errors.New("run is not queued")

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunParams contains the parameters of a run.
type RunParams struct {
	Name      string  `json:"name"`
	CellsName string  `json:"cells_name"`
	YMax      int     `json:"ymax"`
	Threshold float64 `json:"threshold"`
	InputKey  string  `json:"input_key"`
}

// RunProgress represents the progress of a run.
type RunProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Run represents one colocalization analysis.
type Run struct {
	ID         string      `json:"run_id"`
	Status     RunStatus   `json:"status"`
	Params     RunParams   `json:"params"`
	Progress   RunProgress `json:"progress"`
	NRegions   int         `json:"n_regions"`
	NSpots     int         `json:"n_spots"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Store provides persistent storage for runs using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates a new SQLite-based run store.
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

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		done INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		n_regions INTEGER DEFAULT 0,
		n_spots INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		cells_blob BLOB,
		spots_blob BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);

	CREATE TABLE IF NOT EXISTS cell_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		label TEXT NOT NULL,
		n INTEGER NOT NULL,
		n_coloc INTEGER NOT NULL,
		n_missed INTEGER NOT NULL,
		pixels_sum REAL NOT NULL,
		pixels_coloc_sum REAL NOT NULL,
		pixels_missed_sum REAL NOT NULL,
		intensity_sum REAL NOT NULL,
		intensity_coloc_sum REAL NOT NULL,
		intensity_missed_sum REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_cell_results_run ON cell_results(run_id, position);
	`
	_, err := s.db.Exec(schema)
	return err
}

const runColumns = `run_id, status, params_json, done, total, n_regions, n_spots, error, created_at, started_at, finished_at`

// CreateRun creates a new run record with its inputs. Inputs are stored zstd
// compressed.
func (s *Store) CreateRun(run *Run, cellsData, spotsData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, status, params_json, done, total, n_regions, n_spots, error, created_at, started_at, finished_at, cells_blob, spots_blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		string(paramsJSON),
		run.Progress.Done,
		run.Progress.Total,
		run.NRegions,
		run.NSpots,
		run.Error,
		run.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
		s.enc.EncodeAll(cellsData, nil),
		s.enc.EncodeAll(spotsData, nil),
	)
	return err
}

// LoadInputs returns the decompressed cell and spot inputs of a run.
func (s *Store) LoadInputs(runID string) (cellsData, spotsData []byte, err error) {
	var cellsBlob, spotsBlob []byte
	err = s.db.QueryRow(`SELECT cells_blob, spots_blob FROM runs WHERE run_id = ?`, runID).
		Scan(&cellsBlob, &spotsBlob)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, nil, err
	}

	if cellsData, err = s.dec.DecodeAll(cellsBlob, nil); err != nil {
		return nil, nil, fmt.Errorf("zstd decompress cells failed: %w", err)
	}
	if spotsData, err = s.dec.DecodeAll(spotsBlob, nil); err != nil {
		return nil, nil, fmt.Errorf("zstd decompress spots failed: %w", err)
	}
	return cellsData, spotsData, nil
}

// GetRun retrieves a run by ID. A missing run is (nil, nil).
func (s *Store) GetRun(runID string) (*Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := s.scanRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+` FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRuns(rows)
}

// ListQueuedRuns returns all queued runs (for restart recovery).
func (s *Store) ListQueuedRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+` FROM runs WHERE status = ?
		ORDER BY created_at ASC, rowid ASC
	`, string(RunStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRuns(rows)
}

// UpdateRunStatus updates the run status and error message.
func (s *Store) UpdateRunStatus(runID string, status RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE run_id = ?
	`, string(status), errMsg, finishedAt, runID)
	return err
}

// UpdateRunStarted marks a queued run as running with start time. It returns
// ErrNotQueued if the run has left the queued state.
func (s *Store) UpdateRunStarted(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, started_at = ?
		WHERE run_id = ? AND status = ?
	`, string(RunStatusRunning), now, runID, string(RunStatusQueued))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotQueued
	}
	return nil
}

// UpdateRunProgress updates the progress fields.
func (s *Store) UpdateRunProgress(runID string, done, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE runs SET done = ?, total = ? WHERE run_id = ?`, done, total, runID)
	return err
}

// UpdateRunCounts records how many regions and spots the inputs held.
func (s *Store) UpdateRunCounts(runID string, nRegions, nSpots int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE runs SET n_regions = ?, n_spots = ? WHERE run_id = ?`, nRegions, nSpots, runID)
	return err
}

// InsertResults inserts the per-cell reports of a run in one transaction.
// Report order is kept.
func (s *Store) InsertResults(runID string, reports []coloc.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO cell_results (run_id, position, name, label, n, n_coloc, n_missed,
			pixels_sum, pixels_coloc_sum, pixels_missed_sum,
			intensity_sum, intensity_coloc_sum, intensity_missed_sum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range reports {
		_, err := stmt.Exec(
			runID, i, r.Name, r.Label,
			r.Total.N, r.Coloc.N, r.Missed.N,
			r.Total.Pixels, r.Coloc.Pixels, r.Missed.Pixels,
			r.Total.Intensity, r.Coloc.Intensity, r.Missed.Intensity,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// QueryResults returns the reports of a run in region order, with averages
// recomputed from the stored sums.
func (s *Store) QueryResults(runID string) ([]coloc.Report, error) {
	rows, err := s.db.Query(`
		SELECT name, label, n, n_coloc, n_missed,
			pixels_sum, pixels_coloc_sum, pixels_missed_sum,
			intensity_sum, intensity_coloc_sum, intensity_missed_sum
		FROM cell_results
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []coloc.Report
	for rows.Next() {
		var r coloc.Report
		err := rows.Scan(
			&r.Name, &r.Label,
			&r.Total.N, &r.Coloc.N, &r.Missed.N,
			&r.Total.Pixels, &r.Coloc.Pixels, &r.Missed.Pixels,
			&r.Total.Intensity, &r.Coloc.Intensity, &r.Missed.Intensity,
		)
		if err != nil {
			return nil, err
		}
		r.Averages = coloc.Averages{
			Pixels:          r.Total.PixelsAverage(),
			Intensity:       r.Total.IntensityAverage(),
			PixelsColoc:     r.Coloc.PixelsAverage(),
			PixelsMissed:    r.Missed.PixelsAverage(),
			IntensityColoc:  r.Coloc.IntensityAverage(),
			IntensityMissed: r.Missed.IntensityAverage(),
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// MarkRunningAsFailed marks all running runs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(RunStatusFailed), errMsg, now, string(RunStatusRunning))
	return err
}

// DeleteExpiredRuns deletes finished runs older than retentionDays.
func (s *Store) DeleteExpiredRuns(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	// Delete results first (foreign key)
	_, err := s.db.Exec(`
		DELETE FROM cell_results WHERE run_id IN (
			SELECT run_id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DeleteRun deletes a run and its results.
func (s *Store) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM cell_results WHERE run_id = ?", runID); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM runs WHERE run_id = ?", runID)
	return err
}

func (s *Store) scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var run Run
		var paramsJSON string
		var createdAtStr string
		var startedAtStr, finishedAtStr sql.NullString

		err := rows.Scan(
			&run.ID,
			&run.Status,
			&paramsJSON,
			&run.Progress.Done,
			&run.Progress.Total,
			&run.NRegions,
			&run.NSpots,
			&run.Error,
			&createdAtStr,
			&startedAtStr,
			&finishedAtStr,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}

		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
		if startedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, startedAtStr.String)
			run.StartedAt = &t
		}
		if finishedAtStr.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
			run.FinishedAt = &t
		}

		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
