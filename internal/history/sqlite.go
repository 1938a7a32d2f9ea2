package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

const createReportsSQL = `
CREATE TABLE IF NOT EXISTS reports (
	run_id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	train TEXT NOT NULL DEFAULT '',
	best TEXT NOT NULL DEFAULT '',
	row_count INTEGER NOT NULL,
	skipped_count INTEGER NOT NULL,
	finished_at TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_finished ON reports(finished_at);
`

// timeLayout is fixed width so finished_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps reports in a local SQLite database (WAL mode).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.StorageError("create history dir", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.StorageError("open history db", err)
	}
	if _, err := db.Exec(createReportsSQL); err != nil {
		db.Close()
		return nil, apperrors.StorageError("init history schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, r *evaluation.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return apperrors.StorageError("encode report", err)
	}
	sum := summarize(r)
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO reports
		(run_id, mode, train, best, row_count, skipped_count, finished_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Mode, sum.Train, sum.Best, sum.Rows, sum.Skipped,
		sum.FinishedAt.UTC().Format(timeLayout), string(body),
	)
	if err != nil {
		return apperrors.StorageError("save report", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*evaluation.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, apperrors.StorageError("load report", err)
	}
	var r evaluation.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, apperrors.StorageError("decode report", err)
	}
	return &r, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT run_id, mode, train, best, row_count, skipped_count, finished_at
		FROM reports ORDER BY finished_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StorageError("list reports", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum      Summary
			finished string
		)
		if err := rows.Scan(&sum.RunID, &sum.Mode, &sum.Train, &sum.Best, &sum.Rows, &sum.Skipped, &finished); err != nil {
			return nil, apperrors.StorageError("scan report", err)
		}
		if t, err := time.Parse(timeLayout, finished); err == nil {
			sum.FinishedAt = t
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageError("list reports", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE run_id = ?`, runID)
	if err != nil {
		return apperrors.StorageError("delete report", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
