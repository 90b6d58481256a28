package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jakopako/goverify/internal/verify"
)

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		script TEXT NOT NULL,
		status TEXT NOT NULL,
		failed_step INTEGER NOT NULL,
		error_kind TEXT NOT NULL,
		artifact_path TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		result TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// SQLiteWriter appends run results to a run history database.
type SQLiteWriter struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteWriter opens (and if needed creates) the history database at
// wc.DBPath.
func NewSQLiteWriter(ctx context.Context, wc *WriterConfig) (*SQLiteWriter, error) {
	if wc.DBPath == "" {
		return nil, errors.New("db_path needs to be specified for the SQLiteWriter")
	}
	return OpenHistory(ctx, wc.DBPath)
}

// OpenHistory opens the history database at path.
func OpenHistory(ctx context.Context, path string) (*SQLiteWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create runs table: %w", err)
	}
	logger := slog.With(slog.String("writer", string(SQLITE_WRITER_TYPE)))
	logger.Debug(fmt.Sprintf("run history initialized at %s", path))
	return &SQLiteWriter{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (w *SQLiteWriter) Close() error { return w.db.Close() }

func (w *SQLiteWriter) Write(ctx context.Context, res verify.RunResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("error while encoding result: %w", err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO runs (id, script, status, failed_step, error_kind, artifact_path, started_at, ended_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		res.Script,
		string(res.Status),
		res.FailedStep,
		string(res.ErrorKind),
		res.ArtifactPath,
		res.Start.UnixNano(),
		res.End.UnixNano(),
		string(b),
	)
	if err != nil {
		return fmt.Errorf("could not insert run %s: %w", res.ID, err)
	}
	w.logger.Info(fmt.Sprintf("stored result of run %s", res.ID))
	return nil
}

// History returns up to limit past runs, newest first. A limit of 0 or less
// returns all runs. Results read back from the history carry no error chain,
// only the error kind and message.
func (w *SQLiteWriter) History(ctx context.Context, limit int) ([]verify.RunResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := w.db.QueryContext(ctx, `SELECT result FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query runs: %w", err)
	}
	defer rows.Close()

	runs := []verify.RunResult{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("could not scan run: %w", err)
		}
		var res verify.RunResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("could not decode run: %w", err)
		}
		runs = append(runs, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate runs: %w", err)
	}
	return runs, nil
}
