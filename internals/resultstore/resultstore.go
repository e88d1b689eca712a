// Package resultstore persists the most recent outcome of each job kind so a
// dashboard reload can show the last result without re-running anything.
// Retention is exactly one row per kind, overwritten on every completion.
package resultstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNoResult is returned when no completed result is stored for the query.
var ErrNoResult = errors.New("no stored result")

// Entry is one persisted outcome.
type Entry struct {
	Kind        string
	TaskID      string
	Status      string
	Message     string
	Result      any
	Error       string
	CompletedAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite store at dbPath and applies
// pending migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, err
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating result store: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the entry as the latest outcome of its kind.
func (s *Store) Save(ctx context.Context, entry Entry) error {
	resultJSON, err := marshalResult(entry.Result)
	if err != nil {
		return fmt.Errorf("encoding result for kind %s: %w", entry.Kind, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO latest_results (kind, task_id, status, message, result_json, error, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(kind) DO UPDATE SET
	task_id = excluded.task_id,
	status = excluded.status,
	message = excluded.message,
	result_json = excluded.result_json,
	error = excluded.error,
	completed_at = excluded.completed_at
`, entry.Kind, entry.TaskID, entry.Status, entry.Message, resultJSON, entry.Error, entry.CompletedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Latest returns the stored outcome for kind.
func (s *Store) Latest(ctx context.Context, kind string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT kind, task_id, status, message, result_json, error, completed_at
FROM latest_results WHERE kind = ?
`, kind)
	return scanEntry(row)
}

// LatestAny returns the most recently completed outcome across all kinds.
func (s *Store) LatestAny(ctx context.Context) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT kind, task_id, status, message, result_json, error, completed_at
FROM latest_results ORDER BY completed_at DESC LIMIT 1
`)
	return scanEntry(row)
}

func scanEntry(row *sql.Row) (Entry, error) {
	var entry Entry
	var message, resultJSON, errText sql.NullString
	var completedAt string

	err := row.Scan(&entry.Kind, &entry.TaskID, &entry.Status, &message, &resultJSON, &errText, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNoResult
	}
	if err != nil {
		return Entry{}, err
	}

	entry.Message = message.String
	entry.Error = errText.String
	if resultJSON.Valid && resultJSON.String != "" {
		var decoded any
		if err := json.Unmarshal([]byte(resultJSON.String), &decoded); err != nil {
			return Entry{}, fmt.Errorf("decoding stored result for kind %s: %w", entry.Kind, err)
		}
		entry.Result = decoded
	}
	entry.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func marshalResult(result any) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}
