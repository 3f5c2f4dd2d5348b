// Package sqlite implements store.RunStore on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/store"
)

// Store implements store.RunStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.RunStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		problem TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		proposals INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		proposal INTEGER NOT NULL DEFAULT 0,
		actor TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, problem, status, proposals, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Problem, run.Status, run.Proposals, run.Error, run.CreatedAt,
	)
	return err
}

func (s *Store) FinishRun(ctx context.Context, id string, status domain.RunStatus, proposals int, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, proposals=?, error=?, finished_at=? WHERE id=?`,
		status, proposals, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var r domain.Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.Problem, &r.Status, &r.Proposals, &r.Error, &r.CreatedAt, &finished)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, err
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, problem, status, proposals, error, created_at, finished_at
		 FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, problem, status, proposals, error, created_at, finished_at
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) Append(ctx context.Context, ev *domain.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Get next sequence number.
	var maxSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, ev.RunID,
	).Scan(&maxSeq)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, type, proposal, actor, content, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, maxSeq+1, ev.Type, ev.Proposal, ev.Actor, ev.Content, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ev.Seq = maxSeq + 1
	return nil
}

func (s *Store) Events(ctx context.Context, runID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, type, proposal, actor, content, timestamp
		 FROM events WHERE run_id=? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Type, &e.Proposal, &e.Actor, &e.Content, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
