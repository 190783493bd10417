// Package postgres implements taskweave.TaskStore using PostgreSQL, for
// deployments that share one Postgres instance across multiple server
// processes instead of a per-process local sqlite file.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskweave/taskweave"
)

// Store implements taskweave.TaskStore backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ taskweave.TaskStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for write failures. If not set,
// failures are silently dropped, matching TaskStore's best-effort contract.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the tasks and task_events tables if they don't already exist.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			channel_id TEXT,
			status TEXT NOT NULL,
			result_text TEXT,
			error_message TEXT,
			created_at BIGINT NOT NULL,
			saved_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_events (
			task_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			timestamp BIGINT NOT NULL,
			PRIMARY KEY (task_id, ordinal)
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table: %w", err)
		}
	}
	return nil
}

// SaveTask upserts t's current snapshot; re-saving an already-saved task
// overwrites its status, result and error columns.
func (s *Store) SaveTask(t *taskweave.Task) {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO tasks (id, prompt, requester_id, channel_id, status, result_text, error_message, created_at, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result_text = EXCLUDED.result_text,
			error_message = EXCLUDED.error_message,
			saved_at = EXCLUDED.saved_at
	`, t.ID, t.Prompt, t.RequesterID, t.ChannelID, string(t.Status()),
		t.ResultText(), t.ErrorMessage(), t.CreatedAt, time.Now().Unix())
	if err != nil && s.logger != nil {
		s.logger.Error("postgres: save task failed", "task_id", t.ID, "error", err)
	}
}

// AppendEvent mirrors a single TaskEvent into the task_events table.
func (s *Store) AppendEvent(taskID string, e taskweave.TaskEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("postgres: marshal event failed", "task_id", taskID, "error", err)
		}
		return
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO task_events (task_id, ordinal, type, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id, ordinal) DO NOTHING
	`, taskID, e.Ordinal, string(e.Type), payload, e.Timestamp)
	if err != nil && s.logger != nil {
		s.logger.Error("postgres: append event failed", "task_id", taskID, "error", err)
	}
}
