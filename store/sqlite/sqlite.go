// Package sqlite implements taskweave.TaskStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskweave/taskweave"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, failed
// writes are logged at error level, and opening the store and Init emit
// debug logs (Init with its elapsed time). If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements taskweave.TaskStore backed by a local SQLite file. Writes
// are synchronous and best-effort: a failed write is logged and dropped
// rather than returned, so a store failure never fails Emit.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ taskweave.TaskStore = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a single
// shared connection with SetMaxOpenConns(1) so that all goroutines serialize
// through one connection, eliminating SQLITE_BUSY errors from concurrent
// writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the tasks and task_events tables if they don't already exist.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()

	tables := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			channel_id TEXT,
			status TEXT NOT NULL,
			result_text TEXT,
			error_message TEXT,
			created_at INTEGER NOT NULL,
			saved_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_events (
			task_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (task_id, ordinal)
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}

	s.logger.Debug("sqlite: init complete", "elapsed", time.Since(start))
	return nil
}

// SaveTask upserts t's current snapshot. The orchestrator calls it once,
// when the task is created; re-saving an already-saved task overwrites its
// status, result and error columns.
func (s *Store) SaveTask(t *taskweave.Task) {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO tasks (id, prompt, requester_id, channel_id, status, result_text, error_message, created_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result_text = excluded.result_text,
			error_message = excluded.error_message,
			saved_at = excluded.saved_at
	`, t.ID, t.Prompt, t.RequesterID, t.ChannelID, string(t.Status()),
		t.ResultText(), t.ErrorMessage(), t.CreatedAt, time.Now().Unix())
	if err != nil {
		s.logger.Error("sqlite: save task failed", "task_id", t.ID, "error", err)
	}
}

// AppendEvent mirrors a single TaskEvent into the task_events table, keyed
// by (task_id, ordinal) so replays and duplicate emits are idempotent.
func (s *Store) AppendEvent(taskID string, e taskweave.TaskEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("sqlite: marshal event failed", "task_id", taskID, "error", err)
		return
	}
	_, err = s.db.ExecContext(context.Background(), `
		INSERT INTO task_events (task_id, ordinal, type, payload, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, ordinal) DO NOTHING
	`, taskID, e.Ordinal, string(e.Type), string(payload), e.Timestamp)
	if err != nil {
		s.logger.Error("sqlite: append event failed", "task_id", taskID, "error", err)
	}
}

// Close releases the store's database connection.
func (s *Store) Close() error { return s.db.Close() }
