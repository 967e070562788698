package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned by mutators when no state row exists for
// the session.
var ErrSessionNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS workflow_states (
	session_id               TEXT PRIMARY KEY,
	workflow_name            TEXT NOT NULL,
	step                     TEXT,
	step_entered_at          TEXT,
	step_action_count        INTEGER NOT NULL DEFAULT 0,
	total_action_count       INTEGER NOT NULL DEFAULT 0,
	observations             TEXT NOT NULL DEFAULT '[]',
	reflection_pending       INTEGER NOT NULL DEFAULT 0,
	context_injected         INTEGER NOT NULL DEFAULT 0,
	variables                TEXT NOT NULL DEFAULT '{}',
	task_list                TEXT NOT NULL DEFAULT '[]',
	current_task_index       INTEGER NOT NULL DEFAULT 0,
	files_modified_this_task TEXT NOT NULL DEFAULT '[]',
	approval_pending         INTEGER NOT NULL DEFAULT 0,
	approval_condition_id    TEXT NOT NULL DEFAULT '',
	approval_prompt          TEXT NOT NULL DEFAULT '',
	approval_requested_at    TEXT,
	approval_timeout_seconds INTEGER NOT NULL DEFAULT 0,
	disabled                 INTEGER NOT NULL DEFAULT 0,
	disabled_reason          TEXT NOT NULL DEFAULT '',
	initial_step             TEXT NOT NULL DEFAULT '',
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	workflow_name TEXT NOT NULL,
	enabled       INTEGER NOT NULL DEFAULT 1,
	priority      INTEGER NOT NULL DEFAULT 0,
	current_step  TEXT NOT NULL DEFAULT '',
	variables     TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	UNIQUE (session_id, workflow_name)
);

CREATE TABLE IF NOT EXISTS session_variables (
	session_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (session_id, name)
);

CREATE TABLE IF NOT EXISTS rules (
	name       TEXT NOT NULL,
	tier       TEXT NOT NULL CHECK (tier IN ('project', 'user', 'bundled')),
	definition TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (name, tier, project_id)
);

CREATE TABLE IF NOT EXISTS workflow_audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	step       TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	tool       TEXT NOT NULL DEFAULT '',
	rule       TEXT NOT NULL DEFAULT '',
	result     TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_audit_session ON workflow_audit (session_id, kind);
`

// Store is the SQLite-backed state store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a Store on the given SQLite database path. Use ":memory:"
// for tests. WAL mode and a busy timeout are applied to every pooled
// connection; _txlock=immediate makes every transaction take the write lock
// up front, which is what serializes concurrent variable merges.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One open connection serializes writes and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// beginImmediate starts a write transaction. With _txlock=immediate in the
// DSN the write lock is held from BEGIN, giving read-merge-write mutators
// serialized access.
func (s *Store) beginImmediate(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
