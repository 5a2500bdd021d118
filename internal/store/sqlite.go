// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides operation journal persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS operations (
			id          TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			kind        TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			notification_id TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT '',
			request     TEXT NOT NULL DEFAULT '',
			response    TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_operations_agent_created
			ON operations(agent_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_operations_outcome
			ON operations(outcome);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addColumn("operations", "notification_id", "TEXT NOT NULL DEFAULT ''")
}

// addColumn adds a column to a table created by an older schema.
func (s *SQLiteStore) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("reading %s columns: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return fmt.Errorf("scanning %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating %s columns: %w", table, err)
	}

	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// RecordOperation appends a journal entry.
func (s *SQLiteStore) RecordOperation(ctx context.Context, op *Operation) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO operations (id, agent_id, kind, outcome, notification_id, status_code, error, request, response, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		op.AgentID,
		op.Kind,
		op.Outcome,
		op.NotificationID,
		op.StatusCode,
		op.Error,
		op.Request,
		op.Response,
		op.Duration.Milliseconds(),
		op.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting operation: %w", err)
	}

	return nil
}

// ListOperations returns the newest entries for an agent, newest first.
func (s *SQLiteStore) ListOperations(ctx context.Context, agentID string, limit int) ([]*Operation, error) {
	query := `
		SELECT id, agent_id, kind, outcome, notification_id, status_code, error, request, response, duration_ms, created_at
		FROM operations
		WHERE agent_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, agentID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var durationMs int64
		if err := rows.Scan(
			&op.ID,
			&op.AgentID,
			&op.Kind,
			&op.Outcome,
			&op.NotificationID,
			&op.StatusCode,
			&op.Error,
			&op.Request,
			&op.Response,
			&durationMs,
			&op.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.Duration = time.Duration(durationMs) * time.Millisecond
		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operations: %w", err)
	}

	return ops, nil
}

// CountByOutcome returns the number of entries per outcome.
func (s *SQLiteStore) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM operations GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("counting operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counts: %w", err)
	}
	return counts, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
