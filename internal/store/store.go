// Package store provides the SQLite-backed conversation log.
//
// Persistence here is deliberately best-effort bookkeeping: the query loop
// treats every write as optional, so nothing in this package is on the
// critical path of answering a user.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bdobrica/tachikoma/internal/llm"
	"github.com/bdobrica/tachikoma/internal/trace"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite connection and provides access to the log tables.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs all pending
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// runMigrations applies any SQL files not yet recorded in schema_migrations.
func (s *Store) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	_ = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			version, description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", e.Name(), err)
		}
		slog.Info("applied migration", "version", version, "description", description)
	}
	return nil
}

// SaveSnapshot appends one conversation snapshot. A long tool chain produces
// multiple rows for the same conversation, each holding the growing message
// history up to that round.
func (s *Store) SaveSnapshot(ctx context.Context, conversationID string, round int, messages []llm.Message) error {
	blob, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_log (trace_id, conversation_id, round, messages_json)
		VALUES (?, ?, ?, ?)`,
		nullableString(trace.FromContext(ctx)), conversationID, round, string(blob),
	)
	return err
}

// Snapshot is one persisted conversation snapshot row.
type Snapshot struct {
	TraceID        string
	ConversationID string
	Round          int
	Messages       []llm.Message
}

// LoadSnapshots returns all snapshots of one conversation in round order.
func (s *Store) LoadSnapshots(ctx context.Context, conversationID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(trace_id, ''), conversation_id, round, messages_json
		FROM conversation_log
		WHERE conversation_id = ?
		ORDER BY round, id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var blob string
		if err := rows.Scan(&snap.TraceID, &snap.ConversationID, &snap.Round, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blob), &snap.Messages); err != nil {
			return nil, fmt.Errorf("decode messages_json: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// LogTurn inserts a new row into turn_log and returns the inserted ID.
// Channel identifies the front end that received the query ("matrix", "http").
func (s *Store) LogTurn(traceID, channel, sender, query string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO turn_log (trace_id, channel, sender, query)
		VALUES (?, ?, ?, ?)`,
		traceID, channel, sender, query,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishTurn updates an existing turn_log row with the outcome.
func (s *Store) FinishTurn(id int64, rounds, toolCalls int, result, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE turn_log
		SET rounds = ?, tool_calls = ?, result = ?, error_msg = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		rounds, toolCalls, result, nullableString(errMsg), id,
	)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
