// Package ledger indexes audit entries and handoffs in SQLite so they can
// be queried across workflows. The JSONL chain stays the tamper-evident
// record; the ledger is a queryable copy.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/handoff"
)

// DefaultLimit caps query results when no limit is given.
const DefaultLimit = 100

// Ledger is a SQLite-backed audit.Sink and handoff index.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   TEXT NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			event       TEXT NOT NULL,
			lane        TEXT NOT NULL DEFAULT '',
			operation   TEXT NOT NULL DEFAULT '',
			success     INTEGER NOT NULL,
			reason      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_workflow ON entries(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_event ON entries(event, success)`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			id            TEXT PRIMARY KEY,
			timestamp     TEXT NOT NULL,
			from_lane     TEXT NOT NULL,
			to_lane       TEXT NOT NULL,
			status        TEXT NOT NULL,
			patch_file    TEXT NOT NULL,
			combined_hash TEXT NOT NULL,
			content_hash  TEXT NOT NULL,
			path          TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Append implements audit.Sink.
func (l *Ledger) Append(e audit.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(
		`INSERT INTO entries(timestamp, workflow_id, event, lane, operation, success, reason)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.WorkflowID, string(e.Event), e.Lane, e.Operation, e.Success, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	return nil
}

// RecordHandoff indexes a persisted handoff. Re-recording the same id is a
// no-op.
func (l *Ledger) RecordHandoff(h *handoff.Handoff, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(
		`INSERT OR IGNORE INTO handoffs(id, timestamp, from_lane, to_lane, status, patch_file, combined_hash, content_hash, path)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.Timestamp, string(h.FromLane), string(h.ToLane), h.Status,
		h.Artifacts.PatchFile, h.Artifacts.CombinedHash, h.Artifacts.Signature.ContentHash, path,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert handoff: %w", err)
	}
	return nil
}

// Query filters entries. Empty fields match anything.
type Query struct {
	WorkflowID string
	Lane       string
	Event      audit.Event
	// FailuresOnly keeps entries with success = false.
	FailuresOnly bool
	Limit        int
}

// Entries returns matching entries, newest first.
func (l *Ledger) Entries(ctx context.Context, q Query) ([]audit.Entry, error) {
	var where []string
	var args []any
	if q.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, q.WorkflowID)
	}
	if q.Lane != "" {
		where = append(where, "lane = ?")
		args = append(args, q.Lane)
	}
	if q.Event != "" {
		where = append(where, "event = ?")
		args = append(args, string(q.Event))
	}
	if q.FailuresOnly {
		where = append(where, "success = 0")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT timestamp, workflow_id, event, lane, operation, success, reason FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var event string
		if err := rows.Scan(&e.Timestamp, &e.WorkflowID, &event, &e.Lane, &e.Operation, &e.Success, &e.Reason); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		e.Event = audit.Event(event)
		out = append(out, e)
	}
	return out, rows.Err()
}

// HandoffRow is an indexed handoff.
type HandoffRow struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	FromLane     string `json:"from_lane"`
	ToLane       string `json:"to_lane"`
	Status       string `json:"status"`
	PatchFile    string `json:"patch_file"`
	CombinedHash string `json:"combined_hash"`
	ContentHash  string `json:"content_hash"`
	Path         string `json:"path"`
}

// Handoffs returns indexed handoffs, newest first.
func (l *Ledger) Handoffs(ctx context.Context, limit int) ([]HandoffRow, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, from_lane, to_lane, status, patch_file, combined_hash, content_hash, path
		 FROM handoffs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query handoffs: %w", err)
	}
	defer rows.Close()

	var out []HandoffRow
	for rows.Next() {
		var r HandoffRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.FromLane, &r.ToLane, &r.Status,
			&r.PatchFile, &r.CombinedHash, &r.ContentHash, &r.Path); err != nil {
			return nil, fmt.Errorf("ledger: scan handoff: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
