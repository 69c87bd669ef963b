package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations define the tables for the persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS investigation_states (
    id          TEXT PRIMARY KEY,
    data        BLOB NOT NULL,
    version     INTEGER NOT NULL,
    phase       INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_states_updated_at ON investigation_states(updated_at DESC);
`,
	},
	// Migration 2: escalation handoffs
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS handoffs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    investigation_id TEXT NOT NULL REFERENCES investigation_states(id) ON DELETE CASCADE,
    reason           TEXT NOT NULL,
    target_team      TEXT NOT NULL DEFAULT '',
    severity         TEXT NOT NULL DEFAULT '',
    payload          TEXT NOT NULL DEFAULT '{}',
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_handoffs_investigation ON handoffs(investigation_id, created_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Investigation states ─────────────────────────────────────────────────────

func (s *sqliteStore) GetState(ctx context.Context, id string) (*StateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, version, phase, updated_at FROM investigation_states WHERE id=?`, id)

	rec := &StateRecord{}
	var updatedAt string
	if err := row.Scan(&rec.ID, &rec.Data, &rec.Version, &rec.Phase, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get state %s: %w", id, err)
	}
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return rec, nil
}

func (s *sqliteStore) PutState(ctx context.Context, rec *StateRecord) error {
	if rec.Version < 1 {
		return fmt.Errorf("put state %s: version must be positive, got %d", rec.ID, rec.Version)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM investigation_states WHERE id=?`, rec.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return fmt.Errorf("read state version: %w", err)
	}
	if current != rec.Version-1 {
		return fmt.Errorf("put state %s (stored v%d, writing v%d): %w", rec.ID, current, rec.Version, ErrVersionConflict)
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO investigation_states(id, data, version, phase, updated_at)
        VALUES(?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            data       = excluded.data,
            version    = excluded.version,
            phase      = excluded.phase,
            updated_at = excluded.updated_at
    `, rec.ID, rec.Data, rec.Version, rec.Phase, formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteStore) ListStates(ctx context.Context, limit, offset int) ([]*StateRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, version, phase, updated_at FROM investigation_states
        ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var out []*StateRecord
	for rows.Next() {
		rec := &StateRecord{}
		var updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Phase, &updatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt, _ = parseTime(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ─── Handoffs ─────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendHandoff(ctx context.Context, rec *HandoffRecord) error {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO handoffs(investigation_id, reason, target_team, severity, payload, created_at)
        VALUES(?,?,?,?,?,?)
    `, rec.InvestigationID, rec.Reason, rec.TargetTeam, rec.Severity, rec.Payload, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert handoff: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("handoff id: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *sqliteStore) ListHandoffs(ctx context.Context, investigationID string, limit int) ([]*HandoffRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, investigation_id, reason, target_team, severity, payload, created_at FROM handoffs`
	args := []interface{}{}
	if investigationID != "" {
		query += ` WHERE investigation_id=?`
		args = append(args, investigationID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list handoffs: %w", err)
	}
	defer rows.Close()

	var out []*HandoffRecord
	for rows.Next() {
		rec := &HandoffRecord{}
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.InvestigationID, &rec.Reason, &rec.TargetTeam,
			&rec.Severity, &rec.Payload, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time format: %q", s)
}
