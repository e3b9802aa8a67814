package handoff

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots as JSON rows keyed by creation time.
type SQLiteStore struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*FileStore)(nil)
)

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("handoff: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("handoff: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS handoffs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		from_adapter TEXT NOT NULL DEFAULT '',
		to_adapter TEXT NOT NULL DEFAULT '',
		entry_count INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		consumed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_handoffs_created ON handoffs(created_at);
	`)
	if err != nil {
		return err
	}

	// Databases created before consumption tracking lack the column.
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('handoffs') WHERE name = 'consumed_at'`,
	).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err = s.db.ExecContext(ctx, `ALTER TABLE handoffs ADD COLUMN consumed_at INTEGER`)
	}
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("handoff: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO handoffs (id, created_at, from_adapter, to_adapter, entry_count, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.CreatedAt.UnixNano(), snap.FromAdapter, snap.ToAdapter, snap.EntryCount, string(payload),
	)
	if err != nil {
		return fmt.Errorf("handoff: insert snapshot: %w", err)
	}
	return nil
}

// MarkConsumed stamps consumed_at on the row with the given id.
func (s *SQLiteStore) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE handoffs SET consumed_at = ? WHERE id = ?`, at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("handoff: mark consumed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context) (Snapshot, bool, error) {
	var payload string
	var consumed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, consumed_at FROM handoffs ORDER BY created_at DESC LIMIT 1`,
	).Scan(&payload, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("handoff: query latest: %w", err)
	}
	snap, err := decodeSnapshot(payload, consumed)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// List returns up to limit snapshots, newest first. A non-positive limit
// returns all of them.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, consumed_at FROM handoffs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("handoff: query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		var payload string
		var consumed sql.NullInt64
		if err := rows.Scan(&payload, &consumed); err != nil {
			return nil, fmt.Errorf("handoff: scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(payload, consumed)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeSnapshot(payload string, consumed sql.NullInt64) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("handoff: decode snapshot: %w", err)
	}
	if consumed.Valid {
		at := time.Unix(0, consumed.Int64).UTC()
		snap.ConsumedAt = &at
	}
	return snap, nil
}
