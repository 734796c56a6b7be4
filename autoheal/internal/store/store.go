// CLAUDE:SUMMARY SQLite audit store for healing records: WAL pragmas, busy retry, insert, list and aggregate queries.
// Package store persists healing records in SQLite.
//
// The database is opened with the production pragmas applied via EXEC so
// the store works with any database/sql SQLite driver:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	st, err := store.Open(".autoheal/healing.db")
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

const schema = `
CREATE TABLE IF NOT EXISTS healing_records (
	id               TEXT PRIMARY KEY,
	original_locator TEXT NOT NULL,
	page_scope       TEXT NOT NULL,
	page_generation  INTEGER NOT NULL DEFAULT 0,
	action           TEXT NOT NULL,
	healed_locator   TEXT,
	strategy         TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 0,
	success          INTEGER NOT NULL,
	latency_ms       INTEGER NOT NULL,
	ts               INTEGER NOT NULL,
	attempted        TEXT NOT NULL DEFAULT '[]',
	error            TEXT NOT NULL DEFAULT '',
	coalesced        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_healing_records_ts ON healing_records(ts);
CREATE INDEX IF NOT EXISTS idx_healing_records_scope ON healing_records(page_scope, original_locator);
`

// Store is a SQLite-backed healing record log.
type Store struct {
	db *sql.DB
}

// Option customises Open.
type Option func(*config)

type config struct {
	driver      string
	busyTimeout int
	synchronous string
}

// WithDriver sets the database/sql driver name. Default: "sqlite".
func WithDriver(name string) Option { return func(c *config) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// Open opens (creating parent directories) the database at path and
// applies the schema. The caller must blank-import a SQLite driver.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{driver: "sqlite", busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}
	db, err := sql.Open(cfg.driver, path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store for testing and closes it when the
// test ends.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Insert stores rec. Re-inserting an existing ID is a no-op.
func (s *Store) Insert(ctx context.Context, rec locator.HealingRecord) error {
	attempted, err := json.Marshal(rec.Attempted)
	if err != nil {
		return fmt.Errorf("store: marshal attempted: %w", err)
	}
	if rec.Attempted == nil {
		attempted = []byte("[]")
	}
	var healed any
	if rec.HealedLocator != "" {
		healed = string(rec.HealedLocator)
	}
	_, err = Exec(ctx, s.db, `INSERT OR IGNORE INTO healing_records
		(id, original_locator, page_scope, page_generation, action, healed_locator, strategy,
		 confidence, success, latency_ms, ts, attempted, error, coalesced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.OriginalLocator), rec.Page.Scope, int64(rec.Page.Generation), string(rec.Action),
		healed, string(rec.Strategy), rec.Confidence, boolInt(rec.Success), rec.LatencyMs,
		rec.Timestamp.UnixMilli(), string(attempted), rec.Error, boolInt(rec.Coalesced))
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", rec.ID, err)
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	Scope   string
	Since   time.Time
	Success *bool
	Limit   int
}

// List returns records in insertion time order.
func (s *Store) List(ctx context.Context, f Filter) ([]locator.HealingRecord, error) {
	var where []string
	var args []any
	if f.Scope != "" {
		where = append(where, "page_scope = ?")
		args = append(args, f.Scope)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if f.Success != nil {
		where = append(where, "success = ?")
		args = append(args, boolInt(*f.Success))
	}
	q := `SELECT id, original_locator, page_scope, page_generation, action, COALESCE(healed_locator, ''),
		strategy, confidence, success, latency_ms, ts, attempted, error, coalesced
		FROM healing_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts, rowid"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []locator.HealingRecord
	for rows.Next() {
		var (
			r                          locator.HealingRecord
			orig, action, healed, strg string
			gen, ts                    int64
			success, coalesced         int
			attempted                  string
		)
		if err := rows.Scan(&r.ID, &orig, &r.Page.Scope, &gen, &action, &healed, &strg,
			&r.Confidence, &success, &r.LatencyMs, &ts, &attempted, &r.Error, &coalesced); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		r.OriginalLocator = locator.Locator(orig)
		r.Page.Generation = uint64(gen)
		r.Action = locator.ActionKind(action)
		r.HealedLocator = locator.Locator(healed)
		r.Strategy = locator.Strategy(strg)
		r.Success = success != 0
		r.Coalesced = coalesced != 0
		r.Timestamp = time.UnixMilli(ts).UTC()
		if err := json.Unmarshal([]byte(attempted), &r.Attempted); err != nil {
			return nil, fmt.Errorf("store: attempted of %s: %w", r.ID, err)
		}
		if len(r.Attempted) == 0 {
			r.Attempted = nil
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summarize aggregates every stored record. Direct successes are not
// persisted, so Summary.Direct is always zero.
func (s *Store) Summarize(ctx context.Context) (locator.Summary, error) {
	sum := locator.Summary{ByStrategy: make(map[locator.Strategy]int)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, SUM(success), COUNT(*) FROM healing_records GROUP BY strategy`)
	if err != nil {
		return sum, fmt.Errorf("store: summarize: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var strategy string
		var ok, n int
		if err := rows.Scan(&strategy, &ok, &n); err != nil {
			return sum, fmt.Errorf("store: summarize scan: %w", err)
		}
		sum.ByStrategy[locator.Strategy(strategy)] = n
		sum.Total += n
		sum.Succeeded += ok
		sum.Failed += n - ok
	}
	return sum, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
