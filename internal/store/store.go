package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrRunActive is returned when another pipeline run holds the run lock. The
// caller must abort before any mutation: the no-duplicate invariant is not
// guaranteed under concurrent writers.
var ErrRunActive = errors.New("another pipeline run is active")

// Store is the SQLite-backed aggregation store: canonical records, disease
// tags, daily views, the summary cache, the seen-set, and the run lock.
// Exactly one pipeline run mutates it at a time.
type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	identity          TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	abstract          TEXT NOT NULL DEFAULT '',
	authors           TEXT NOT NULL DEFAULT '[]',
	journal           TEXT NOT NULL DEFAULT '',
	published         TEXT NOT NULL DEFAULT '',
	year              INTEGER NOT NULL DEFAULT 0,
	doi               TEXT NOT NULL DEFAULT '',
	pmid              TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	language          TEXT NOT NULL DEFAULT '',
	sources           TEXT NOT NULL DEFAULT '[]',
	impact_factor     REAL,
	collision         INTEGER NOT NULL DEFAULT 0,
	title_variants    TEXT NOT NULL DEFAULT '[]',
	eligible          INTEGER NOT NULL DEFAULT 0,
	exclusion_reasons TEXT NOT NULL DEFAULT '[]',
	unclassified      INTEGER NOT NULL DEFAULT 0,
	section           TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL DEFAULT '',
	summary_short     TEXT NOT NULL DEFAULT '',
	summary_status    TEXT NOT NULL DEFAULT '',
	first_seen_day    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_published ON records (published);

CREATE TABLE IF NOT EXISTS record_tags (
	identity TEXT NOT NULL,
	tag      TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (identity, tag)
);

CREATE INDEX IF NOT EXISTS idx_record_tags_tag ON record_tags (tag);

CREATE TABLE IF NOT EXISTS daily_entries (
	day      TEXT NOT NULL,
	identity TEXT NOT NULL,
	PRIMARY KEY (day, identity)
);

CREATE TABLE IF NOT EXISTS summaries (
	identity      TEXT PRIMARY KEY,
	summary       TEXT NOT NULL,
	summary_short TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS seen (
	identity  TEXT PRIMARY KEY,
	first_day TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	day          TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL DEFAULT '',
	records      INTEGER NOT NULL DEFAULT 0,
	eligible     INTEGER NOT NULL DEFAULT 0,
	summarized   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	owner       TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	expires_at  TEXT NOT NULL
);
`

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AcquireRunLock takes the single-row run lease. A held, unexpired lock from
// another owner means a concurrent run: the caller gets ErrRunActive and must
// abort before touching the store. The TTL guards against a crashed run
// leaving the lock behind forever.
func (s *Store) AcquireRunLock(owner string, ttl time.Duration) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingOwner, expiresAt string
	err = tx.QueryRow(`SELECT owner, expires_at FROM run_lock WHERE id = 1`).Scan(&existingOwner, &expiresAt)
	switch {
	case err == nil:
		expiry, parseErr := time.Parse(time.RFC3339Nano, expiresAt)
		if parseErr == nil && time.Now().UTC().Before(expiry) && existingOwner != owner {
			return fmt.Errorf("%w (owner=%s)", ErrRunActive, existingOwner)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO run_lock (id, owner, acquired_at, expires_at) VALUES (1, ?, ?, ?)`,
		owner, now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ReleaseRunLock(owner string) error {
	_, err := s.db.Exec(`DELETE FROM run_lock WHERE id = 1 AND owner = ?`, owner)
	return err
}

// StartRun records a run audit row.
func (s *Store) StartRun(runID, day string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, day, started_at) VALUES (?, ?, ?)`,
		runID, day, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// CompleteRun finalizes the audit row with batch counts.
func (s *Store) CompleteRun(runID string, records, eligible, summarized int) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, records = ?, eligible = ?, summarized = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), records, eligible, summarized, runID,
	)
	return err
}

// WasSeen reports whether an identity was processed on any prior run.
func (s *Store) WasSeen(key string) (bool, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(1) FROM seen WHERE identity = ?`, key); err != nil {
		return false, err
	}
	return n > 0, nil
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
