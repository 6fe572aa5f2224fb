// Package state persists what the background work must remember across
// restarts: the retry counter, the last execution time and the last known
// update statuses.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ffupdater/ffupdaterd/internal/apps"
)

const (
	keyLastExecution = "last_execution_ms"
	keyAttemptCount  = "attempt_count"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS statuses (
	app               TEXT PRIMARY KEY,
	installed_version TEXT NOT NULL,
	latest_version    TEXT NOT NULL,
	download_url      TEXT NOT NULL,
	update_available  INTEGER NOT NULL,
	fetched_at_ms     INTEGER NOT NULL
);`

// RetryState is the retry bookkeeping of the periodic work.
type RetryState struct {
	AttemptCount  int
	LastExecution time.Time
}

// Store is a SQLite backed state store.
type Store struct {
	db *sql.DB
}

// Open opens (and creates) the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// one connection keeps :memory: consistent and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getInt(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *Store) setInt(ctx context.Context, key string, v int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, v)
	return err
}

// LastExecution returns the time the periodic work last started, or the
// zero time if it never ran.
func (s *Store) LastExecution(ctx context.Context) (time.Time, error) {
	ms, err := s.getInt(ctx, keyLastExecution)
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (s *Store) SetLastExecution(ctx context.Context, t time.Time) error {
	return s.setInt(ctx, keyLastExecution, t.UnixMilli())
}

func (s *Store) AttemptCount(ctx context.Context) (int, error) {
	n, err := s.getInt(ctx, keyAttemptCount)
	return int(n), err
}

func (s *Store) SetAttemptCount(ctx context.Context, n int) error {
	return s.setInt(ctx, keyAttemptCount, int64(n))
}

func (s *Store) RetryState(ctx context.Context) (RetryState, error) {
	n, err := s.AttemptCount(ctx)
	if err != nil {
		return RetryState{}, err
	}
	last, err := s.LastExecution(ctx)
	if err != nil {
		return RetryState{}, err
	}
	return RetryState{AttemptCount: n, LastExecution: last}, nil
}

// SaveStatuses replaces the last known status of every application in list.
func (s *Store) SaveStatuses(ctx context.Context, list []apps.UpdateStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, st := range list {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO statuses (app, installed_version, latest_version, download_url, update_available, fetched_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(app) DO UPDATE SET
			   installed_version = excluded.installed_version,
			   latest_version = excluded.latest_version,
			   download_url = excluded.download_url,
			   update_available = excluded.update_available,
			   fetched_at_ms = excluded.fetched_at_ms`,
			string(st.App), st.InstalledVersion, st.LatestVersion, st.DownloadURL,
			boolToInt(st.IsUpdateAvailable), st.FetchedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("save status of %s: %w", st.App, err)
		}
	}
	return tx.Commit()
}

// Statuses returns the last known status of every application, ordered by
// identity.
func (s *Store) Statuses(ctx context.Context) ([]apps.UpdateStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT app, installed_version, latest_version, download_url, update_available, fetched_at_ms
		 FROM statuses ORDER BY app`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []apps.UpdateStatus
	for rows.Next() {
		var (
			st        apps.UpdateStatus
			app       string
			available int
			fetchedMs int64
		)
		if err := rows.Scan(&app, &st.InstalledVersion, &st.LatestVersion, &st.DownloadURL, &available, &fetchedMs); err != nil {
			return nil, err
		}
		st.App = apps.ID(app)
		st.IsUpdateAvailable = available != 0
		st.FetchedAt = time.UnixMilli(fetchedMs)
		out = append(out, st)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
