package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/iliyamo/taskpulse/internal/model"
)

// LocalStore persists one user's cached notification list across restarts.
type LocalStore interface {
	Load(ctx context.Context, userID int64) ([]model.Notification, error)
	Save(ctx context.Context, userID int64, list []model.Notification) error
	Close() error
}

// SQLiteStore implements LocalStore on a local SQLite database.  The list
// is kept as a single JSON document per user.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the cache database at dbPath, enables
// WAL mode and runs any pending migrations.  ":memory:" is accepted for
// tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

type migration struct {
	version int
	sql     string
}

// migrations must stay sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_cache (
	user_id    INTEGER PRIMARY KEY,
	payload    TEXT NOT NULL DEFAULT '[]',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	},
}

func (s *SQLiteStore) runMigrations() error {
	current := 0

	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Load returns the cached list for userID, or an empty list when nothing
// is cached yet.  A payload that no longer decodes is treated as empty.
func (s *SQLiteStore) Load(ctx context.Context, userID int64) ([]model.Notification, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, "SELECT payload FROM notification_cache WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return []model.Notification{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading cache for user %d: %w", userID, err)
	}

	var list []model.Notification
	if err := json.Unmarshal([]byte(payload), &list); err != nil || list == nil {
		return []model.Notification{}, nil
	}
	return list, nil
}

// Save replaces the cached list for userID.
func (s *SQLiteStore) Save(ctx context.Context, userID int64, list []model.Notification) error {
	if list == nil {
		list = []model.Notification{}
	}
	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding cache for user %d: %w", userID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_cache (user_id, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		userID, string(payload))
	if err != nil {
		return fmt.Errorf("saving cache for user %d: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
