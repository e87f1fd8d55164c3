package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/model"
)

// Well-known local_state keys, kept byte-compatible with the v1 web
// client's localStorage layout.
const (
	taskMapKey  = "calendar_tasks_v1"
	migratedKey = "calendar_tasks_migrated_v1"
)

// SQLiteStore implements the Local interface using a local SQLite
// database as a small key/value state store.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
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

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// LoadTasks returns the persisted task mapping. A missing key yields an
// empty mapping. Once the migration flag is set the persisted mapping is
// inert: loads return empty without touching it.
func (s *SQLiteStore) LoadTasks(ctx context.Context) (model.TaskMap, error) {
	migrated, err := s.Migrated(ctx)
	if err != nil {
		return nil, err
	}
	if migrated {
		return model.TaskMap{}, nil
	}

	raw, ok, err := s.getValue(ctx, taskMapKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return model.TaskMap{}, nil
	}

	var m model.TaskMap
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling task mapping: %w", err)
	}
	if m == nil {
		m = model.TaskMap{}
	}
	return m, nil
}

// SaveTasks replaces the persisted task mapping wholesale. A no-op once
// the migration flag is set.
func (s *SQLiteStore) SaveTasks(ctx context.Context, m model.TaskMap) error {
	migrated, err := s.Migrated(ctx)
	if err != nil {
		return err
	}
	if migrated {
		return nil
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling task mapping: %w", err)
	}
	return s.setValue(ctx, taskMapKey, string(raw))
}

// ClearTasks removes the persisted task mapping.
func (s *SQLiteStore) ClearTasks(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM local_state WHERE key = ?", taskMapKey,
	)
	if err != nil {
		return fmt.Errorf("clearing task mapping: %w", err)
	}
	return nil
}

// Migrated reports whether the one-time cloud migration has completed.
func (s *SQLiteStore) Migrated(ctx context.Context) (bool, error) {
	_, ok, err := s.getValue(ctx, migratedKey)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// SetMigrated records that migration has completed. Presence of the key
// is what matters; the value is incidental.
func (s *SQLiteStore) SetMigrated(ctx context.Context) error {
	return s.setValue(ctx, migratedKey, "1")
}

// getValue reads one local_state value. The second return reports
// whether the key was present.
func (s *SQLiteStore) getValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM local_state WHERE key = ?", key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading local state %q: %w", key, err)
	}
	return value, true, nil
}

// setValue writes one local_state value.
func (s *SQLiteStore) setValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO local_state (key, value, updated_at)
		VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing local state %q: %w", key, err)
	}
	return nil
}
