package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/flowmarine/offline/internal/apperr"
)

// migration is a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered schema history. Never reorder or edit an
// applied entry; append a new version instead.
var migrations = []migration{
	{
		Version:     1,
		Description: "create offline_actions table",
		SQL: `
		CREATE TABLE IF NOT EXISTS offline_actions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			action_type TEXT NOT NULL CHECK(action_type IN ('create','update','delete')),
			entity TEXT NOT NULL CHECK(length(entity) > 0),
			payload BLOB NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			scope_id TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
			max_retries INTEGER NOT NULL DEFAULT 3 CHECK(max_retries >= 0),
			status TEXT NOT NULL CHECK(status IN ('pending','syncing','synced','failed','conflict')),
			conflict_payload BLOB,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	},
	{
		Version:     2,
		Description: "create offline_actions indexes",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_offline_actions_status ON offline_actions(status);
		CREATE INDEX IF NOT EXISTS idx_offline_actions_created_at ON offline_actions(created_at);
		CREATE INDEX IF NOT EXISTS idx_offline_actions_owner ON offline_actions(owner_id);`,
	},
	{
		Version:     3,
		Description: "create sync_meta table",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	},
}

// Migrate brings the schema up to the latest version, recording each
// applied step in schema_migrations with a checksum of its SQL.
func Migrate(db *sql.DB) error {
	if err := initMigrationTable(db); err != nil {
		return apperr.Wrap(apperr.CodeMigration, "failed to initialize migration table", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return apperr.Wrap(apperr.CodeMigration, "failed to read schema version", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return apperr.Wrap(apperr.CodeMigration,
				fmt.Sprintf("migration %d (%s) failed", m.Version, m.Description), err)
		}
	}

	return nil
}

func initMigrationTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := db.Exec(query)
	return err
}

func currentVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(m.SQL))
	_, err = tx.Exec(
		`INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)`,
		m.Version, time.Now().Unix(), m.Description, hex.EncodeToString(sum[:]),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}
