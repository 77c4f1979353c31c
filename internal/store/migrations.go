package store

import (
	"database/sql"
	"fmt"

	"bobchad/internal/logging"
)

// Schema versions:
// v1: history and rules tables
const CurrentSchemaVersion = 1

// migrations[i] upgrades a database from version i to i+1.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		provenance_id TEXT NOT NULL,
		ticket_id TEXT NOT NULL DEFAULT '',
		task_type TEXT NOT NULL,
		tool TEXT NOT NULL DEFAULT '',
		paths TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		diff TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		failure_kind TEXT NOT NULL DEFAULT '',
		failure_code TEXT NOT NULL DEFAULT '',
		failure_path TEXT NOT NULL DEFAULT '',
		failure_rule TEXT NOT NULL DEFAULT '',
		failure_detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_history_ticket ON history(ticket_id);
	CREATE INDEX IF NOT EXISTS idx_history_status ON history(status);

	CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`,
}

// RunMigrations brings the schema up to CurrentSchemaVersion. The version
// lives in PRAGMA user_version.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryHistory, "RunMigrations")
	defer timer.Stop()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record schema v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", v+1, err)
		}
		logging.HistoryDebug("Migration applied: schema v%d", v+1)
	}
	return nil
}

// GetSchemaVersion returns the schema version of db (0 for a fresh file).
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
