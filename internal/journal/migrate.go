package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaVersion is the version a fully migrated journal reports.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "deliveries table",
		SQL: `
		CREATE TABLE IF NOT EXISTS deliveries (
			id          TEXT PRIMARY KEY,
			chat_id     INTEGER NOT NULL,
			thread_id   INTEGER DEFAULT 0,
			message_id  INTEGER DEFAULT 0,
			text_len    INTEGER DEFAULT 0,
			status      TEXT NOT NULL,
			error       TEXT,
			latency_ms  INTEGER DEFAULT 0,
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_time ON deliveries(created_at);
		`,
	},
	{
		Version:     2,
		Description: "per-chat and per-status indexes",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_deliveries_chat ON deliveries(chat_id);
		CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status);
		`,
	},
}

// runMigrations brings db up to schemaVersion.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying journal migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, strftime('%s','now'))",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
