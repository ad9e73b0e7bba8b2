package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// CurrentSchemaVersion is stored in PRAGMA user_version once migrations ran.
//
//	v1: runs, bindings, diagnostics
//	v2: runs.steering_file, runs.strict
const CurrentSchemaVersion = 2

// Migration adds one column to an existing table.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations handle databases whose tables predate newer columns.
var pendingMigrations = []Migration{
	{"runs", "steering_file", "TEXT NOT NULL DEFAULT ''"},
	{"runs", "strict", "INTEGER NOT NULL DEFAULT 0"},
}

// RunMigrations applies the column migrations and records the schema
// version.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logger.Debug("Migration applied", zap.String("table", m.Table), zap.String("column", m.Column))
		applied++
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", CurrentSchemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if applied > 0 {
		logger.Info("Schema migrations complete", zap.Int("applied", applied))
	}
	return nil
}

// SchemaVersion reads PRAGMA user_version.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// columnExists checks a column through PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
