package database

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed migrations/001_audit_log.up.sql
var auditLogMigrationSQL string

var requiredTables = []string{
	"audit_log",
}

// EnsureSchema creates the audit log table, its indexes and the append-only
// trigger when they are missing. The SQL is idempotent.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if db == nil || db.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	exists, err := db.hasAllRequiredTables(ctx)
	if err != nil {
		return fmt.Errorf("check existing tables: %w", err)
	}

	if !exists {
		slog.Info("database schema missing tables; applying audit log migration")
		if _, err := db.Pool.Exec(ctx, auditLogMigrationSQL); err != nil {
			return fmt.Errorf("apply audit log migration: %w", err)
		}

		exists, err = db.hasAllRequiredTables(ctx)
		if err != nil {
			return fmt.Errorf("re-check tables after migration: %w", err)
		}

		if !exists {
			return fmt.Errorf("schema initialization incomplete: required tables are still missing")
		}
	}

	if err := db.ensureRecoverIndex(ctx); err != nil {
		return fmt.Errorf("ensure recover index: %w", err)
	}

	slog.Info("database schema ensured")
	return nil
}

// ensureRecoverIndex re-applies the migration when the unique index backing
// recover deduplication is missing, e.g. on a table created by hand.
func (db *DB) ensureRecoverIndex(ctx context.Context) error {
	var hasIndex bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'public'
			  AND tablename = 'audit_log'
			  AND indexname = 'audit_log_recovers_log_id_key'
		)
	`).Scan(&hasIndex)
	if err != nil {
		return fmt.Errorf("check recover index: %w", err)
	}

	if !hasIndex {
		slog.Info("recover index missing; re-applying audit log migration")
		if _, err := db.Pool.Exec(ctx, auditLogMigrationSQL); err != nil {
			return fmt.Errorf("exec audit log migration: %w", err)
		}
	}

	return nil
}

func (db *DB) hasAllRequiredTables(ctx context.Context) (bool, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_name = ANY($1)
	`, requiredTables).Scan(&count)
	if err != nil {
		return false, err
	}

	return count == len(requiredTables), nil
}
