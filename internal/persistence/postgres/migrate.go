// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/craftline/production-tracker/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x5052445f4d494752 // "PRD_MIGR"

// ErrMigrationChanged means an applied migration file no longer matches the
// checksum recorded when it ran.
var ErrMigrationChanged = errors.New("applied migration was modified")

var requiredTables = []string{
	"operators",
	"order_items",
	"stage_statuses",
	"checks",
	"check_progress",
	"events",
}

// requiredColumns lists columns added after the tables first shipped, keyed
// as table.column.
var requiredColumns = []string{
	"order_items.delivered_at",
	"order_items.product_attrs",
	"stage_statuses.position",
	"stage_statuses.version",
	"check_progress.failure_report",
	"check_progress.inspected_by",
	"operators.token_hash",
}

// MigrationState is one embedded migration as seen by the database.
type MigrationState struct {
	Name      string
	Checksum  string
	AppliedAt *time.Time
	Changed   bool
}

type appliedMigration struct {
	checksum  string
	appliedAt time.Time
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SchemaHealthChecker backs the readiness check.
type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies pending embedded migrations under an advisory lock so
// that concurrently starting replicas migrate once. It refuses to run when a
// previously applied file has changed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, unlockErr := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); unlockErr != nil {
			logger.Error("migration unlock failed", "error", unlockErr)
		}
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return err
	}

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}

	pending, backfill, err := planMigrations(files, applied)
	if err != nil {
		return err
	}

	for _, f := range backfill {
		if _, err := conn.Exec(ctx,
			`UPDATE schema_migrations SET checksum=$2 WHERE filename=$1 AND checksum=''`,
			f.Name,
			f.Checksum,
		); err != nil {
			return fmt.Errorf("record checksum for %s: %w", f.Name, err)
		}
		logger.Info("migration checksum recorded", "file", f.Name)
	}

	for _, f := range pending {
		logger.Info("applying migration", "file", f.Name, "checksum", f.Checksum[:12])
		if err := applyMigration(ctx, conn, f); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
	}

	logger.Info("schema up to date",
		"applied", len(pending),
		"total", len(files),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

// MigrationStatus reports every embedded migration with its applied time.
// A missing schema_migrations table reads as nothing applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) ([]MigrationState, error) {
	if pool == nil {
		return nil, errors.New("nil database pool")
	}

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	var table *string
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.schema_migrations')::text`).Scan(&table); err != nil {
		return nil, fmt.Errorf("check schema_migrations: %w", err)
	}

	applied := map[string]appliedMigration{}
	if table != nil {
		applied, err = loadApplied(ctx, pool)
		if err != nil {
			return nil, err
		}
	}

	return migrationStates(files, applied), nil
}

func ensureMigrationTable(ctx context.Context, conn *pgxpool.Conn) error {
	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	if _, err := conn.Exec(ctx,
		`ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`,
	); err != nil {
		return fmt.Errorf("add schema_migrations checksum: %w", err)
	}
	return nil
}

func loadApplied(ctx context.Context, q queryer) (map[string]appliedMigration, error) {
	rows, err := q.Query(ctx, `SELECT filename, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedMigration, 4)
	for rows.Next() {
		var (
			name string
			m    appliedMigration
		)
		if err := rows.Scan(&name, &m.checksum, &m.appliedAt); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return out, nil
}

// planMigrations splits files into those still to apply and applied ones
// recorded before checksums existed. A checksum mismatch fails the plan.
func planMigrations(files []embeddedmigrations.File, applied map[string]appliedMigration) (pending, backfill []embeddedmigrations.File, err error) {
	var changed []string
	for _, f := range files {
		m, ok := applied[f.Name]
		switch {
		case !ok:
			pending = append(pending, f)
		case m.checksum == "":
			backfill = append(backfill, f)
		case m.checksum != f.Checksum:
			changed = append(changed, f.Name)
		}
	}
	if len(changed) > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMigrationChanged, strings.Join(changed, ", "))
	}
	return pending, backfill, nil
}

func migrationStates(files []embeddedmigrations.File, applied map[string]appliedMigration) []MigrationState {
	out := make([]MigrationState, 0, len(files))
	for _, f := range files {
		st := MigrationState{Name: f.Name, Checksum: f.Checksum}
		if m, ok := applied[f.Name]; ok {
			at := m.appliedAt
			st.AppliedAt = &at
			st.Changed = m.checksum != "" && m.checksum != f.Checksum
		}
		out = append(out, st)
	}
	return out
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, f embeddedmigrations.File) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, f.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
		f.Name,
		f.Checksum,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SchemaReady reports the tracker tables and columns that are missing.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	missingTables, err := collectStrings(ctx, pool, `
		SELECT t
		FROM unnest($1::text[]) AS t
		WHERE to_regclass('public.' || t) IS NULL
		ORDER BY t
	`, requiredTables)
	if err != nil {
		return fmt.Errorf("check tables: %w", err)
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missingTables, ", "))
	}

	missingColumns, err := collectStrings(ctx, pool, `
		SELECT want
		FROM unnest($1::text[]) AS want
		WHERE NOT EXISTS (
			SELECT 1
			FROM information_schema.columns c
			WHERE c.table_schema = 'public'
			  AND c.table_name || '.' || c.column_name = want
		)
		ORDER BY want
	`, requiredColumns)
	if err != nil {
		return fmt.Errorf("check columns: %w", err)
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missingColumns, ", "))
	}

	return nil
}

func collectStrings(ctx context.Context, q queryer, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
