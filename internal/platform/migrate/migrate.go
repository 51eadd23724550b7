// Package migrate applies the embedded marketplace schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"estately/migrations"
)

const baselineVersion int64 = 1

// baselineTables are the tables created by the first migration. A database
// that already has all of them, such as one exported from the hosted
// backend the marketplace ran on before, is marked as migrated to
// baselineVersion instead of being re-created. Such a database keeps its
// accounts elsewhere, so the local auth tables live in a later migration
// and are still created for it.
var baselineTables = []string{
	"public.profiles",
	"public.properties",
	"public.favorites",
	"public.contact_requests",
	"public.notifications",
}

// Apply runs any pending SQL migrations bundled with the binary and logs the
// resulting schema version.
func Apply(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, ok := r.(migrationPanic)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("migrate: %s", msg)
		}
	}()

	goose.SetBaseFS(migrations.Files)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set goose dialect: %w", err)
	}

	if err := bootstrapBaseline(ctx, db.DB, logger); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("migrate: goose up: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("migrate: read schema version: %w", err)
	}
	if logger != nil {
		logger.Info("schema up to date", "version", version)
	}
	return nil
}

func bootstrapBaseline(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	for _, name := range baselineTables {
		exists, err := tableExists(ctx, db, name)
		if err != nil {
			return fmt.Errorf("migrate: check table %s: %w", name, err)
		}
		if !exists {
			return nil
		}
	}

	if _, err := goose.EnsureDBVersionContext(ctx, db); err != nil {
		return fmt.Errorf("migrate: ensure goose table: %w", err)
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: check goose version: %w", err)
	}
	if current != 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (version_id, is_applied) VALUES ($1, TRUE)`, goose.TableName())
	if _, err := db.ExecContext(ctx, query, baselineVersion); err != nil {
		return fmt.Errorf("migrate: set baseline: %w", err)
	}
	if logger != nil {
		logger.Info("existing marketplace schema adopted", "version", baselineVersion)
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	schema, table := splitTableName(name)
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = COALESCE(NULLIF($1, ''), current_schema()) AND tablename = $2)`,
		schema, table,
	).Scan(&exists)
	return exists, err
}

// splitTableName separates an optional schema qualifier from a table name.
func splitTableName(name string) (schema, table string) {
	schema, table, found := strings.Cut(name, ".")
	if !found {
		return "", name
	}
	return schema, table
}
