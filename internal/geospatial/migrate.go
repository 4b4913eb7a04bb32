package geospatial

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/sells-group/geo-events/internal/db"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockID = 7305114

// Migrate applies pending catalog migrations in filename order. The catalog
// schema and its schema_migrations table are created first; files already
// recorded there are skipped.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "geospatial.migrate"))

	// Concurrent deploys serialize here. The lock belongs to lockTx's session
	// and is released when that transaction ends.
	lockTx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "geospatial: begin migration lock")
	}
	defer func() {
		if err := lockTx.Rollback(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release migration lock failed", zap.Error(err))
		}
	}()
	if _, err := lockTx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "geospatial: acquire migration lock")
	}

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "geospatial: read migration dir")
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "geospatial: read migration %s", name)
		}

		if err := applyMigration(ctx, pool, name, string(data)); err != nil {
			return err
		}
		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

// applyMigration runs one file and records it in the same transaction, so a
// failed file leaves no trace and is retried on the next run.
func applyMigration(ctx context.Context, pool db.Pool, name, sql string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "geospatial: begin migration %s", name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "geospatial: apply migration %s", name)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO catalog.schema_migrations (filename, applied_at) VALUES ($1, now())",
		name,
	); err != nil {
		return eris.Wrapf(err, "geospatial: record migration %s", name)
	}
	return eris.Wrapf(tx.Commit(ctx), "geospatial: commit migration %s", name)
}

func ensureMigrationTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS catalog;
		CREATE TABLE IF NOT EXISTS catalog.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "geospatial: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM catalog.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "geospatial: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "geospatial: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
