package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/maloquacious/userbook/internal/store"
)

// runMigrations brings db up to the highest version in migrations.
// Every error wraps store.ErrMigration.
func runMigrations(ctx context.Context, db *sqlx.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("%w: database not opened", store.ErrMigration)
	}

	if _, err := db.ExecContext(ctx, migrationsSchema); err != nil {
		return fmt.Errorf("%w: create schema_migrations: %w", store.ErrMigration, err)
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	for i := 1; i < len(ordered); i++ {
		if ordered[i].Version == ordered[i-1].Version {
			return fmt.Errorf("%w: duplicate migration version %d", store.ErrMigration, ordered[i].Version)
		}
	}

	current, err := readSchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrMigration, err)
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: schema too new: db=%d code=%d", store.ErrMigration, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, migration); err != nil {
			return fmt.Errorf("%w: %w", store.ErrMigration, err)
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, migration Migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", migration.Version, err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, strftime('%s', 'now'))`,
		migration.Version, migration.Description)
	if err != nil {
		return fmt.Errorf("record schema migration v%d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", migration.Version, err)
	}
	return nil
}

// readSchemaVersion returns 0 for a store with no recorded migrations.
func readSchemaVersion(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var version sql.NullInt64
	if err := sqlx.GetContext(ctx, q, &version, `SELECT MAX(version) FROM schema_migrations`); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}
