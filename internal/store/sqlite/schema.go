package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const usersTable = "users"

// migrationsSchema tracks which migrations have been applied.
// The highest version present is the schema version of the store.
const migrationsSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at INTEGER NOT NULL
);
`

// Migration is one schema change. Versions are applied in ascending order,
// each in its own transaction, exactly once.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sqlx.Tx) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create users table",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				age INTEGER NOT NULL,
				email TEXT NOT NULL
			)`)
			if err != nil {
				return fmt.Errorf("create users: %w", err)
			}
			return nil
		},
	},
	{
		// Fails on a store that already holds duplicate emails; those rows
		// have to be resolved by hand before the store can be used.
		Version:     2,
		Description: "enforce unique user email",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email)`); err != nil {
				return fmt.Errorf("create idx_users_email: %w", err)
			}
			return nil
		},
	},
}

// DefaultMigrations returns a copy of the built-in migrations.
func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

// CurrentSchemaVersion is the version a fully migrated store reports.
func CurrentSchemaVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}
