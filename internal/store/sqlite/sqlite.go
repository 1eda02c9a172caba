package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/maloquacious/userbook/internal/store"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// SQLiteStore implements store.Store over a single SQLite file.
type SQLiteStore struct {
	dbPath     string
	driver     string
	db         *sqlx.DB
	migrations []Migration
	obs        *observer
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLiteStore. Nothing touches the disk until Open.
func New(dbPath string, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		dbPath:     dbPath,
		driver:     DriverModernc,
		migrations: DefaultMigrations(),
		obs:        newObserver(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.obs.driver = s.driver
	return s
}

// Open opens the SQLite database with safe defaults.
// The pool is limited to one connection so the pragmas below hold for
// every statement and transactions never interleave.
func (s *SQLiteStore) Open(ctx context.Context) error {
	if s.dbPath == "" {
		return fmt.Errorf("%w: open database: empty path", store.ErrStore)
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o700); err != nil {
		return fmt.Errorf("%w: create store directory: %w", store.ErrStore, err)
	}

	db, err := sqlx.Open(s.driver, s.dbPath)
	if err != nil {
		return fmt.Errorf("%w: open database: %w", store.ErrStore, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Apply safe defaults
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("%w: set pragma %q: %w", store.ErrStore, pragma, err)
		}
	}

	s.db = db
	s.obs.log.Debug("store opened", "path", s.dbPath, "driver", s.driver)
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Migrate applies every pending migration. Running it on an up to date
// store is a no-op.
func (s *SQLiteStore) Migrate(ctx context.Context) (err error) {
	ctx, done := s.obs.start(ctx, "migrate")
	defer func() { done(err) }()

	before, _ := s.SchemaVersion(ctx)
	if err := runMigrations(ctx, s.db, s.migrations); err != nil {
		return err
	}
	after, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrMigration, err)
	}
	if after != before {
		s.obs.log.Info("schema migrated", "from", before, "to", after)
	}
	return nil
}

// CheckState returns the current state of the datastore.
func (s *SQLiteStore) CheckState(ctx context.Context) (store.StoreState, error) {
	if s.db == nil {
		return store.StateMissing, fmt.Errorf("%w: database not opened", store.ErrStore)
	}

	// Check if schema_migrations table exists
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`)
	if err != nil {
		return store.StateUninitialized, fmt.Errorf("%w: check schema_migrations table: %w", store.ErrStore, err)
	}

	if count == 0 {
		return store.StateUninitialized, nil
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return store.StateUninitialized, err
	}

	if version != maxMigrationVersion(s.migrations) {
		return store.StateVersionMismatch, nil
	}

	return store.StateReady, nil
}

// SchemaVersion returns the highest applied migration, 0 when the
// store has never been migrated.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("%w: database not opened", store.ErrStore)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`); err != nil {
		return 0, fmt.Errorf("%w: check schema_migrations table: %w", store.ErrStore, err)
	}
	if count == 0 {
		return 0, nil
	}

	version, err := readSchemaVersion(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrStore, err)
	}
	return version, nil
}

// Users returns the repository for the users table. The store must be open.
func (s *SQLiteStore) Users() *Users {
	return &Users{db: s.db, obs: s.obs}
}
