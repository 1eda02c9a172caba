package store

import "context"

// StoreState represents the initialization state of the datastore.
type StoreState int

const (
	StateMissing         StoreState = iota // File doesn't exist
	StateUninitialized                     // File exists but no schema
	StateVersionMismatch                   // Schema exists but wrong version
	StateReady                             // Initialized and correct version
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateVersionMismatch:
		return "version-mismatch"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Store defines the userbook datastore contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// Migrate applies pending schema migrations
	Migrate(ctx context.Context) error

	// CheckState returns the current state of the datastore
	CheckState(ctx context.Context) (StoreState, error)

	// SchemaVersion returns the latest applied migration version, 0 if none
	SchemaVersion(ctx context.Context) (int, error)

	// Close closes the datastore connection
	Close() error
}

// UserRepository is the data-access contract for the users table.
// No method may be called before migrations have completed; see gate.Guard.
type UserRepository interface {
	// ListUsers returns every user in insertion order.
	ListUsers(ctx context.Context) ([]User, error)

	// AddUser validates the raw form fields, rejects a known email with
	// ErrDuplicateEmail, inserts the row and returns the fresh list.
	AddUser(ctx context.Context, name, age, email string) ([]User, error)

	// SeedDefaults inserts the default users when none of them exist.
	SeedDefaults(ctx context.Context) error
}
