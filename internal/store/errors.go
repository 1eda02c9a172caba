package store

import "errors"

// Callers match these with errors.Is; the wrapped message carries the detail.
var (
	ErrMigration      = errors.New("migration failed")
	ErrValidation     = errors.New("invalid user input")
	ErrDuplicateEmail = errors.New("email already exists")
	ErrStore          = errors.New("store failure")
	ErrNotReady       = errors.New("store not ready")
)
