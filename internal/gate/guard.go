package gate

import (
	"context"

	"github.com/maloquacious/userbook/internal/store"
)

// Guard wraps repo so that every call fails with store.ErrNotReady until
// the gate is Ready. After a failed migration the error also wraps
// store.ErrMigration.
func (g *Gate) Guard(repo store.UserRepository) store.UserRepository {
	return &guarded{gate: g, repo: repo}
}

type guarded struct {
	gate *Gate
	repo store.UserRepository
}

func (r *guarded) ListUsers(ctx context.Context) ([]store.User, error) {
	if err := r.gate.check(); err != nil {
		return nil, err
	}
	return r.repo.ListUsers(ctx)
}

func (r *guarded) AddUser(ctx context.Context, name, age, email string) ([]store.User, error) {
	if err := r.gate.check(); err != nil {
		return nil, err
	}
	return r.repo.AddUser(ctx, name, age, email)
}

func (r *guarded) SeedDefaults(ctx context.Context) error {
	if err := r.gate.check(); err != nil {
		return err
	}
	return r.repo.SeedDefaults(ctx)
}
