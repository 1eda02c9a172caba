// Package gate holds the single-shot migration gate that every user of
// the repository waits on.
//
// A Gate starts Pending. The first Run applies migrations and moves it to
// Ready or Failed; neither state is ever left for the life of the Gate.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maloquacious/userbook/internal/logger"
	"github.com/maloquacious/userbook/internal/store"
)

type State int

const (
	StatePending State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Status is a snapshot of the gate. Err is set only in StateFailed and
// always wraps store.ErrMigration.
type Status struct {
	State State
	Err   error
}

func (s Status) Ready() bool {
	return s.State == StateReady
}

// Migrator applies pending schema changes.
type Migrator interface {
	Migrate(ctx context.Context) error
}

type Gate struct {
	migrator Migrator
	log      logger.Logger

	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	status Status
}

func New(m Migrator, log logger.Logger) *Gate {
	if log == nil {
		log = logger.Default
	}
	return &Gate{
		migrator: m,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Run migrates on the first call and returns the resulting status. Later
// and concurrent calls block until that first run settles and return the
// same status; a failure is not retried.
func (g *Gate) Run(ctx context.Context) Status {
	g.once.Do(func() {
		st := Status{State: StateReady}
		if err := g.migrate(ctx); err != nil {
			if !errors.Is(err, store.ErrMigration) {
				err = fmt.Errorf("%w: %w", store.ErrMigration, err)
			}
			st = Status{State: StateFailed, Err: err}
			g.log.Error("migrations failed", "error", err)
		} else {
			g.log.Info("migrations complete, store ready")
		}

		g.mu.Lock()
		g.status = st
		g.mu.Unlock()
		close(g.done)
	})
	return g.Status()
}

func (g *Gate) migrate(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("migration panic: %v", p)
		}
	}()
	if g.migrator == nil {
		return errors.New("no migrator configured")
	}
	return g.migrator.Migrate(ctx)
}

// Status reports the current state without blocking.
func (g *Gate) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Done is closed once the gate leaves StatePending.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the gate settles or ctx ends.
func (g *Gate) Wait(ctx context.Context) (Status, error) {
	select {
	case <-g.done:
		return g.Status(), nil
	case <-ctx.Done():
		return g.Status(), ctx.Err()
	}
}

// check returns nil only when the gate is Ready.
func (g *Gate) check() error {
	st := g.Status()
	switch st.State {
	case StateReady:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %w", store.ErrNotReady, st.Err)
	}
	return fmt.Errorf("%w: migrations %s", store.ErrNotReady, st.State)
}
