package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maloquacious/userbook/internal/config"
	"github.com/maloquacious/userbook/internal/gate"
	"github.com/maloquacious/userbook/internal/logger"
	"github.com/maloquacious/userbook/internal/store"
	"github.com/maloquacious/userbook/internal/store/sqlite"
	"github.com/spf13/cobra"
)

// appRuntime is the per-command process state: resolved config, logger and
// the single store handle.
type appRuntime struct {
	cfg       config.Config
	log       *slog.Logger
	logCloser io.Closer
	store     *sqlite.SQLiteStore
	gate      *gate.Gate
}

func newRuntime(cmd *cobra.Command, opts *rootOptions) (*appRuntime, error) {
	cfg, err := config.Load(opts.loadOptions(cmd))
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.New(logger.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Writer:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	return &appRuntime{cfg: cfg, log: log, logCloser: closer}, nil
}

func (rt *appRuntime) storeDir() string {
	return store.GetStorePath(rt.cfg.Store.Dir)
}

func (rt *appRuntime) dbPath() string {
	return store.GetDBPath(rt.storeDir())
}

// open opens the store handle and builds its gate without migrating.
func (rt *appRuntime) open(ctx context.Context) error {
	storeOpts := []sqlite.Option{
		sqlite.WithDriver(rt.cfg.Store.Driver),
		sqlite.WithLogger(rt.log),
	}
	if rt.cfg.Telemetry.Enabled {
		storeOpts = append(storeOpts, sqlite.WithDefaultTelemetry())
	}

	s := sqlite.New(rt.dbPath(), storeOpts...)
	if err := s.Open(ctx); err != nil {
		return err
	}
	rt.store = s
	rt.gate = gate.New(s, rt.log)
	return nil
}

// ready opens the store, runs the gate and, when configured, seeds the
// default users. It returns the gated repository.
func (rt *appRuntime) ready(ctx context.Context) (store.UserRepository, error) {
	if err := rt.open(ctx); err != nil {
		return nil, err
	}
	if st := rt.gate.Run(ctx); !st.Ready() {
		return nil, st.Err
	}
	repo := rt.gate.Guard(rt.store.Users())
	if rt.cfg.Seed.OnStart {
		if err := repo.SeedDefaults(ctx); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (rt *appRuntime) Close() error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.logCloser != nil {
		errs = append(errs, rt.logCloser.Close())
	}
	return errors.Join(errs...)
}
