package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maloquacious/userbook/internal/store"
	"github.com/maloquacious/userbook/internal/store/sqlite"
	"github.com/spf13/cobra"
)

func newDBCmd(opts *rootOptions) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and initialize the datastore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBCreate(cmd, opts)
		},
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply migrations to current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBUpgrade(cmd, opts)
		},
	}
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify schema integrity and version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBVerify(cmd, opts)
		},
	}
	dbSeedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the default users if none of them exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, opts)
		},
	}

	var force bool
	dbResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every user and reseed the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("db reset deletes all users; rerun with --force")
			}
			return runDBReset(cmd, opts)
		},
	}
	dbResetCmd.Flags().BoolVar(&force, "force", false, "confirm deleting all users")

	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd, dbSeedCmd, dbResetCmd)
	return dbCmd
}

func runDBCreate(cmd *cobra.Command, opts *rootOptions) error {
	rt, err := newRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	exists, err := store.CheckExists(rt.storeDir())
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("datastore %s already exists; use db upgrade", rt.dbPath())
	}

	ctx := cmd.Context()
	if err := rt.open(ctx); err != nil {
		return err
	}
	if st := rt.gate.Run(ctx); !st.Ready() {
		return st.Err
	}
	if err := rt.gate.Guard(rt.store.Users()).SeedDefaults(ctx); err != nil {
		return err
	}

	rt.log.Info("datastore created", "path", rt.dbPath(), "schemaVersion", sqlite.CurrentSchemaVersion())
	return nil
}

func runDBUpgrade(cmd *cobra.Command, opts *rootOptions) error {
	rt, err := newRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	exists, err := store.CheckExists(rt.storeDir())
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("datastore %s not found; use db create", rt.dbPath())
	}

	ctx := cmd.Context()
	if err := rt.open(ctx); err != nil {
		return err
	}
	before, err := rt.store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if st := rt.gate.Run(ctx); !st.Ready() {
		return st.Err
	}
	after, err := rt.store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d -> %d\n", before, after)
	return err
}

type verifyReport struct {
	Path            string `json:"path"`
	State           string `json:"state"`
	SchemaVersion   int    `json:"schemaVersion"`
	ExpectedVersion int    `json:"expectedVersion"`
	Users           *int   `json:"users,omitempty"`
}

func runDBVerify(cmd *cobra.Command, opts *rootOptions) error {
	rt, err := newRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	report := verifyReport{
		Path:            rt.dbPath(),
		State:           store.StateMissing.String(),
		ExpectedVersion: sqlite.CurrentSchemaVersion(),
	}

	exists, err := store.CheckExists(rt.storeDir())
	if err != nil {
		return err
	}

	state := store.StateMissing
	if exists {
		ctx := cmd.Context()
		if err := rt.open(ctx); err != nil {
			return err
		}
		if state, err = rt.store.CheckState(ctx); err != nil {
			return err
		}
		if report.SchemaVersion, err = rt.store.SchemaVersion(ctx); err != nil {
			return err
		}
		if state == store.StateReady {
			// the gate settles immediately on a ready store
			rt.gate.Run(ctx)
			users, err := rt.gate.Guard(rt.store.Users()).ListUsers(ctx)
			if err != nil {
				return err
			}
			n := len(users)
			report.Users = &n
		}
		report.State = state.String()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if state != store.StateReady {
		return fmt.Errorf("datastore is %s", state)
	}
	return nil
}

func runDBSeed(cmd *cobra.Command, opts *rootOptions) error {
	rt, err := newRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	rt.cfg.Seed.OnStart = false
	repo, err := rt.ready(ctx)
	if err != nil {
		return err
	}
	return repo.SeedDefaults(ctx)
}

func runDBReset(cmd *cobra.Command, opts *rootOptions) error {
	rt, err := newRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	rt.cfg.Seed.OnStart = false
	if _, err := rt.ready(ctx); err != nil {
		return err
	}
	return rt.store.Users().Reset(ctx)
}
