package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maloquacious/userbook/internal/store"
	"github.com/stretchr/testify/require"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	require.Equal(t, version.String(), strings.TrimSpace(out))
}

func TestDBLifecycle(t *testing.T) {
	dir := t.TempDir()

	out, err := runApp(t, "--store-dir", dir, "db", "verify")
	require.Error(t, err)
	require.Contains(t, out, `"state": "missing"`)

	_, err = runApp(t, "--store-dir", dir, "db", "create")
	require.NoError(t, err)

	_, err = runApp(t, "--store-dir", dir, "db", "create")
	require.Error(t, err, "create refuses an existing store")

	out, err = runApp(t, "--store-dir", dir, "db", "verify")
	require.NoError(t, err)
	var report verifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "ready", report.State)
	require.NotNil(t, report.Users)
	require.Equal(t, len(store.DefaultUsers), *report.Users)

	out, err = runApp(t, "--store-dir", dir, "db", "upgrade")
	require.NoError(t, err)
	require.Contains(t, out, "schema version 2 -> 2")
}

func TestDBUpgradeRequiresStore(t *testing.T) {
	_, err := runApp(t, "--store-dir", t.TempDir(), "db", "upgrade")
	require.Error(t, err)
}

func TestUsersAddAndList(t *testing.T) {
	dir := t.TempDir()

	out, err := runApp(t, "--store-dir", dir, "users", "add", "Bob", "41", "bob@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "bob@example.com")
	require.Contains(t, out, "john@example.com", "defaults are seeded on start")

	_, err = runApp(t, "--store-dir", dir, "users", "add", "Dup", "99", "bob@example.com")
	require.ErrorIs(t, err, store.ErrDuplicateEmail)

	_, err = runApp(t, "--store-dir", dir, "users", "add", "Eve", "", "eve@example.com")
	require.ErrorIs(t, err, store.ErrValidation)

	out, err = runApp(t, "--store-dir", dir, "users", "list", "--json")
	require.NoError(t, err)
	var users []store.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, len(store.DefaultUsers)+1)
}

func TestUsersListWithoutSeeding(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "userbook.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[seed]\non_start = false\n"), 0o600))

	out, err := runApp(t, "--config", cfg, "--store-dir", dir, "users", "list")
	require.NoError(t, err)
	require.Equal(t, "no users found\n", out)
}

func TestDBSeedAndReset(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "userbook.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[seed]\non_start = false\n"), 0o600))
	base := []string{"--config", cfg, "--store-dir", dir}

	_, err := runApp(t, append(base, "users", "add", "Zed", "50", "zed@example.com")...)
	require.NoError(t, err)

	_, err = runApp(t, append(base, "db", "seed")...)
	require.NoError(t, err)
	_, err = runApp(t, append(base, "db", "seed")...)
	require.NoError(t, err)

	out, err := runApp(t, append(base, "users", "list", "--json")...)
	require.NoError(t, err)
	var users []store.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 3)

	_, err = runApp(t, append(base, "db", "reset")...)
	require.Error(t, err, "reset needs --force")

	_, err = runApp(t, append(base, "db", "reset", "--force")...)
	require.NoError(t, err)

	out, err = runApp(t, append(base, "users", "list", "--json")...)
	require.NoError(t, err)
	users = nil
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, len(store.DefaultUsers))
}

func TestInvalidConfigFails(t *testing.T) {
	_, err := runApp(t, "--store-dir", t.TempDir(), "--driver", "postgres", "users", "list")
	require.Error(t, err)
}
