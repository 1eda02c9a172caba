package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(LoadOptions{ConfigPath: writeConfigFile(t, "")})
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.Equal(t, "sqlite", cfg.Store.Driver)
	require.True(t, cfg.Seed.OnStart)
}

func TestLoadConfigPrecedenceFileOverDefault(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[store]
dir = "/var/lib/userbook"

[seed]
on_start = false

[server]
port = 9090
shutdown_timeout = "3s"

[logging]
level = "debug"
`)

	cfg, err := Load(LoadOptions{ConfigPath: cfgPath})
	require.NoError(t, err)
	require.Equal(t, "/var/lib/userbook", cfg.Store.Dir)
	require.False(t, cfg.Seed.OnStart)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, defaultAdminPort, cfg.Server.AdminPort)
}

func TestLoadConfigPrecedenceEnvOverFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[store]
dir = "from-file"
`)

	cfg, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env: map[string]string{
			"USERBOOK_STORE_DIR":         "from-env",
			"USERBOOK_SEED_ON_START":     "false",
			"USERBOOK_TELEMETRY_ENABLED": "true",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Store.Dir)
	require.False(t, cfg.Seed.OnStart)
	require.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfigPrecedenceFlagOverEnv(t *testing.T) {
	t.Parallel()

	dir := "from-flag"
	level := "warn"
	cfg, err := Load(LoadOptions{
		ConfigPath: writeConfigFile(t, ""),
		Env: map[string]string{
			"USERBOOK_STORE_DIR": "from-env",
			"USERBOOK_LOG_LEVEL": "debug",
		},
		Flags: FlagOverrides{StoreDir: &dir, LogLevel: &level},
	})
	require.NoError(t, err)
	require.Equal(t, "from-flag", cfg.Store.Dir)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(LoadOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "bad toml", content: "[store\n"},
		{name: "unknown driver", content: "[store]\ndriver = \"postgres\"\n"},
		{name: "bad level", content: "[logging]\nlevel = \"chatty\"\n"},
		{name: "bad duration", content: "[server]\nshutdown_timeout = \"soon\"\n"},
		{name: "same ports", content: "[server]\nport = 8080\nadmin_port = 8080\n"},
		{name: "bad env bool", env: map[string]string{"USERBOOK_SEED_ON_START": "maybe"}},
		{name: "bad env port", env: map[string]string{"USERBOOK_PORT": "http"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(LoadOptions{
				ConfigPath: writeConfigFile(t, tt.content),
				Env:        tt.env,
			})
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
