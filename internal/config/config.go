package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFile = "userbook.toml"

	defaultDriver          = "sqlite"
	defaultPort            = 8080
	defaultAdminPort       = 8383
	defaultShutdownTimeout = 15 * time.Second
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 10
	defaultLogMaxFiles     = 5
)

var ErrInvalidConfig = errors.New("invalid config")

// supportedDrivers maps database/sql driver names to a short description.
var supportedDrivers = map[string]string{
	"sqlite":  "modernc.org/sqlite (pure Go)",
	"sqlite3": "github.com/mattn/go-sqlite3 (cgo)",
}

type Config struct {
	Store     StoreConfig     `toml:"store"`
	Seed      SeedConfig      `toml:"seed"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type StoreConfig struct {
	Dir    string `toml:"dir"`
	Driver string `toml:"driver"`
}

type SeedConfig struct {
	OnStart bool `toml:"on_start"`
}

type ServerConfig struct {
	Port            int           `toml:"port"`
	AdminPort       int           `toml:"admin_port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

// FlagOverrides holds command line values; nil means the flag was not set.
type FlagOverrides struct {
	StoreDir *string
	Driver   *string
	LogLevel *string
}

func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Dir:    ".",
			Driver: defaultDriver,
		},
		Seed: SeedConfig{
			OnStart: true,
		},
		Server: ServerConfig{
			Port:            defaultPort,
			AdminPort:       defaultAdminPort,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load resolves the configuration: defaults, then the TOML file, then
// USERBOOK_* environment variables, then flags.
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	path, explicit := resolveConfigPath(opts)
	if err := loadAndApplyFile(path, explicit, &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Store     *rawStore     `toml:"store"`
	Seed      *rawSeed      `toml:"seed"`
	Server    *rawServer    `toml:"server"`
	Logging   *rawLogging   `toml:"logging"`
	Telemetry *rawTelemetry `toml:"telemetry"`
}

type rawStore struct {
	Dir    *string `toml:"dir"`
	Driver *string `toml:"driver"`
}

type rawSeed struct {
	OnStart *bool `toml:"on_start"`
}

type rawServer struct {
	Port            *int    `toml:"port"`
	AdminPort       *int    `toml:"admin_port"`
	ShutdownTimeout *string `toml:"shutdown_timeout"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

type rawTelemetry struct {
	Enabled *bool `toml:"enabled"`
}

func loadAndApplyFile(path string, explicit bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}
	return applyRawConfig(cfg, raw)
}

func applyRawConfig(cfg *Config, raw rawConfig) error {
	if raw.Store != nil {
		setString(raw.Store.Dir, &cfg.Store.Dir)
		setString(raw.Store.Driver, &cfg.Store.Driver)
	}

	if raw.Seed != nil {
		setBool(raw.Seed.OnStart, &cfg.Seed.OnStart)
	}

	if raw.Server != nil {
		setInt(raw.Server.Port, &cfg.Server.Port)
		setInt(raw.Server.AdminPort, &cfg.Server.AdminPort)
		if err := setDuration("server.shutdown_timeout", raw.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout); err != nil {
			return err
		}
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}

	if raw.Telemetry != nil {
		setBool(raw.Telemetry.Enabled, &cfg.Telemetry.Enabled)
	}

	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "USERBOOK_STORE_DIR"); ok {
		cfg.Store.Dir = value
	}
	if value, ok := lookupEnv(opts, "USERBOOK_STORE_DRIVER"); ok {
		cfg.Store.Driver = value
	}

	if value, ok := lookupEnv(opts, "USERBOOK_SEED_ON_START"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: parse USERBOOK_SEED_ON_START: %v", ErrInvalidConfig, err)
		}
		cfg.Seed.OnStart = parsed
	}

	if value, ok := lookupEnv(opts, "USERBOOK_PORT"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse USERBOOK_PORT: %v", ErrInvalidConfig, err)
		}
		cfg.Server.Port = parsed
	}
	if value, ok := lookupEnv(opts, "USERBOOK_ADMIN_PORT"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse USERBOOK_ADMIN_PORT: %v", ErrInvalidConfig, err)
		}
		cfg.Server.AdminPort = parsed
	}

	if value, ok := lookupEnv(opts, "USERBOOK_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "USERBOOK_LOG_FILE"); ok {
		cfg.Logging.File = value
	}

	if value, ok := lookupEnv(opts, "USERBOOK_TELEMETRY_ENABLED"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: parse USERBOOK_TELEMETRY_ENABLED: %v", ErrInvalidConfig, err)
		}
		cfg.Telemetry.Enabled = parsed
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	setString(flags.StoreDir, &cfg.Store.Dir)
	setString(flags.Driver, &cfg.Store.Driver)
	setString(flags.LogLevel, &cfg.Logging.Level)
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Store.Dir) == "" {
		return fmt.Errorf("%w: store.dir must not be empty", ErrInvalidConfig)
	}
	if _, ok := supportedDrivers[cfg.Store.Driver]; !ok {
		return fmt.Errorf("%w: store.driver %q is not supported (want sqlite or sqlite3)", ErrInvalidConfig, cfg.Store.Driver)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q must be debug, info, warn or error", ErrInvalidConfig, cfg.Logging.Level)
	}
	if !validPort(cfg.Server.Port) || !validPort(cfg.Server.AdminPort) {
		return fmt.Errorf("%w: server ports must be between 1 and 65535", ErrInvalidConfig)
	}
	if cfg.Server.Port == cfg.Server.AdminPort {
		return fmt.Errorf("%w: server.port and server.admin_port must differ", ErrInvalidConfig)
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: server.shutdown_timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setBool(raw *bool, target *bool) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

// resolveConfigPath reports whether the path was asked for explicitly;
// only the implicit default may be absent.
func resolveConfigPath(opts LoadOptions) (string, bool) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, true
	}
	if value, ok := lookupEnv(opts, "USERBOOK_CONFIG"); ok && value != "" {
		return value, true
	}
	return DefaultConfigFile, false
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}
