package main

import (
	"fmt"
	"os"

	"github.com/maloquacious/semver"
	"github.com/maloquacious/userbook/internal/config"
	"github.com/spf13/cobra"
)

var (
	version   = semver.Version{Minor: 2, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

// rootOptions holds the global flags. Pointers stay nil unless the flag
// was given so config precedence is preserved.
type rootOptions struct {
	configPath string
	storeDir   string
	driver     string
	logLevel   string
}

func (o *rootOptions) loadOptions(cmd *cobra.Command) config.LoadOptions {
	opts := config.LoadOptions{ConfigPath: o.configPath}
	if cmd.Flags().Changed("store-dir") {
		opts.Flags.StoreDir = &o.storeDir
	}
	if cmd.Flags().Changed("driver") {
		opts.Flags.Driver = &o.driver
	}
	if cmd.Flags().Changed("log-level") {
		opts.Flags.LogLevel = &o.logLevel
	}
	return opts
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "app",
		Short:        "Userbook local user store and admin CLI",
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to TOML config (default ./"+config.DefaultConfigFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&opts.storeDir, "store-dir", ".", "directory holding the database file")
	rootCmd.PersistentFlags().StringVar(&opts.driver, "driver", "sqlite", "database driver: sqlite (pure Go) or sqlite3 (cgo)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}

	rootCmd.AddCommand(newServeCmd(opts), newDBCmd(opts), newUsersCmd(opts), versionCmd)
	return rootCmd
}
