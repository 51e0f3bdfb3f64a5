package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pders01/ttsync/internal/config"
	"github.com/pders01/ttsync/internal/debuglog"
)

// Version is the version of the application, set at build time
var Version = "dev"

var (
	configPath string
	dbPath     string
	offline    bool
	verbose    bool
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ttsync",
	Short: "Offline cache and sync engine for Tiny Tiny RSS",
	Long: `ttsync keeps a local copy of a Tiny Tiny RSS account. Articles can be
read, starred and annotated offline; changes are sent to the server on the
next sync.

Example usage:
  ttsync sync                  # Flush local changes, then fetch everything
  ttsync articles --unread     # List unread cached articles
  ttsync mark read 12 13       # Mark articles read
  ttsync search kernel         # Search the offline index`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// These work without a configuration.
		if cmd.Name() == "version" || cmd.Name() == "generate-config" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		return setupLogging(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = debuglog.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to cache database (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Work offline: record changes without contacting the server")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write debug logs to stderr")
}

func setupLogging(cmd *cobra.Command) error {
	if verbose {
		debuglog.SetOutput(debuglog.LevelDebug, cmd.ErrOrStderr())
		return nil
	}
	return debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), debuglog.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}
