package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/pders01/ttsync/internal/config"
)

var (
	versionShort  bool
	genConfigPath string
	genForce      bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(w, Version)
			return nil
		}
		fmt.Fprintf(w, "%s %s\n", brandStyle.Render(AppName), Version)
		fmt.Fprintln(w, "Tiny Tiny RSS offline sync engine")
		fmt.Fprintln(w, "github.com/pders01/ttsync")
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)))
		return nil
	},
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ttsync", "config.toml")
}

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := genConfigPath
		if path == "" {
			path = defaultConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !genForce {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
		if err := config.GenerateDefaultConfig(path); err != nil {
			return fmt.Errorf("generating config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, generateConfigCmd)

	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print version string only")
	generateConfigCmd.Flags().StringVarP(&genConfigPath, "output", "o", "", "where to write the file (default ~/.config/ttsync/config.toml)")
	generateConfigCmd.Flags().BoolVar(&genForce, "force", false, "overwrite an existing file")
}
