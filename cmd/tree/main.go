package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leafbus/internal/ui"
)

var settingsPath string

var rootCmd = &cobra.Command{
	Use:          "tree <command>",
	Short:        "Gateway between a tree's branches and the earth hub",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
	},
}

func defaultSettingsPath() string {
	if s := os.Getenv("LEAF_GATEWAY_CONFIG"); s != "" {
		return s
	}
	return "/etc/leafbus/tree.toml"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", defaultSettingsPath(), "gateway settings file (TOML)")

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(ui.HelpFunc())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
