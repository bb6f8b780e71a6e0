package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leafbus/internal/client"
	"github.com/alfredjeanlab/leafbus/internal/ui"
)

var (
	httpURL    string
	grpcAddr   string
	adminToken string
	jsonOutput bool

	earthClient client.EarthClient
)

func envOr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:           "earth <command>",
	Short:         "Central hub of the leaf event bus",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		earthClient = client.NewHTTPClient(httpURL, adminToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if earthClient != nil {
			earthClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOr("LEAF_EARTH_URL", "http://localhost:8080"), "hub HTTP URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", envOr("LEAF_EARTH_GRPC", "localhost:9090"), "hub gRPC address")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", os.Getenv("LEAF_ADMIN_TOKEN"), "bearer token for admin endpoints")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "hub", Title: "Hub:"},
		&cobra.Group{ID: "admin", Title: "Admin:"},
	)
	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(ui.HelpFunc())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
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
