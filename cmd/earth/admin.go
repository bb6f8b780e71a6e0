package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leafbus/internal/client"
	"github.com/alfredjeanlab/leafbus/internal/server"
	"github.com/alfredjeanlab/leafbus/internal/ui"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"ls"},
	Short:   "List gateway and client connections",
	GroupID: "admin",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := earthClient.Connections(cmd.Context())
		if err != nil {
			return adminErr("listing connections", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		if len(resp.Connections) == 0 {
			fmt.Println(ui.RenderMuted("no connections"))
			return nil
		}
		if err := ui.WriteConnections(os.Stdout, resp.Connections, time.Now()); err != nil {
			return err
		}
		fmt.Printf("\n%d gateways, %d clients connected\n", resp.Gateways, resp.Clients)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the hub",
	GroupID: "admin",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		useGRPC, _ := cmd.Flags().GetBool("grpc")
		if useGRPC {
			return grpcHealth(cmd)
		}
		resp, err := earthClient.Health(cmd.Context())
		if err != nil {
			return adminErr("checking health", err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Printf("Health: %s (%d gateways, %d clients)\n", renderStatus(resp.Status, "ok"), resp.Gateways, resp.Clients)
		if resp.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", resp.Status)
		}
		return nil
	},
}

func grpcHealth(cmd *cobra.Command) error {
	c, err := client.NewGRPCHealth(grpcAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Check(cmd.Context(), server.HealthService)
	if err != nil {
		return fmt.Errorf("checking health: %w", err)
	}
	if jsonOutput {
		return printJSON(map[string]string{"status": status})
	}
	fmt.Printf("Health: %s\n", renderStatus(status, "SERVING"))
	if status != "SERVING" {
		return fmt.Errorf("unhealthy: %s", status)
	}
	return nil
}

func renderStatus(status, good string) string {
	if status == good {
		return ui.RenderOK(status)
	}
	return ui.RenderFail(status)
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage the hub config document",
	GroupID: "admin",
}

var configRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the config document from YAML and push it to every client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := earthClient.RebuildConfig(cmd.Context())
		if err != nil {
			return adminErr("rebuilding config", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"version": version})
		}
		fmt.Printf("Config version: %s\n", ui.RenderAccent(version))
		return nil
	},
}

func init() {
	healthCmd.Flags().Bool("grpc", false, "query the gRPC health service instead of HTTP")
	configCmd.AddCommand(configRebuildCmd)
}

// adminErr wraps err and, on a 401, points at the token variable.
func adminErr(action string, err error) error {
	if client.IsUnauthorized(err) {
		return fmt.Errorf("%s: %w (set LEAF_ADMIN_TOKEN or --admin-token)", action, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
