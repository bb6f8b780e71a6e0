package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leafbus/internal/gateway"
	"github.com/alfredjeanlab/leafbus/internal/store/filestore"
	"github.com/alfredjeanlab/leafbus/internal/ui"
)

type status struct {
	Tree           string `json:"tree"`
	Addr           string `json:"addr"`
	HubURL         string `json:"hub_url"`
	StateDir       string `json:"state_dir"`
	HasToken       bool   `json:"has_token"`
	ConfigVersion  string `json:"config_version"`
	SecretsVersion string `json:"secrets_version"`
	CertVersion    string `json:"cert_version"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show settings and the versions of the cached hub documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := gateway.LoadSettings(settingsPath)
		if err != nil {
			return err
		}
		upd := gateway.NewUpdater(s.Addr(), s.SecretsPath(), s.CertDir(), s.Token, nil)
		st := status{
			Tree:           s.Tree,
			Addr:           s.Addr(),
			HubURL:         s.HubURL,
			StateDir:       s.StateDir,
			HasToken:       upd.Token() != "",
			ConfigVersion:  (&filestore.File{Path: s.ConfigPath()}).Version(),
			SecretsVersion: upd.SecretsVersion(),
			CertVersion:    upd.CertVersion(),
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printStatus(cmd, st)
		return nil
	},
}

func printStatus(cmd *cobra.Command, st status) {
	w := cmd.OutOrStdout()
	token := ui.RenderOK("set")
	if !st.HasToken {
		token = ui.RenderFail("missing")
	}
	fmt.Fprintf(w, "Tree:      %s (%s)\n", ui.RenderAccent(st.Tree), st.Addr)
	fmt.Fprintf(w, "Hub:       %s\n", st.HubURL)
	fmt.Fprintf(w, "State dir: %s\n", st.StateDir)
	fmt.Fprintf(w, "Token:     %s\n", token)
	fmt.Fprintln(w, ui.RenderMuted("Cached versions:"))
	for _, v := range []struct{ name, version string }{
		{"config", st.ConfigVersion},
		{"secrets", st.SecretsVersion},
		{"certificate", st.CertVersion},
	} {
		if v.version == "" {
			v.version = ui.RenderMuted("none")
		}
		fmt.Fprintf(w, "  %-12s %s\n", v.name, v.version)
	}
}

func init() {
	statusCmd.Flags().Bool("json", false, "output as JSON")
}
