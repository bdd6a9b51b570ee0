// ABOUTME: health command probing the configured backend once
// ABOUTME: Exits non-zero when the backend does not answer

package cli

import (
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-chorus/internal/monitor"
)

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			prober := monitor.NewHTTPProber(cfg.Backend.URL, &http.Client{Timeout: cfg.Monitor.ProbeTimeout}, nil)
			if !prober.Probe(cmd.Context()) {
				return fmt.Errorf("backend %s is unreachable", cfg.Backend.URL)
			}

			green := color.New(color.FgGreen)
			green.Fprint(cmd.OutOrStdout(), "reachable")
			fmt.Fprintf(cmd.OutOrStdout(), " %s\n", cfg.Backend.URL)
			return nil
		},
	}
}
