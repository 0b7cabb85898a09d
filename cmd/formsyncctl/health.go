package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(o)
			out := newPrinter(cmd.OutOrStdout(), o)

			var healthResp map[string]any
			if err := client.getJSON("/healthz", &healthResp); err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}

			var readyResp map[string]any
			if err := client.getJSON("/readyz", &readyResp); err != nil {
				// Not fatal; the server may still be migrating.
				readyResp = map[string]any{"status": "not_ready", "error": err.Error()}
			}

			if out.structured() {
				return out.printOutput(map[string]any{
					"health":    healthResp,
					"readiness": readyResp,
				})
			}

			status, _ := healthResp["status"].(string)
			uptime, _ := healthResp["uptime"].(string)
			ready, _ := readyResp["status"].(string)
			out.printTable([]string{"Check", "Status"}, [][]string{
				{"Liveness", status},
				{"Uptime", uptime},
				{"Readiness", ready},
			})
			return nil
		},
	}
}
