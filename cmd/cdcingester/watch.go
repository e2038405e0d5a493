package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfoltran/cdcingester/internal/daemon"
	"github.com/jfoltran/cdcingester/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a live dashboard against a running serve instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := fmt.Sprintf("http://%s:%d", loopbackHost(cfg.Server.Listen), cfg.Server.Port)
		client := daemon.NewClient(addr)
		if err := client.Ping(); err != nil {
			return fmt.Errorf("cannot reach serve instance at %s: %w", addr, err)
		}
		return tui.RunWatch(client)
	},
}
