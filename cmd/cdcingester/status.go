package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfoltran/cdcingester/internal/daemon"
	"github.com/jfoltran/cdcingester/internal/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current status of a running serve instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := fmt.Sprintf("http://%s:%d", loopbackHost(cfg.Server.Listen), cfg.Server.Port)
		client := daemon.NewClient(addr)

		if snap, err := client.Status(); err == nil {
			printSnapshot(*snap)
			return nil
		}

		// The HTTP server may not be running; fall back to the last
		// persisted snapshot on disk.
		snap, err := metrics.ReadStateFile()
		if err != nil {
			return fmt.Errorf("no running server reachable at %s and no persisted state found: %w", addr, err)
		}
		printSnapshot(*snap)
		return nil
	},
}

func loopbackHost(listen string) string {
	if listen == "" || listen == "0.0.0.0" {
		return "127.0.0.1"
	}
	return listen
}

func printSnapshot(snap metrics.Snapshot) {
	fmt.Printf("phase:        %s\n", snap.Phase)
	fmt.Printf("elapsed:      %.0fs\n", snap.ElapsedSec)
	fmt.Printf("last lsn:     %s\n", snap.LastLSN)
	fmt.Printf("server lsn:   %s\n", snap.ServerLSN)
	fmt.Printf("lag:          %s\n", snap.LagFormatted)
	fmt.Printf("relations:    %d\n", snap.RelationCount)
	fmt.Printf("events:       insert=%d update=%d delete=%d commit=%d total=%d (%.1f/s)\n",
		snap.InsertCount, snap.UpdateCount, snap.DeleteCount, snap.CommitCount, snap.EventsTotal, snap.EventsPerSec)
	fmt.Printf("reconnects:   %d\n", snap.ReconnectCount)
	fmt.Printf("errors:       %d\n", snap.ErrorCount)
	if snap.LastError != "" {
		fmt.Printf("last error:   %s\n", snap.LastError)
	}
}
