package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jfoltran/cdcingester/internal/daemon"
	"github.com/jfoltran/cdcingester/internal/metrics"
	"github.com/jfoltran/cdcingester/internal/replication"
	"github.com/jfoltran/cdcingester/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the replication session manager in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		collector := metrics.NewCollector(logger)
		defer collector.Close()
		collector.SetPhase("connecting")

		multi := io.MultiWriter(logOutput, metrics.NewLogWriter(collector))
		logger = logger.Output(multi)

		bus := replication.NewFanoutBus()
		sessionCfg := replication.SessionConfig{
			DSN:         cfg.DB.ReplicationDSN(),
			SlotName:    cfg.Replication.SlotName,
			Publication: cfg.Replication.Publication,
		}
		sm := replication.NewSessionManager(sessionCfg, bus, collector, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := daemon.WritePID(); err != nil {
			logger.Warn().Err(err).Msg("failed to write PID file")
		}
		defer daemon.RemovePID()

		sp, err := metrics.NewStatePersister(collector, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to start state persister")
		} else {
			sp.Start()
			defer sp.Stop()
		}

		var exporter *metrics.PromExporter
		if cfg.Server.Port != 0 {
			exporter = metrics.NewPromExporter()
			go exporter.Run(ctx, collector)

			srv := server.New(collector, exporter, bus, logger)
			srv.StartBackground(ctx, cfg.Server.Port)
		}

		collector.SetPhase("streaming")
		if err := sm.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("session manager: %w", err)
		}
		return nil
	},
}
