package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jfoltran/cdcingester/internal/metrics"
	"github.com/jfoltran/cdcingester/internal/replication"
)

// Server is the HTTP server that serves the status/metrics API and the
// live WebSocket event feed. It has no frontend to host: every surface it
// exposes is a monitoring view onto the session manager, not a product UI.
type Server struct {
	collector *metrics.Collector
	exporter  *metrics.PromExporter
	logger    zerolog.Logger
	hub       *Hub
	srv       *http.Server
}

// New creates a new Server. bus is the FanoutBus the session manager
// publishes decoded events to; exporter may be nil to omit /metrics.
func New(collector *metrics.Collector, exporter *metrics.PromExporter, bus *replication.FanoutBus, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http-server").Logger()
	return &Server{
		collector: collector,
		exporter:  exporter,
		logger:    logger,
		hub:       newHub(bus, logger),
	}
}

// Start begins serving on the given port. It blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	h := &handlers{collector: s.collector}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", h.status)
	mux.HandleFunc("GET /api/v1/logs", h.logs)
	mux.HandleFunc("GET /api/v1/events", s.hub.handleWS)
	if s.exporter != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.exporter.Registry(), promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info().Int("port", port).Msg("starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		return err
	}
}

// StartBackground starts the server in a goroutine (non-blocking).
func (s *Server) StartBackground(ctx context.Context, port int) {
	go func() {
		if err := s.Start(ctx, port); err != nil {
			s.logger.Err(err).Msg("http server error")
		}
	}()
}
