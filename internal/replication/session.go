package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// reconnectThreshold is the number of consecutive iteration failures the
// Session Manager tolerates before tearing down the connection and starting
// a fresh one.
const reconnectThreshold = 3

// Recorder is the metrics/observability seam internal/replication publishes
// through, kept narrow so this package never imports internal/metrics
// directly: the decoder has no business knowing how its stats are
// displayed.
type Recorder interface {
	RecordDecoded(kind EventKind)
	RecordReconnect()
	RecordError(err error)
	RecordLSN(lsn pglogrepl.LSN)
	RecordServerLSN(lsn pglogrepl.LSN)
	RecordRelations(n int)
}

// NopRecorder discards every call; NewSessionManager installs it when no
// Recorder is given, so the session loop never checks metrics for nil.
type NopRecorder struct{}

func (NopRecorder) RecordDecoded(EventKind)       {}
func (NopRecorder) RecordReconnect()              {}
func (NopRecorder) RecordError(error)             {}
func (NopRecorder) RecordLSN(pglogrepl.LSN)       {}
func (NopRecorder) RecordServerLSN(pglogrepl.LSN) {}
func (NopRecorder) RecordRelations(int)           {}

// SessionConfig names the replication slot and publication a SessionManager
// drives, and the DSN used to (re)connect.
type SessionConfig struct {
	DSN         string
	SlotName    string
	Publication string
}

// stream is the narrow seam SessionManager drives its loop through: one
// live replication connection plus the bookkeeping needed to answer status
// feedback. liveStream is the real pgconn/pglogrepl-backed implementation;
// tests substitute a fake to drive reconnect behavior without a database.
type stream interface {
	ReadPending(ctx context.Context) ([]byte, bool, error)
	StatusPosition() pglogrepl.LSN
	ServerPosition() pglogrepl.LSN
	SendStatus(ctx context.Context, pos pglogrepl.LSN) error
	Close(ctx context.Context)
}

// liveStream adapts a real connection + FrameReader pair to the stream
// interface.
type liveStream struct {
	conn   *pgconn.PgConn
	reader *FrameReader
}

func (l *liveStream) ReadPending(ctx context.Context) ([]byte, bool, error) {
	return l.reader.ReadPending(ctx)
}

func (l *liveStream) StatusPosition() pglogrepl.LSN {
	if pos := l.reader.LastReceiveLSN(); pos != 0 {
		return pos
	}
	return l.reader.ServerWALEnd()
}

func (l *liveStream) ServerPosition() pglogrepl.LSN {
	return l.reader.ServerWALEnd()
}

func (l *liveStream) SendStatus(ctx context.Context, pos pglogrepl.LSN) error {
	return pglogrepl.SendStandbyStatusUpdate(ctx, l.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: pos,
		WALFlushPosition: pos,
		WALApplyPosition: pos,
	})
}

func (l *liveStream) Close(ctx context.Context) {
	_ = l.conn.Close(ctx)
}

// SessionManager owns one replication connection's lifecycle: connecting,
// starting replication, reading frames, dispatching pgoutput messages,
// publishing decoded events, sending status feedback, and reconnecting
// after a run of consecutive errors. Unlike a migration pipeline, it has no
// copier, applier, or destination schema manager — decoding and publishing
// is the whole job.
type SessionManager struct {
	cfg     SessionConfig
	bus     Publisher
	metrics Recorder
	logger  zerolog.Logger

	// dial opens a new stream; overridden in tests to avoid a real
	// database connection.
	dial func(ctx context.Context) (stream, error)

	current stream
	cache   *RelationCache

	consecutiveErrors int
	dialCount         int
}

// NewSessionManager wires a SessionManager against a real PostgreSQL
// server. metrics may be nil, in which case a NopRecorder is used.
func NewSessionManager(cfg SessionConfig, bus Publisher, metrics Recorder, logger zerolog.Logger) *SessionManager {
	if metrics == nil {
		metrics = NopRecorder{}
	}
	s := &SessionManager{
		cfg:     cfg,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With().Str("component", "replication").Logger(),
	}
	s.dial = s.dialLive
	return s
}

// Run drives the session until ctx is cancelled or an unrecoverable error
// occurs (a connect/reconnect failure itself, as opposed to a decode
// error). It connects, then loops calling iterate, reconnecting whenever
// consecutiveErrors reaches reconnectThreshold.
func (s *SessionManager) Run(ctx context.Context) error {
	if err := s.openStream(ctx); err != nil {
		return fmt.Errorf("session: initial connect: %w", err)
	}
	defer func() { s.current.Close(ctx) }()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.iterate(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.consecutiveErrors++
			s.metrics.RecordError(err)
			s.logger.Warn().Err(err).Int("consecutive_errors", s.consecutiveErrors).Msg("iteration failed")

			if s.consecutiveErrors >= reconnectThreshold {
				s.logger.Error().Int("threshold", reconnectThreshold).Msg("reconnect threshold reached, reconnecting")
				if err := s.reconnect(ctx); err != nil {
					return fmt.Errorf("session: reconnect: %w", err)
				}
			}
			continue
		}

		s.consecutiveErrors = 0
	}
}

// iterate performs one pass of the main loop: wait for a frame (idly
// handling keepalive replies while waiting), dispatch whatever frame
// arrives, and unconditionally send status feedback once the wait/dispatch
// step completes.
func (s *SessionManager) iterate(ctx context.Context) error {
	frame, ok, err := s.current.ReadPending(ctx)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	if ok {
		// The driver delivers one pgoutput message per buffer in practice,
		// so only the first message is dispatched; any trailing bytes (for
		// instance the commit-timestamp/xid fields handleBegin deliberately
		// leaves unconsumed) are discarded rather than re-fed to Dispatch,
		// which would misread them as a new message's tag byte. See
		// SPEC_FULL.md §9 OQ1.
		event, err := Dispatch(newCursor(frame), s.cache)
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		if event != nil {
			s.metrics.RecordDecoded(event.Kind())
			payload, err := event.MarshalJSON()
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			if err := s.bus.Publish(string(payload)); err != nil {
				return fmt.Errorf("publish event: %w", err)
			}
		}
		s.metrics.RecordRelations(s.cache.Len())
	}

	if err := s.sendStatus(ctx); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	return nil
}

// sendStatus reports the last-received LSN back to the server as both the
// written and flushed position; this ingester has no destination to apply
// changes against, so there is no separate apply checkpoint to track.
func (s *SessionManager) sendStatus(ctx context.Context) error {
	pos := s.current.StatusPosition()
	s.metrics.RecordLSN(pos)
	s.metrics.RecordServerLSN(s.current.ServerPosition())
	if err := s.current.SendStatus(ctx, pos); err != nil {
		return fmt.Errorf("standby status update: %w", err)
	}
	return nil
}

// openStream dials a fresh stream and resets the relation cache, then
// installs both as current.
func (s *SessionManager) openStream(ctx context.Context) error {
	st, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.current = st
	s.cache = NewRelationCache()
	s.dialCount++
	return nil
}

// reconnect tears down the current connection and relation cache and opens
// a fresh session, rebuilding the cache from the Relation messages the
// server re-announces at the start of the new stream.
func (s *SessionManager) reconnect(ctx context.Context) error {
	s.metrics.RecordReconnect()
	if s.current != nil {
		s.current.Close(ctx)
	}
	s.consecutiveErrors = 0
	return s.openStream(ctx)
}

// dialLive connects to PostgreSQL, ensures the replication slot exists, and
// issues StartReplication with protocol version 1 and the configured
// publication.
func (s *SessionManager) dialLive(ctx context.Context) (stream, error) {
	conn, err := Connect(ctx, s.cfg.DSN, s.logger)
	if err != nil {
		return nil, err
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("identify system: %w", err)
	}

	slotQuery := fmt.Sprintf("SELECT 1 FROM pg_replication_slots WHERE slot_name = '%s'", s.cfg.SlotName)
	rows, err := conn.Exec(ctx, slotQuery).ReadAll()
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("check replication slot: %w", err)
	}
	if len(rows) == 0 || len(rows[0].Rows) == 0 {
		if _, err := pglogrepl.CreateReplicationSlot(ctx, conn, s.cfg.SlotName, "pgoutput", pglogrepl.CreateReplicationSlotOptions{Temporary: false}); err != nil {
			conn.Close(ctx)
			return nil, fmt.Errorf("create replication slot %q: %w", s.cfg.SlotName, err)
		}
		s.logger.Info().Str("slot", s.cfg.SlotName).Msg("created replication slot")
	}

	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", s.cfg.Publication),
	}
	if err := pglogrepl.StartReplication(ctx, conn, s.cfg.SlotName, sysident.XLogPos, pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs}); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("start replication: %w", err)
	}
	s.logger.Info().
		Str("slot", s.cfg.SlotName).
		Str("publication", s.cfg.Publication).
		Str("start_lsn", sysident.XLogPos.String()).
		Msg("replication started")

	return &liveStream{conn: conn, reader: NewFrameReader(conn)}, nil
}
