package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

// pollInterval bounds how long ReadPending blocks before reporting "no
// data available". A blocking read with a deadline stands in for an
// explicit sleep-then-retry poll loop.
const pollInterval = 10 * time.Millisecond

// FrameReader pulls the next pgoutput message body out of the replication
// connection. It is a thin wrapper over the driver's framed-message reader
// (pgconn/pgproto3/pglogrepl); FrameReader's only job is to strip the
// CopyData/XLogData envelope and surface keepalive bookkeeping, handing the
// Session Manager just the pgoutput message bytes to Dispatch.
type FrameReader struct {
	conn *pgconn.PgConn

	serverWALEnd   pglogrepl.LSN
	lastReceiveLSN pglogrepl.LSN
}

// NewFrameReader wraps an established replication-mode connection.
func NewFrameReader(conn *pgconn.PgConn) *FrameReader {
	return &FrameReader{conn: conn}
}

// ReadPending returns the next pgoutput message body, or ok=false if
// nothing was available within pollInterval. Keepalive messages are
// consumed internally and never surfaced as a frame.
func (f *FrameReader) ReadPending(ctx context.Context) (frame []byte, ok bool, err error) {
	recvCtx, cancel := context.WithDeadline(ctx, time.Now().Add(pollInterval))
	defer cancel()

	raw, err := f.conn.ReceiveMessage(recvCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if pgconn.Timeout(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("frame reader: receive message: %w", err)
	}

	if errResp, isErr := raw.(*pgproto3.ErrorResponse); isErr {
		return nil, false, fmt.Errorf("frame reader: server error: %s (%s)", errResp.Message, errResp.Code)
	}

	copyData, isCopyData := raw.(*pgproto3.CopyData)
	if !isCopyData || len(copyData.Data) == 0 {
		return nil, false, nil
	}

	switch copyData.Data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
		if err != nil {
			return nil, false, fmt.Errorf("frame reader: parse keepalive: %w", err)
		}
		if pglogrepl.LSN(pkm.ServerWALEnd) > f.serverWALEnd {
			f.serverWALEnd = pglogrepl.LSN(pkm.ServerWALEnd)
		}
		// pkm.ReplyRequested is not separately honored: SessionManager
		// already sends a status update after every drained buffer
		// (SPEC_FULL.md §4.1 step 3), which satisfies the server's request
		// without tracking it here.
		return nil, false, nil

	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
		if err != nil {
			return nil, false, fmt.Errorf("frame reader: parse xlogdata: %w", err)
		}
		if pglogrepl.LSN(xld.ServerWALEnd) > f.serverWALEnd {
			f.serverWALEnd = pglogrepl.LSN(xld.ServerWALEnd)
		}
		f.lastReceiveLSN = pglogrepl.LSN(xld.WALStart)
		return xld.WALData, true, nil

	default:
		return nil, false, nil
	}
}

// LastReceiveLSN returns the WAL start position of the most recently
// received message, which the Session Manager echoes back as both the
// applied and flushed position in its status feedback.
func (f *FrameReader) LastReceiveLSN() pglogrepl.LSN {
	return f.lastReceiveLSN
}

// ServerWALEnd returns the most recently observed server write position,
// used to keep the status feedback loop from falling behind during idle
// periods.
func (f *FrameReader) ServerWALEnd() pglogrepl.LSN {
	return f.serverWALEnd
}

