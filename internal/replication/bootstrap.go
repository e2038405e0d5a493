package replication

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// minServerVersionNum is the lowest server_version_num that supports the
// pgoutput logical decoding plugin used throughout this package (PG10).
const minServerVersionNum = 100000

// Connect opens a replication-mode connection to dsn, verifies the server
// is new enough to speak pgoutput, and logs the replication identity
// (systemID/timeline/xlogpos) on every connect. dsn must already carry
// replication=database, which internal/config's DSN builder is responsible
// for appending.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*pgconn.PgConn, error) {
	conn, err := pgconn.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("replication: connect: %w", err)
	}

	if err := assertServerVersion(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, err
	}

	sysID, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("replication: identify system: %w", err)
	}
	logger.Info().
		Str("system_id", sysID.SystemID).
		Int32("timeline", sysID.Timeline).
		Str("xlogpos", sysID.XLogPos.String()).
		Str("dbname", sysID.DBName).
		Msg("replication connection established")

	return conn, nil
}

// assertServerVersion runs SHOW server_version_num and rejects servers too
// old to carry pgoutput, rather than letting the first Relation message fail
// to decode with a confusing error.
func assertServerVersion(ctx context.Context, conn *pgconn.PgConn) error {
	results, err := conn.Exec(ctx, "SHOW server_version_num").ReadAll()
	if err != nil {
		return fmt.Errorf("replication: show server_version_num: %w", err)
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return fmt.Errorf("replication: server_version_num returned no rows")
	}

	var versionNum int
	if _, err := fmt.Sscanf(string(results[0].Rows[0][0]), "%d", &versionNum); err != nil {
		return fmt.Errorf("replication: parse server_version_num: %w", err)
	}
	if versionNum < minServerVersionNum {
		return fmt.Errorf("replication: server_version_num %d is below the minimum %d required for pgoutput", versionNum, minServerVersionNum)
	}
	return nil
}
