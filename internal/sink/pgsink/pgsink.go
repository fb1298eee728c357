// Package pgsink persists fixes into a PostGIS-enabled PostgreSQL
// database, grounded on the batched-write style of
// internal/gps/store.Store and internal/store/impl/pgstore in the example
// this repository was adapted from — one round trip per accepted batch via
// pgx.Batch rather than one round trip per row.
package pgsink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"github.com/cwheel/outpost/internal/fix"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS position (
	id BIGSERIAL PRIMARY KEY,
	observed_at TIMESTAMPTZ NOT NULL,
	location GEOMETRY(POINT, 4326) NOT NULL,
	speed_kph DOUBLE PRECISION NOT NULL,
	altitude_m DOUBLE PRECISION NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS position_observed_at_idx ON position (observed_at);
CREATE INDEX IF NOT EXISTS position_location_idx ON position USING GIST (location);
`

const insertSQL = `
INSERT INTO position (observed_at, location, speed_kph, altitude_m)
VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326), $4, $5)
`

// Sink writes fixes into the "position" table. It implements sink.Sink.
type Sink struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Open connects to dsn, ensures the schema exists, and returns a ready
// Sink. Failure is the KEY_IO/BIND_FAILED class of startup error the
// server treats as fatal.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Sink, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgsink: connect: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgsink: schema setup: %w", err)
	}

	return &Sink{pool: pool, log: log.With().Str("module", "pgsink").Logger()}, nil
}

// Append inserts every fix in one pipelined round trip.
func (s *Sink) Append(ctx context.Context, fixes []fix.Fix) error {
	if len(fixes) == 0 {
		return nil
	}

	start := time.Now()
	batch := &pgx.Batch{}
	for _, f := range fixes {
		batch.Queue(insertSQL, f.Time, f.Longitude, f.Latitude, f.SpeedKPH, f.Altitude)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(fixes); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("pgsink: insert %d/%d: %w", i+1, len(fixes), classifyPgError(err))
		}
	}

	s.log.Debug().Int("count", len(fixes)).Dur("took", time.Since(start)).Msg("batch persisted")
	return nil
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

func classifyPgError(err error) error {
	if sqlErr, ok := err.(interface{ SQLState() string }); ok && sqlErr.SQLState() == pgerrcode.InsufficientResources {
		return fmt.Errorf("database under load: %w", err)
	}
	return err
}
