// Package logsink is a Sink that only writes structured log lines. It
// backs the "log://" sink DSN scheme and an empty sink DSN, for running
// the server without a database.
package logsink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cwheel/outpost/internal/fix"
)

type Sink struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Sink {
	return &Sink{log: log.With().Str("module", "logsink").Logger()}
}

func (s *Sink) Append(ctx context.Context, fixes []fix.Fix) error {
	for _, f := range fixes {
		s.log.Info().
			Time("observed_at", f.Time).
			Float64("lat", f.Latitude).
			Float64("lon", f.Longitude).
			Float64("alt", f.Altitude).
			Float64("speed_kph", f.SpeedKPH).
			Msg("fix accepted")
	}
	return nil
}
