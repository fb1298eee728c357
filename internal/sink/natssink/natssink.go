// Package natssink fans out accepted fixes to a NATS subject instead of a
// database, the way the example corpus's gpstracker backend splits
// storage into swappable store/impl/* backends. Downstream consumers
// (a second database writer, a live-map service, …) subscribe
// independently; this sink never blocks on them beyond the publish call.
package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cwheel/outpost/internal/fix"
)

const DefaultSubject = "outpost.positions"

type Sink struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

type wireFix struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  float64   `json:"alt"`
	SpeedKPH  float64   `json:"speed_kph"`
}

// Open connects to a NATS server at url and returns a ready Sink
// publishing to DefaultSubject.
func Open(url string, log zerolog.Logger) (*Sink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("natssink: connect: %w", err)
	}
	return &Sink{nc: nc, subject: DefaultSubject, log: log.With().Str("module", "natssink").Logger()}, nil
}

func (s *Sink) Append(ctx context.Context, fixes []fix.Fix) error {
	wire := make([]wireFix, len(fixes))
	for i, f := range fixes {
		wire[i] = wireFix{Time: f.Time, Latitude: f.Latitude, Longitude: f.Longitude, Altitude: f.Altitude, SpeedKPH: f.SpeedKPH}
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("natssink: marshal: %w", err)
	}

	if err := s.nc.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("natssink: publish: %w", err)
	}

	s.log.Debug().Int("count", len(fixes)).Str("subject", s.subject).Msg("published")
	return nil
}

// Close drains and closes the NATS connection.
func (s *Sink) Close() {
	s.nc.Close()
}
