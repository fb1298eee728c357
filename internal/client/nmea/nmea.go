// Package nmea implements client.FixSource over a serial NMEA 0183 GPS
// receiver, combining consecutive RMC (position, speed, date/time) and GGA
// (altitude) sentences into a single fix. Grounded on
// relabs-tech-inertial_computer's gps_producer.go for the
// adrianmo/go-nmea Parse/DataType/switch idiom and on
// sagostin-goefidash's internal/gps/nmea.go for the serial port setup and
// RMC+GGA combining loop.
package nmea

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/cwheel/outpost/internal/fix"
)

// Source reads NMEA sentences from a serial port and assembles them into
// fix.Fix values. It implements client.FixSource.
type Source struct {
	port    serial.Port
	scanner *bufio.Scanner
	log     zerolog.Logger

	pendingAlt     float64
	havePendingAlt bool
}

// Open opens device at baud (one of the two rates SPEC_FULL.md's client
// config allows) and returns a ready-to-read Source. Failure here is a
// fatal KEY_IO-class startup error, same as a missing PSK file
// (SPEC_FULL.md §7).
func Open(device string, baud int, log zerolog.Logger) (*Source, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("nmea: opening %s: %w", device, err)
	}

	return &Source{
		port:    port,
		scanner: bufio.NewScanner(port),
		log:     log.With().Str("module", "client.nmea").Logger(),
	}, nil
}

// Close releases the serial port.
func (s *Source) Close() error {
	return s.port.Close()
}

// Next blocks until a complete fix (an RMC sentence with an active-fix
// validity field, optionally enriched with the most recent GGA altitude)
// has been parsed, skipping malformed or irrelevant sentences along the
// way. It returns ctx.Err() if ctx is cancelled while waiting, and a
// terminal error if the underlying scanner hits EOF or a read error —
// the caller treats that as the end of the fix stream.
func (s *Source) Next(ctx context.Context) (fix.Fix, error) {
	for {
		if err := ctx.Err(); err != nil {
			return fix.Fix{}, err
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return fix.Fix{}, fmt.Errorf("nmea: read: %w", err)
			}
			return fix.Fix{}, fmt.Errorf("nmea: serial stream closed")
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		sentence, err := gonmea.Parse(line)
		if err != nil {
			// A single malformed sentence is never fatal — skip it and
			// keep reading (SPEC_FULL.md §7's NMEA_READ recovery).
			s.log.Debug().Err(err).Str("line", line).Msg("skipping unparseable sentence")
			continue
		}

		switch sentence.DataType() {
		case gonmea.TypeGGA:
			gga := sentence.(gonmea.GGA)
			s.pendingAlt = gga.Altitude
			s.havePendingAlt = true

		case gonmea.TypeRMC:
			rmc := sentence.(gonmea.RMC)
			if rmc.Validity != "A" {
				continue
			}

			f := fix.Fix{
				Time:      rmcTimestamp(rmc),
				Latitude:  rmc.Latitude,
				Longitude: rmc.Longitude,
				SpeedKPH:  rmc.Speed * 1.852, // knots to km/h
			}
			if s.havePendingAlt {
				f.Altitude = s.pendingAlt
			}
			return f, nil
		}
	}
}

func rmcTimestamp(rmc gonmea.RMC) time.Time {
	return time.Date(
		rmc.Date.YY+2000, time.Month(rmc.Date.MM), rmc.Date.DD,
		rmc.Time.Hour, rmc.Time.Minute, rmc.Time.Second, 0,
		time.UTC,
	)
}
