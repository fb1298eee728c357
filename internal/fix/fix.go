// Package fix defines the Fix type shared by every layer of outpost: the
// NMEA source produces them, the codec serialises them, and the sink
// persists them.
package fix

import "time"

// Fix is a single GPS observation. Altitude and speed are carried as zero
// when the upstream source didn't report them; the wire protocol makes no
// distinction between "zero" and "absent".
type Fix struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	Altitude  float64
	SpeedKPH  float64
}
