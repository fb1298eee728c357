// Package codec implements the outpost batch wire format: a 16-byte
// reference header followed by zero or more 9-byte delta samples. See
// SPEC_FULL.md §4.1 for the field layout.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwheel/outpost/internal/fix"
)

const (
	HeaderWidth = 16
	SampleWidth = 9

	MinSamples = 1
	MaxSamples = 40

	latLonRefScale   = 1e7
	latLonDeltaScale = 1e4
	speedScale       = 10.0
)

// Decode errors, returned as distinct sentinels so callers can classify
// without string matching (see SPEC_FULL.md §7).
var (
	ErrTooShort      = errors.New("codec: payload shorter than declared sample count requires")
	ErrBadCount      = errors.New("codec: count is zero or exceeds 40")
	ErrTrailingBytes = errors.New("codec: trailing bytes after declared batch length")
)

// Encode packs a batch of 1..40 fixes into the wire format. The first fix
// is the reference; the caller is responsible for ordering (codec does not
// sort — spec.md §3 defines order as client-filter-acceptance order, not
// timestamp order).
func Encode(fixes []fix.Fix) ([]byte, error) {
	n := len(fixes)
	if n < MinSamples || n > MaxSamples {
		return nil, fmt.Errorf("codec: batch must have 1..40 samples, got %d", n)
	}

	ref := fixes[0]
	refTS := uint32(ref.Time.Unix())
	refLatQ := quantizeInt32(ref.Latitude * latLonRefScale)
	refLonQ := quantizeInt32(ref.Longitude * latLonRefScale)
	refAlt := quantizeInt16(ref.Altitude)
	refSpdQ := quantizeUint8(ref.SpeedKPH * speedScale)

	out := make([]byte, HeaderWidth+SampleWidth*(n-1))
	binary.BigEndian.PutUint32(out[0:4], refTS)
	binary.BigEndian.PutUint32(out[4:8], uint32(refLatQ))
	binary.BigEndian.PutUint32(out[8:12], uint32(refLonQ))
	binary.BigEndian.PutUint16(out[12:14], uint16(refAlt))
	out[14] = refSpdQ
	out[15] = byte(n)

	for i := 1; i < n; i++ {
		s := fixes[i]
		off := HeaderWidth + SampleWidth*(i-1)

		dt := quantizeUint16(s.Time.Sub(ref.Time).Seconds())
		dlatQ := quantizeInt16((s.Latitude - ref.Latitude) * latLonDeltaScale)
		dlonQ := quantizeInt16((s.Longitude - ref.Longitude) * latLonDeltaScale)
		alt := quantizeInt16(s.Altitude)
		spdQ := quantizeUint8(s.SpeedKPH * speedScale)

		binary.BigEndian.PutUint16(out[off:off+2], dt)
		binary.BigEndian.PutUint16(out[off+2:off+4], uint16(dlatQ))
		binary.BigEndian.PutUint16(out[off+4:off+6], uint16(dlonQ))
		binary.BigEndian.PutUint16(out[off+6:off+8], uint16(alt))
		out[off+8] = spdQ
	}

	return out, nil
}

// Decode reverses Encode, reconstructing absolute fixes from the header
// plus deltas.
func Decode(payload []byte) ([]fix.Fix, error) {
	if len(payload) < HeaderWidth {
		return nil, ErrTooShort
	}

	refTS := binary.BigEndian.Uint32(payload[0:4])
	refLatQ := int32(binary.BigEndian.Uint32(payload[4:8]))
	refLonQ := int32(binary.BigEndian.Uint32(payload[8:12]))
	refAlt := int16(binary.BigEndian.Uint16(payload[12:14]))
	refSpdQ := payload[14]
	count := int(payload[15])

	if count < MinSamples || count > MaxSamples {
		return nil, ErrBadCount
	}

	want := HeaderWidth + SampleWidth*(count-1)
	if len(payload) < want {
		return nil, ErrTooShort
	}
	if len(payload) > want {
		return nil, ErrTrailingBytes
	}

	refTime := time.Unix(int64(refTS), 0).UTC()
	refLat := float64(refLatQ) / latLonRefScale
	refLon := float64(refLonQ) / latLonRefScale

	out := make([]fix.Fix, count)
	out[0] = fix.Fix{
		Time:      refTime,
		Latitude:  refLat,
		Longitude: refLon,
		Altitude:  float64(refAlt),
		SpeedKPH:  float64(refSpdQ) / speedScale,
	}

	for i := 1; i < count; i++ {
		off := HeaderWidth + SampleWidth*(i-1)
		dt := binary.BigEndian.Uint16(payload[off : off+2])
		dlatQ := int16(binary.BigEndian.Uint16(payload[off+2 : off+4]))
		dlonQ := int16(binary.BigEndian.Uint16(payload[off+4 : off+6]))
		alt := int16(binary.BigEndian.Uint16(payload[off+6 : off+8]))
		spdQ := payload[off+8]

		out[i] = fix.Fix{
			Time:      refTime.Add(time.Duration(dt) * time.Second),
			Latitude:  refLat + float64(dlatQ)/latLonDeltaScale,
			Longitude: refLon + float64(dlonQ)/latLonDeltaScale,
			Altitude:  float64(alt),
			SpeedKPH:  float64(spdQ) / speedScale,
		}
	}

	return out, nil
}

// EncodedSize returns the exact wire size for a batch of n samples, used by
// tests to check the size law from SPEC_FULL.md §8.
func EncodedSize(n int) int {
	return HeaderWidth + SampleWidth*(n-1)
}

// quantize* round to nearest, ties away from zero, and saturate to the
// field's representable range rather than erroring — SPEC_FULL.md §4.1
// treats out-of-range samples as lossy, not invalid.

func quantizeInt32(v float64) int32 {
	r := roundAwayFromZero(v)
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	if r < math.MinInt32 {
		return math.MinInt32
	}
	return int32(r)
}

func quantizeInt16(v float64) int16 {
	r := roundAwayFromZero(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

func quantizeUint16(v float64) uint16 {
	r := roundAwayFromZero(v)
	if r < 0 {
		return 0
	}
	if r > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(r)
}

func quantizeUint8(v float64) uint8 {
	r := roundAwayFromZero(v)
	if r < 0 {
		return 0
	}
	if r > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(r)
}

func roundAwayFromZero(v float64) float64 {
	if v >= 0 {
		return math.Floor(v + 0.5)
	}
	return math.Ceil(v - 0.5)
}
