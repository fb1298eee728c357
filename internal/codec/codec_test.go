package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/cwheel/outpost/internal/fix"
)

func mkFix(t time.Time, lat, lon, alt, spd float64) fix.Fix {
	return fix.Fix{Time: t, Latitude: lat, Longitude: lon, Altitude: alt, SpeedKPH: spd}
}

func TestSingleSampleBatch(t *testing.T) {
	ref := mkFix(time.Unix(1700000000, 0).UTC(), 45.0, -120.0, 500, 0.0)

	encoded, err := Encode([]fix.Fix{ref})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) != HeaderWidth {
		t.Fatalf("want %d bytes, got %d", HeaderWidth, len(encoded))
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("want 1 sample, got %d", len(decoded))
	}
	got := decoded[0]
	if !got.Time.Equal(ref.Time) || got.Latitude != ref.Latitude || got.Longitude != ref.Longitude ||
		got.Altitude != ref.Altitude || got.SpeedKPH != ref.SpeedKPH {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, ref)
	}
}

func TestTwoSampleDelta(t *testing.T) {
	ref := mkFix(time.Unix(1700000000, 0).UTC(), 45.0, -120.0, 500, 0.0)
	second := mkFix(time.Unix(1700000002, 0).UTC(), 45.0001, -119.9999, 501, 12.3)

	encoded, err := Encode([]fix.Fix{ref, second})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) != 25 {
		t.Fatalf("want 25 bytes, got %d", len(encoded))
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := decoded[1]
	if got.Time.Sub(ref.Time) != 2*time.Second {
		t.Errorf("dt mismatch: %v", got.Time.Sub(ref.Time))
	}
	if diff := got.Latitude - ref.Latitude; absf(diff-0.0001) > 1e-9 {
		t.Errorf("dlat mismatch: %v", diff)
	}
	if diff := got.Longitude - ref.Longitude; absf(diff-0.0001) > 1e-9 {
		t.Errorf("dlon mismatch: %v", diff)
	}
	if got.Altitude != 501 {
		t.Errorf("alt mismatch: %v", got.Altitude)
	}
	if absf(got.SpeedKPH-12.3) > 1e-9 {
		t.Errorf("speed mismatch: %v", got.SpeedKPH)
	}
}

func TestFullBatch(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	fixes := make([]fix.Fix, 40)
	for i := range fixes {
		fixes[i] = mkFix(base.Add(time.Duration(i)*time.Second), 45.0+float64(i)*0.0001, -120.0+float64(i)*0.0001, 500+float64(i), float64(i))
	}

	encoded, err := Encode(fixes)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) != 367 {
		t.Fatalf("want 367 bytes, got %d", len(encoded))
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 40 {
		t.Fatalf("want 40 samples, got %d", len(decoded))
	}
	for i, want := range fixes {
		got := decoded[i]
		if absf(got.Latitude-want.Latitude) > 1e-4 || absf(got.Longitude-want.Longitude) > 1e-4 {
			t.Fatalf("sample %d coordinate drift too large: got %+v want %+v", i, got, want)
		}
	}
}

func TestSizeLaw(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	for n := 1; n <= 40; n++ {
		fixes := make([]fix.Fix, n)
		for i := range fixes {
			fixes[i] = mkFix(base.Add(time.Duration(i)*time.Second), 1, 1, 1, 1)
		}
		encoded, err := Encode(fixes)
		if err != nil {
			t.Fatalf("n=%d: encode: %v", n, err)
		}
		if want := EncodedSize(n); len(encoded) != want {
			t.Errorf("n=%d: want %d bytes, got %d", n, want, len(encoded))
		}
	}
}

func TestSaturation(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	ref := mkFix(base, 0, 0, 0, 0)
	// A delta of 4 degrees exceeds +-32767/10^4 degrees and must saturate,
	// not error.
	far := mkFix(base.Add(time.Second), 4.0, -4.0, 100000, 1000)

	encoded, err := Encode([]fix.Fix{ref, far})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := decoded[1]
	if absf(got.Latitude-(32767.0/1e4)) > 1e-9 {
		t.Errorf("expected saturated latitude delta, got %v", got.Latitude)
	}
	if absf(got.Longitude-(-32768.0/1e4)) > 1e-9 {
		t.Errorf("expected saturated longitude delta, got %v", got.Longitude)
	}
	if got.Altitude != 32767 {
		t.Errorf("expected saturated altitude, got %v", got.Altitude)
	}
	if got.SpeedKPH != 25.5 {
		t.Errorf("expected saturated speed, got %v", got.SpeedKPH)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); !errors.Is(err, ErrTooShort) {
		t.Errorf("want ErrTooShort, got %v", err)
	}

	zeroCount := make([]byte, HeaderWidth)
	zeroCount[15] = 0
	if _, err := Decode(zeroCount); !errors.Is(err, ErrBadCount) {
		t.Errorf("want ErrBadCount for count=0, got %v", err)
	}

	bigCount := make([]byte, HeaderWidth)
	bigCount[15] = 41
	if _, err := Decode(bigCount); !errors.Is(err, ErrBadCount) {
		t.Errorf("want ErrBadCount for count=41, got %v", err)
	}

	oneSampleCount := make([]byte, HeaderWidth+1)
	oneSampleCount[15] = 1
	if _, err := Decode(oneSampleCount); !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("want ErrTrailingBytes, got %v", err)
	}
}

func TestEncodeRejectsOutOfRangeCount(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("expected error for empty batch")
	}
	base := time.Unix(1700000000, 0).UTC()
	fixes := make([]fix.Fix, 41)
	for i := range fixes {
		fixes[i] = mkFix(base, 0, 0, 0, 0)
	}
	if _, err := Encode(fixes); err == nil {
		t.Error("expected error for 41-sample batch")
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
