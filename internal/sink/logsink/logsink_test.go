package logsink

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwheel/outpost/internal/fix"
	"github.com/cwheel/outpost/internal/sink"
)

func TestLogSinkSatisfiesInterface(t *testing.T) {
	var _ sink.Sink = New(zerolog.Nop())
}

func TestLogSinkAppendNeverErrors(t *testing.T) {
	s := New(zerolog.Nop())
	fixes := []fix.Fix{{Time: time.Now(), Latitude: 1, Longitude: 2}}
	if err := s.Append(context.Background(), fixes); err != nil {
		t.Fatalf("append: %v", err)
	}
}
