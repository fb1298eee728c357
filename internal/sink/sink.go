// Package sink defines the storage collaborator the server pipeline hands
// decoded fixes to (SPEC_FULL.md §6, §9). It is intentionally the thinnest
// possible interface so the server pipeline can be tested against an
// in-memory fake without touching Postgres or NATS.
package sink

import (
	"context"

	"github.com/cwheel/outpost/internal/fix"
)

// Sink persists an ordered batch of reconstructed fixes, signalling
// success or failure synchronously to the caller. Implementations must not
// mutate fixes.
type Sink interface {
	Append(ctx context.Context, fixes []fix.Fix) error
}
