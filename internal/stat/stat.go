// Package stat keeps cumulative, atomic counters for the admin
// surface, grounded on internal/gps/stat.Stat in the example this
// repository was adapted from.
package stat

import (
	"sync/atomic"
	"time"
)

// Stat tracks counts for the server pipeline's admin /stats endpoint.
type Stat struct {
	batchesAccepted atomic.Uint64
	batchesRejected atomic.Uint64
	fixesPersisted  atomic.Uint64
	authFailures    atomic.Uint64

	created time.Time
}

func New() *Stat {
	return &Stat{created: time.Now()}
}

func (s *Stat) BatchAccepted(fixCount int) {
	s.batchesAccepted.Add(1)
	s.fixesPersisted.Add(uint64(fixCount))
}

func (s *Stat) BatchRejected() {
	s.batchesRejected.Add(1)
}

func (s *Stat) AuthFailure() {
	s.authFailures.Add(1)
}

// Snapshot is a point-in-time copy suitable for JSON encoding.
type Snapshot struct {
	BatchesAccepted uint64        `json:"batches_accepted"`
	BatchesRejected uint64        `json:"batches_rejected"`
	FixesPersisted  uint64        `json:"fixes_persisted"`
	AuthFailures    uint64        `json:"auth_failures"`
	Uptime          time.Duration `json:"uptime_seconds"`
}

func (s *Stat) Snapshot() Snapshot {
	return Snapshot{
		BatchesAccepted: s.batchesAccepted.Load(),
		BatchesRejected: s.batchesRejected.Load(),
		FixesPersisted:  s.fixesPersisted.Load(),
		AuthFailures:    s.authFailures.Load(),
		Uptime:          time.Since(s.created) / time.Second,
	}
}
