// Package client implements the client pipeline of SPEC_FULL.md §4.4: a
// duplicate filter, a fixed-capacity batch buffer, a flush timer, and a
// single-in-flight send over transport with no application-level retry.
package client

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwheel/outpost/internal/codec"
	"github.com/cwheel/outpost/internal/fix"
	"github.com/cwheel/outpost/internal/outpostcrypto"
	"github.com/cwheel/outpost/internal/transport"
)

// FixSource yields the next accepted fix, or a terminal error when no more
// fixes will ever arrive. Implementations are responsible for their own
// NMEA_READ-class recovery: a malformed sentence is skipped internally,
// never surfaced as an error here (SPEC_FULL.md §7, §9's "lazy,
// possibly-infinite sequence" design note).
type FixSource interface {
	Next(ctx context.Context) (fix.Fix, error)
}

// resourcePath is the server resource every batch is posted to
// (SPEC_FULL.md §4.3). Flush capacity is codec.MaxSamples.
const resourcePath = "position"

// Pipeline owns the batch buffer and the duplicate filter's last-accepted
// fix. Only the goroutine running Run (including checkFlushTimer, which
// runs off Run's own ticker) touches buffer/last; mu guards them together
// with sending, which the send goroutine clears when it finishes. mu is
// never held across the network call itself (SPEC_FULL.md §5).
type Pipeline struct {
	source              FixSource
	transport           *transport.ClientContext
	key                 outpostcrypto.Key
	similarityThreshold float64
	flushInterval       time.Duration
	retryPolicy         transport.RetryPolicy
	log                 zerolog.Logger

	mu          sync.Mutex
	buffer      []fix.Fix
	bufferSince time.Time
	last        *fix.Fix
	sending     bool
}

type Option func(*Pipeline)

func WithRetryPolicy(p transport.RetryPolicy) Option {
	return func(pl *Pipeline) { pl.retryPolicy = p }
}

// New builds a Pipeline. flushInterval is the "configured flush interval"
// of SPEC_FULL.md §4.4.
func New(source FixSource, tc *transport.ClientContext, key outpostcrypto.Key, similarityThreshold float64, flushInterval time.Duration, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:              source,
		transport:           tc,
		key:                 key,
		similarityThreshold: similarityThreshold,
		flushInterval:       flushInterval,
		retryPolicy:         transport.DefaultRetryPolicy(),
		log:                 log.With().Str("module", "client.pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks, reading fixes from source and flushing batches until ctx is
// cancelled or source returns a terminal error.
func (p *Pipeline) Run(ctx context.Context) error {
	fixCh := make(chan fix.Fix)
	done := make(chan error, 1)
	go p.readSource(ctx, fixCh, done)

	ticker := time.NewTicker(p.timerCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case f := <-fixCh:
			p.onFix(ctx, f)
		case <-ticker.C:
			p.checkFlushTimer(ctx)
		}
	}
}

func (p *Pipeline) timerCheckInterval() time.Duration {
	interval := p.flushInterval / 4
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	return interval
}

func (p *Pipeline) readSource(ctx context.Context, fixCh chan<- fix.Fix, done chan<- error) {
	for {
		f, err := p.source.Next(ctx)
		if err != nil {
			done <- err
			return
		}
		select {
		case fixCh <- f:
		case <-ctx.Done():
			done <- ctx.Err()
			return
		}
	}
}

// onFix applies the duplicate filter and appends to the buffer, then
// triggers a flush if capacity is reached (SPEC_FULL.md §4.4 step 1-2).
func (p *Pipeline) onFix(ctx context.Context, f fix.Fix) {
	p.mu.Lock()

	if p.last != nil && similar(*p.last, f, p.similarityThreshold) {
		p.mu.Unlock()
		return
	}
	p.last = &f

	if len(p.buffer) >= codec.MaxSamples {
		// A send is in flight and this fresh buffer has also filled:
		// evict the oldest sample rather than overlap sends
		// (SPEC_FULL.md §4.4 step 4).
		p.buffer = append(p.buffer[1:], f)
		p.log.Warn().Msg("batch buffer full while a send is in flight, evicted oldest sample")
		p.mu.Unlock()
		return
	}

	p.buffer = append(p.buffer, f)
	if len(p.buffer) == 1 {
		p.bufferSince = time.Now()
	}
	full := len(p.buffer) == codec.MaxSamples
	p.mu.Unlock()

	if full {
		p.flush(ctx)
	}
}

func (p *Pipeline) checkFlushTimer(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 || p.sending || time.Since(p.bufferSince) < p.flushInterval {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.flush(ctx)
}

// flush swaps out the current buffer and sends it in its own goroutine,
// so the reader keeps accepting fixes into a fresh buffer while the send
// is outstanding (SPEC_FULL.md §4.4 step 4, §5).
func (p *Pipeline) flush(ctx context.Context) {
	p.mu.Lock()
	if p.sending || len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = nil
	p.sending = true
	p.mu.Unlock()

	go p.sendBatch(ctx, batch)
}

func (p *Pipeline) sendBatch(ctx context.Context, batch []fix.Fix) {
	defer func() {
		p.mu.Lock()
		p.sending = false
		p.mu.Unlock()
	}()

	plaintext, err := codec.Encode(batch)
	if err != nil {
		// Only reachable if a caller bypasses the capacity check above;
		// treat like any other drop-and-continue failure.
		p.log.Error().Err(err).Msg("encode failed, dropping batch")
		return
	}

	envelope, err := outpostcrypto.Seal(p.key, plaintext)
	if err != nil {
		p.log.Error().Err(err).Msg("seal failed, dropping batch")
		return
	}

	resp, err := p.transport.Post(ctx, resourcePath, envelope, p.retryPolicy)
	if err != nil {
		p.log.Warn().Err(err).Int("count", len(batch)).Msg("transport failed, batch dropped")
		return
	}

	switch resp.Code {
	case transport.CodeChanged:
		p.log.Debug().Int("count", len(batch)).Msg("batch accepted by server")
	case transport.CodeUnauthorized:
		// Keys are misconfigured; retrying will not help
		// (SPEC_FULL.md §4.4 step 3).
		p.log.Error().Int("count", len(batch)).Msg("server rejected batch: unauthorized")
	default:
		p.log.Warn().Int("count", len(batch)).Str("code", resp.Code.String()).Msg("batch dropped")
	}
}

func similar(a, b fix.Fix, threshold float64) bool {
	return math.Abs(a.Latitude-b.Latitude) < threshold && math.Abs(a.Longitude-b.Longitude) < threshold
}
