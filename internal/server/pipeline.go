// Package server implements the server pipeline of SPEC_FULL.md §4.5: a
// single transport.Handler at "/position" that decrypts, decodes, and
// hands fixes to a sink.Sink.
package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cwheel/outpost/internal/codec"
	"github.com/cwheel/outpost/internal/fix"
	"github.com/cwheel/outpost/internal/outpostcrypto"
	"github.com/cwheel/outpost/internal/sink"
	"github.com/cwheel/outpost/internal/stat"
	"github.com/cwheel/outpost/internal/transport"
)

// Publisher receives every successfully-sunk batch, for components that
// fan fixes out to live observers (e.g. the admin websocket feed) without
// sitting on the critical path to the sink itself.
type Publisher interface {
	Publish(fixes []fix.Fix)
}

// Pipeline wires the position resource to a sink.
type Pipeline struct {
	key  outpostcrypto.Key
	sink sink.Sink
	stat *stat.Stat
	log  zerolog.Logger
	pub  Publisher
}

type Option func(*Pipeline)

// WithPublisher attaches a Publisher notified after every successful
// sink.Append, with the same fixes handed to the sink.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.pub = pub }
}

func New(key outpostcrypto.Key, s sink.Sink, st *stat.Stat, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		key:  key,
		sink: s,
		stat: st,
		log:  log.With().Str("module", "server.pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle implements transport.Handler for the "/position" resource
// (SPEC_FULL.md §4.5 steps 1-6). Routing of non-POST/non-"/position"
// requests to METHOD_NOT_ALLOWED happens one layer up in transport.ServerContext,
// which only calls registered handlers for a matched POST.
func (p *Pipeline) Handle(ctx context.Context, req transport.Message) (transport.Code, []byte) {
	plaintext, err := outpostcrypto.Open(p.key, req.Payload)
	if err != nil {
		p.log.Warn().Err(err).Msg("envelope rejected")
		p.stat.AuthFailure()
		p.stat.BatchRejected()
		return transport.CodeUnauthorized, nil
	}

	fixes, err := codec.Decode(plaintext)
	if err != nil {
		// A valid key never produces malformed plaintext, so decode
		// failure implies tampering or version skew — conflated with
		// auth failure by design (SPEC_FULL.md §4.5 step 3).
		p.log.Warn().Err(err).Msg("decode rejected (treated as auth failure)")
		p.stat.AuthFailure()
		p.stat.BatchRejected()
		return transport.CodeUnauthorized, nil
	}

	if err := p.sink.Append(ctx, fixes); err != nil {
		p.log.Error().Err(err).Int("count", len(fixes)).Msg("sink append failed")
		p.stat.BatchRejected()
		return transport.CodeInternalServerError, nil
	}

	p.stat.BatchAccepted(len(fixes))
	p.log.Info().Int("count", len(fixes)).Msg("batch accepted")
	if p.pub != nil {
		p.pub.Publish(fixes)
	}
	return transport.CodeChanged, nil
}
