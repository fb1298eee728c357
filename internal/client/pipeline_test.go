package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwheel/outpost/internal/codec"
	"github.com/cwheel/outpost/internal/fix"
	"github.com/cwheel/outpost/internal/outpostcrypto"
	"github.com/cwheel/outpost/internal/transport"
)

// fakeSource feeds a fixed list of fixes, then blocks until ctx is
// cancelled.
type fakeSource struct {
	fixes []fix.Fix
	i     int
}

func (s *fakeSource) Next(ctx context.Context) (fix.Fix, error) {
	if s.i < len(s.fixes) {
		f := s.fixes[s.i]
		s.i++
		return f, nil
	}
	<-ctx.Done()
	return fix.Fix{}, ctx.Err()
}

type capturingHandler struct {
	mu    sync.Mutex
	key   outpostcrypto.Key
	calls [][]fix.Fix
}

func (h *capturingHandler) Handle(ctx context.Context, req transport.Message) (transport.Code, []byte) {
	plaintext, err := outpostcrypto.Open(h.key, req.Payload)
	if err != nil {
		return transport.CodeUnauthorized, nil
	}
	fixes, err := codec.Decode(plaintext)
	if err != nil {
		return transport.CodeUnauthorized, nil
	}
	h.mu.Lock()
	h.calls = append(h.calls, fixes)
	h.mu.Unlock()
	return transport.CodeChanged, nil
}

func (h *capturingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func startServer(t *testing.T, key outpostcrypto.Key) (*transport.ServerContext, *capturingHandler) {
	t.Helper()
	srv, err := transport.NewServerContext("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := &capturingHandler{key: key}
	srv.Handle("position", h)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	return srv, h
}

func TestPipelineFlushesOnCapacity(t *testing.T) {
	var key outpostcrypto.Key
	srv, h := startServer(t, key)

	tc, err := transport.NewClientContext(srv.LocalAddr().String(), zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tc.Close()

	fixes := make([]fix.Fix, codec.MaxSamples)
	for i := range fixes {
		fixes[i] = fix.Fix{
			Time:      time.Unix(1700000000+int64(i), 0).UTC(),
			Latitude:  45 + float64(i),
			Longitude: -120 + float64(i),
		}
	}
	source := &fakeSource{fixes: fixes}

	p := New(source, tc, key, 0.0001, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for h.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if h.callCount() != 1 {
		t.Fatalf("want exactly 1 flush at capacity, got %d", h.callCount())
	}
}

func TestPipelineDuplicateFilter(t *testing.T) {
	var key outpostcrypto.Key
	p := New(&fakeSource{}, nil, key, 0.001, time.Hour, zerolog.Nop())

	ctx := context.Background()
	p.onFix(ctx, fix.Fix{Time: time.Unix(1700000000, 0).UTC(), Latitude: 45, Longitude: -120})
	p.onFix(ctx, fix.Fix{Time: time.Unix(1700000001, 0).UTC(), Latitude: 45, Longitude: -120}) // within threshold of the last accepted fix
	p.onFix(ctx, fix.Fix{Time: time.Unix(1700000002, 0).UTC(), Latitude: 46, Longitude: -119}) // clearly distinct

	p.mu.Lock()
	got := len(p.buffer)
	p.mu.Unlock()
	if got != 2 {
		t.Fatalf("want 2 accepted fixes (first + one distinct), got %d", got)
	}
}

func TestPipelineFlushesOnTimer(t *testing.T) {
	var key outpostcrypto.Key
	srv, h := startServer(t, key)

	tc, err := transport.NewClientContext(srv.LocalAddr().String(), zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tc.Close()

	source := &fakeSource{fixes: []fix.Fix{
		{Time: time.Unix(1700000000, 0).UTC(), Latitude: 45, Longitude: -120},
	}}

	p := New(source, tc, key, 0.0001, 300*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for h.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if h.callCount() != 1 {
		t.Fatalf("want exactly 1 timer-driven flush, got %d", h.callCount())
	}
	if len(h.calls[0]) != 1 {
		t.Fatalf("want 1 fix in the flushed batch, got %d", len(h.calls[0]))
	}
}
