package transport

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startEchoServer(t *testing.T) *ServerContext {
	t.Helper()
	srv, err := NewServerContext("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.Handle("position", HandlerFunc(func(ctx context.Context, req Message) (Code, []byte) {
		return CodeChanged, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	return srv
}

func TestServerRouting(t *testing.T) {
	srv := startEchoServer(t)
	client, err := NewClientContext(srv.LocalAddr().String(), zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "position", []byte("payload"), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.Code != CodeChanged {
		t.Fatalf("want CodeChanged, got %v", resp.Code)
	}
}

func TestServerRoutingWrongPath(t *testing.T) {
	srv := startEchoServer(t)
	client, err := NewClientContext(srv.LocalAddr().String(), zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "other", []byte("payload"), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.Code != CodeMethodNotAllowed {
		t.Fatalf("want CodeMethodNotAllowed, got %v", resp.Code)
	}
}

func TestClientTimeoutWhenNoServer(t *testing.T) {
	// Bind a socket just to learn an address nobody is listening on the
	// other protocol message for, then close it immediately.
	dead, err := NewServerContext("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := dead.LocalAddr().String()
	dead.Close()

	client, err := NewClientContext(addr, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	policy := RetryPolicy{InitialTimeout: 50 * time.Millisecond, MaxRetransmits: 2}
	_, err = client.Post(ctx, "position", []byte("x"), policy)
	if err != ErrTransportTimeout {
		t.Fatalf("want ErrTransportTimeout, got %v", err)
	}
}
