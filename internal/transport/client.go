package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrTransportTimeout is returned when a CONFIRMABLE request exhausts its
// retry budget without an acknowledgement or terminal response
// (SPEC_FULL.md §4.3).
var ErrTransportTimeout = errors.New("transport: timed out after exhausting retries")

// RetryPolicy controls CONFIRMABLE retransmission. Defaults mirror CoAP's
// own ACK_TIMEOUT and MAX_RETRANSMIT constants; no ACK_RANDOM_FACTOR
// jitter is applied, each timeout is exactly double the previous one.
type RetryPolicy struct {
	InitialTimeout time.Duration
	MaxRetransmits int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialTimeout: 2 * time.Second, MaxRetransmits: 4}
}

// ClientContext is the client side of the transport: one UDP socket, one
// read loop, and a table of outstanding requests keyed by message ID. Only
// one goroutine ever touches the socket's write path while a request is
// in flight, matching the single-in-flight-send rule the client pipeline
// imposes on itself (SPEC_FULL.md §4.4/§5).
type ClientContext struct {
	conn   *net.UDPConn
	log    zerolog.Logger
	nextID atomic.Uint32

	mu      sync.Mutex
	pending map[uint16]chan Message

	closed atomic.Bool
}

// NewClientContext dials the server. Failure here is the KEY_IO/BIND_FAILED
// class of startup error: callers should treat it as fatal.
func NewClientContext(serverAddr string, log zerolog.Logger) (*ClientContext, error) {
	raddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", serverAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", serverAddr, err)
	}

	c := &ClientContext{
		conn:    conn,
		log:     log.With().Str("module", "transport.client").Logger(),
		pending: make(map[uint16]chan Message),
	}
	go c.readLoop()
	return c, nil
}

// Post sends a CONFIRMABLE POST to path with payload, retransmitting with
// exponential backoff until an ACK/response arrives or the retry budget is
// exhausted. This is the only retry mechanism in the system — the client
// pipeline itself never retries a failed flush (SPEC_FULL.md §4.3/§4.4).
func (c *ClientContext) Post(ctx context.Context, path string, payload []byte, policy RetryPolicy) (Message, error) {
	token := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, token); err != nil {
		return Message{}, fmt.Errorf("transport: generating token: %w", err)
	}

	id := uint16(c.nextID.Add(1))
	req := Message{
		Type:      Confirmable,
		Code:      CodePOST,
		MessageID: id,
		Token:     token,
		Path:      path,
		Payload:   payload,
	}

	wire, err := Encode(req)
	if err != nil {
		return Message{}, err
	}

	respCh := make(chan Message, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	timeout := policy.InitialTimeout
	for attempt := 0; attempt <= policy.MaxRetransmits; attempt++ {
		if _, err := c.conn.Write(wire); err != nil {
			return Message{}, fmt.Errorf("transport: write: %w", err)
		}

		select {
		case resp := <-respCh:
			return resp, nil
		case <-time.After(timeout):
			timeout *= 2
			continue
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}

	return Message{}, ErrTransportTimeout
}

func (c *ClientContext) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Warn().Err(err).Msg("read error")
			continue
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed response")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.MessageID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// Close releases the underlying socket. Any in-flight Post call unblocks
// via ctx cancellation or its own retry timeout — Close does not cancel
// outstanding requests itself (SPEC_FULL.md §5: cancellation is driven by
// the caller's context, not the transport).
func (c *ClientContext) Close() error {
	c.closed.Store(true)
	return c.conn.Close()
}
