package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

// Handler processes a decoded request body for one resource path and
// returns the response code and payload to send back. Handlers never see
// transport framing — only the path they were registered under.
type Handler interface {
	Handle(ctx context.Context, req Message) (code Code, payload []byte)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req Message) (Code, []byte)

func (f HandlerFunc) Handle(ctx context.Context, req Message) (Code, []byte) {
	return f(ctx, req)
}

// ServerContext is the server side of the transport: one UDP socket, one
// read loop dispatching by Uri-Path to registered resources. Each request
// is handled in its own goroutine so a slow sink write (SPEC_FULL.md
// §4.5 step 5) never blocks the read loop from accepting the next
// datagram — the single-threaded-cooperative model of SPEC_FULL.md §5 is
// approximated here the way Go idiomatically expresses it: one owning
// goroutine per connection/request, no shared mutable state beyond the
// resource map built at startup.
type ServerContext struct {
	conn      *net.UDPConn
	log       zerolog.Logger
	resources map[string]Handler
}

// NewServerContext binds to addr. Failure here is BIND_FAILED — fatal at
// startup (SPEC_FULL.md §7).
func NewServerContext(addr string, log zerolog.Logger) (*ServerContext, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return &ServerContext{
		conn:      conn,
		log:       log.With().Str("module", "transport.server").Logger(),
		resources: make(map[string]Handler),
	}, nil
}

// Handle registers a resource handler at path. Outpost registers exactly
// one: "/position" (SPEC_FULL.md §4.3).
func (s *ServerContext) Handle(path string, h Handler) {
	s.resources[path] = h
}

// Serve runs the read loop until ctx is cancelled or the socket closes.
func (s *ServerContext) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("read error")
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		go s.handleDatagram(ctx, data, raddr)
	}
}

func (s *ServerContext) handleDatagram(ctx context.Context, data []byte, raddr *net.UDPAddr) {
	req, err := Decode(data)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", raddr.String()).Msg("malformed request")
		return
	}

	handler, ok := s.resources[req.Path]
	var code Code
	var payload []byte
	if !ok {
		code = CodeMethodNotAllowed
	} else if req.Code != CodePOST {
		code = CodeMethodNotAllowed
	} else {
		code, payload = handler.Handle(ctx, req)
	}

	respType := Acknowledgement
	if req.Type == NonConfirmable {
		respType = NonConfirmable
	}

	resp := Message{
		Type:      respType,
		Code:      code,
		MessageID: req.MessageID,
		Token:     req.Token,
		Payload:   payload,
	}

	wire, err := Encode(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("encoding response")
		return
	}
	if _, err := s.conn.WriteToUDP(wire, raddr); err != nil {
		s.log.Warn().Err(err).Str("remote", raddr.String()).Msg("write error")
	}
}

// Close releases the underlying socket.
func (s *ServerContext) Close() error {
	return s.conn.Close()
}

// LocalAddr exposes the bound address, mainly so tests can dial it without
// threading the port number through a fixture.
func (s *ServerContext) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}
