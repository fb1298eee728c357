// Package admin is the server's HTTP sidecar: a health check, a stats
// endpoint, and a live position feed over a websocket, grounded on the
// teacher's internal/web/api.go (chi router, cors.Handler, middleware
// stack, *http.Server wiring) and internal/web/webstream/webstream.go
// (the websocket subscriber-with-drop-on-full pattern, generalized here
// from per-user auth subscriptions to a single broadcast hub since
// SPEC_FULL.md carries no concept of per-client login).
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	hashids "github.com/speps/go-hashids/v2"
	"nhooyr.io/websocket"

	"github.com/cwheel/outpost/internal/fix"
	"github.com/cwheel/outpost/internal/stat"
)

// positionMessage is what /ws/positions sends for each accepted batch. Id
// is a hashid-obfuscated sequence number rather than the raw monotonic
// counter, so a client can tell messages apart without learning how many
// batches the server has processed in total.
type positionMessage struct {
	ID     string    `json:"id"`
	Fixes  []fix.Fix `json:"fixes"`
	Pushed time.Time `json:"pushed_at"`
}

// Server exposes /healthz, /stats, and /ws/positions. It implements
// server.Publisher.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
	stat       *stat.Stat
	hashID     *hashids.HashID
	seq        atomic.Uint64

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	out chan []byte
}

// New builds a Server bound to addr. Nothing is opened until Run.
func New(addr string, st *stat.Stat, log zerolog.Logger) (*Server, error) {
	hd := hashids.NewData()
	hd.Salt = "outpost-admin"
	hd.MinLength = 6
	hashID, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}

	s := &Server{
		log:         log.With().Str("module", "admin").Logger(),
		stat:        st,
		hashID:      hashID,
		subscribers: make(map[*subscriber]struct{}),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET"},
		MaxAge:         300,
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/ws/positions", s.handlePositions)

	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stat.Snapshot())
}

// Publish implements server.Publisher, fanning fixes out to every
// connected websocket subscriber. A slow or stalled subscriber gets its
// message dropped rather than blocking the sender, matching
// WsSubscriber.Push's non-blocking channel send.
func (s *Server) Publish(fixes []fix.Fix) {
	id := s.seq.Add(1)
	encoded, err := s.hashID.Encode([]int{int(id)})
	if err != nil {
		s.log.Warn().Err(err).Msg("hashid encode failed")
		encoded = ""
	}

	payload, err := json.Marshal(positionMessage{ID: encoded, Fixes: fixes, Pushed: time.Now()})
	if err != nil {
		s.log.Error().Err(err).Msg("marshal position message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		select {
		case sub.out <- payload:
		default:
			s.log.Debug().Msg("subscriber channel full, dropping update")
		}
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	sub := &subscriber{out: make(chan []byte, 16)}
	s.addSubscriber(sub)
	defer s.removeSubscriber(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-sub.out:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed, closing")
				return
			}
		}
	}
}

func (s *Server) addSubscriber(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub] = struct{}{}
}

func (s *Server) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub)
}
