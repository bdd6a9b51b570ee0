// ABOUTME: HTTP and websocket front of the fake backend
// ABOUTME: Serves the reachability root and upgrades /ws into per-client sessions

package fakebackend

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-chorus/internal/auth"
)

// Version is reported by the status endpoint.
const Version = "0.1.0"

// DefaultChunkDelay paces the mock generator.
const DefaultChunkDelay = 200 * time.Millisecond

// Options configures a Server.
type Options struct {
	// Verifier, when set, requires a bearer token on /ws.
	Verifier  auth.Verifier
	Generator Generator
	Logger    *slog.Logger
}

// Server is a multi-agent backend good enough to drive chorus end to end.
type Server struct {
	state     *State
	generator Generator
	verifier  auth.Verifier
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gen := opts.Generator
	if gen == nil {
		gen = MockGenerator{Delay: DefaultChunkDelay}
	}
	return &Server{
		state:     NewState(),
		generator: gen,
		verifier:  opts.Verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:   logger.With("component", "fake-backend"),
		sessions: make(map[string]*session),
	}
}

// State exposes the backend's memory for inspection.
func (s *Server) State() *State {
	return s.state
}

// Handler returns the HTTP handler: GET / for status and /ws for clients.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.Handle("/ws", auth.RequireBearer(s.verifier)(http.HandlerFunc(s.handleWebsocket)))
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	conversations, personas, models := s.state.Counts()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":          "chorus fake backend",
		"version":       Version,
		"status":        "running",
		"clients":       s.Clients(),
		"conversations": conversations,
		"personas":      personas,
		"models":        models,
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(uuid.New().String(), conn, s)
	s.register(sess)
	defer s.unregister(sess)

	sess.serve(r.Context())
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	total := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("client connected", "client_id", sess.id, "total_clients", total)
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	sess.cancelAll()
	s.logger.Info("client disconnected", "client_id", sess.id)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// DropClients closes every client connection without a close handshake,
// the way a crashed backend would.
func (s *Server) DropClients() {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
}

// Close closes every client connection with a going-away close frame, as a
// restarting backend would.
func (s *Server) Close() {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.close()
	}
}
