// Package ptyhost is a session-hosting backend: it spawns shells on PTYs and
// multiplexes them over one websocket per client. It backs `termdeck serve`
// and the integration tests.
package ptyhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/termdeck/termdeck/internal/logging"
	"github.com/termdeck/termdeck/internal/protocol"
)

var hostLog = logging.ForComponent(logging.CompHost)

// Config defines runtime options for the host.
type Config struct {
	ListenAddr string
	// WorkspaceRoot is used when a request carries no x-workspace-root header.
	WorkspaceRoot string
	// Shells overrides the command launched per profile.
	Shells map[protocol.Profile]Shell
}

// Server wraps an HTTP server exposing the terminal websocket.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewServer creates a host with its routes.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8000"
	}
	s := &Server{cfg: cfg, clients: make(map[*client]struct{})}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"sessions": len(s.Sessions()),
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDisposeSession)
	mux.HandleFunc("/terminal/state", s.handleState)
	mux.HandleFunc("/terminal/ws", s.handleTerminalWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	hostLog.Info("host_listen", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and disposes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.disposeAll()
	}
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown. Force close
	// as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("ptyhost: graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

// Sessions lists the live sessions of every connected client.
func (s *Server) Sessions() []protocol.Terminal {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	out := []protocol.Terminal{}
	for _, c := range clients {
		out = append(out, c.list()...)
	}
	return out
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.Sessions())
}

// DisposeSession ends a session owned by any client. The owner is told
// through a disposed frame.
func (s *Server) DisposeSession(id string) bool {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		if c.dispose(id) {
			hostLog.Info("session_disposed_http", slog.String("id", id))
			return true
		}
	}
	return false
}

func (s *Server) handleDisposeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.DisposeSession(id) {
		writeAPIError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hostLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Detail: message})
}
