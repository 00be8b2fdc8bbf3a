// Package gateway is the HTTP layer of the sync service: three stateless
// endpoints (baseline, pull, push) plus the live monitoring feed, each
// validating the request shape before authentication and translating
// selector/applier results into cache-control/ETag-bearing responses.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/buehnenplan/syncd/internal/auth"
	"github.com/buehnenplan/syncd/internal/live"
	"github.com/buehnenplan/syncd/internal/store"
	"github.com/buehnenplan/syncd/internal/syncer"
)

// Server hosts the sync endpoints.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	db       *store.DB
	selector *syncer.Selector
	applier  *syncer.Applier
	authn    *auth.Authenticator
	hub      *live.Hub

	logger *zap.Logger
}

// NewServer wires the gateway. The hub may be nil to disable the live feed.
func NewServer(addr string, db *store.DB, selector *syncer.Selector, applier *syncer.Applier,
	authn *auth.Authenticator, hub *live.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:     addr,
		db:       db,
		selector: selector,
		applier:  applier,
		authn:    authn,
		hub:      hub,
		logger:   logger,
	}
	s.server = &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for httptest-based tests.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/sync").Subrouter()
	api.HandleFunc("/initial", s.handleInitial).Methods(http.MethodGet)
	api.HandleFunc("/pull", s.handlePull).Methods(http.MethodPost)
	api.HandleFunc("/push", s.handlePush).Methods(http.MethodPost)
	if s.hub != nil {
		api.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return s.recoverer(r)
}

// Start begins listening. Returns once the listener is bound; Serve runs in
// the calling goroutine until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("sync gateway listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Serve blocks serving requests until Shutdown is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Start(); err != nil {
			return err
		}
	}
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": clients,
	})
}

// recoverer converts panics into generic 500 responses so a bad request can
// never take the process down.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
