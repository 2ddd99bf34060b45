package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/relayhub/internal/relay"
	"github.com/gorilla/websocket"
)

// Server ties the HTTP listener, the WebSocket clients and the hub together.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *relay.Hub
	origins  *originPolicy
	verifier *tokenVerifier
	upgrader websocket.Upgrader
	http     *http.Server

	// pumps tracks client read and write goroutines.
	pumps sync.WaitGroup
}

// New creates a Server from cfg. Invalid settings fall back to defaults.
// The hub is not running until StartHub is called.
func New(cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.sanitize()

	s := &Server{
		cfg: cfg,
		log: log,
		hub: relay.NewHub(
			relay.WithLogger(log.With("component", "hub")),
			relay.WithTypingTimeout(cfg.TypingTimeout),
			relay.WithRequireAuth(cfg.RequireAuth),
			relay.WithSuppressIdleTypingStop(cfg.SuppressIdleTypingStop),
		),
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		verifier: newTokenVerifier(cfg.JWTSecret),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.http = CreateServer(cfg.Port, s.SetupRoutes())
	return s
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Hub returns the hub behind this server.
func (s *Server) Hub() *relay.Hub { return s.hub }

// Handler returns the HTTP handler, for mounting in tests or another server.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config { return s.cfg }

// StartHub runs the hub loop in its own goroutine.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.log.Info("hub started",
		"typing_timeout", s.cfg.TypingTimeout,
		"require_auth", s.cfg.RequireAuth,
		"token_verification", s.verifier != nil,
	)
}

// Start listens on the configured port and blocks until the server stops.
// A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every WebSocket through the hub
// and waits for client goroutines until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	httpErr := s.http.Shutdown(ctx)
	if httpErr != nil {
		s.log.Warn("HTTP server shutdown", "error", httpErr)
	}

	hubErr := s.hub.Shutdown(remaining(ctx, s.cfg.ShutdownTimeout))

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("server shutdown completed")
	case <-ctx.Done():
		s.log.Warn("client goroutines still running at shutdown deadline")
		return errors.Join(httpErr, hubErr, ctx.Err())
	}
	return errors.Join(httpErr, hubErr)
}

func (s *Server) startPumps(c *Client) {
	s.pumps.Go(c.writePump)
	s.pumps.Go(c.readPump)
}

// remaining returns the time left before ctx's deadline, or fallback when
// ctx has none.
func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	return max(time.Until(deadline), 0)
}
