// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/absmach/wsbridge/pkg/allowlist"
	"github.com/absmach/wsbridge/pkg/bridge"
	"github.com/absmach/wsbridge/pkg/ratelimit"
	"github.com/absmach/wsbridge/pkg/serverlist"
	"github.com/gorilla/websocket"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultDrainGrace      = 30 * time.Second
)

// Config holds configuration for the public server.
type Config struct {
	Host            string
	Port            string
	Allowlist       allowlist.Policy
	ServerList      *serverlist.Cache
	ConnectTimeout  time.Duration
	BufferThreshold int
	ShutdownTimeout time.Duration
	DrainGrace      time.Duration
	// RateLimit is the per-remote-host connection rate (attempts per
	// second, burst of the same size). Zero disables limiting.
	RateLimit int64
	TLSConfig *tls.Config
	Logger    *slog.Logger
	Events    bridge.Events
	Dial      bridge.DialFunc
}

// Server is the public wsbridge listener.
type Server struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	limiter  *ratelimit.Limiter
	sessions *registry
	logger   *slog.Logger
	events   bridge.Events
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = defaultDrainGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = bridge.NopEvents{}
	}

	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Browser clients connect from arbitrary game-site origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: newRegistry(),
		logger:   cfg.Logger,
		events:   cfg.Events,
	}
	if cfg.RateLimit > 0 {
		s.limiter = ratelimit.NewLimiter(cfg.RateLimit, cfg.RateLimit, 0)
	}

	s.server = &http.Server{
		Addr:      net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:   s.Handler(),
		TLSConfig: cfg.TLSConfig,
	}
	return s
}

// Handler returns the public HTTP handler: /connect/<host>/<port>,
// /servers, /health, permissive CORS, 404 for everything else.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/", s.handleConnect)
	mux.HandleFunc("/servers", s.handleServers)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", http.NotFound)
	return withCORS(mux)
}

// ActiveSessions returns the number of live sessions.
func (s *Server) ActiveSessions() int {
	return s.sessions.len()
}

// Listen starts the server and blocks until ctx is cancelled or the
// listener fails. On cancellation the listener is closed first, then
// in-flight sessions get the drain grace period before being
// force-closed.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("wsbridge server started", slog.String("address", s.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		if s.server.TLSConfig != nil {
			errCh <- s.server.ListenAndServeTLS("", "")
		} else {
			errCh <- s.server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, closing listener")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during shutdown", slog.String("error", err.Error()))
		}

		if n := s.sessions.len(); n > 0 {
			s.logger.Info("draining sessions", slog.Int("active", n))
			drainCtx, cancelDrain := context.WithTimeout(context.Background(), s.cfg.DrainGrace)
			defer cancelDrain()
			s.sessions.drain(drainCtx)

			if n := s.sessions.len(); n > 0 {
				s.logger.Warn("force closing sessions", slog.Int("active", n))
				s.sessions.shutdownAll()
			}
		}

		s.logger.Info("server shutdown complete")
		return nil

	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// withCORS permits all origins for GET and answers every OPTIONS request
// with 204 and no body.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
