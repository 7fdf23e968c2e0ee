// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/absmach/wsbridge/pkg/bridge"
	wserrors "github.com/absmach/wsbridge/pkg/errors"
	"github.com/gorilla/websocket"
)

// Rejection reasons reported through Events.Rejected.
const (
	reasonMalformedPath  = "malformed_path"
	reasonPortNotAllowed = "port_not_allowed"
	reasonHostNotAllowed = "host_not_allowed"
	reasonRateLimited    = "rate_limited"
)

// handleConnect accepts a WebSocket upgrade and bridges it to the TCP
// target named in the path. Malformed paths and allowlist failures close
// the fresh WebSocket with 1008; no TCP connect is attempted for them.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		remote := remoteHost(r.RemoteAddr)
		if !s.limiter.Allow(remote) {
			s.logger.Warn("connection rate limited",
				slog.String("remote", r.RemoteAddr))
			s.events.Rejected(r.URL.Path, reasonRateLimited)
			http.Error(w, wserrors.ErrRateLimited.Error(), http.StatusTooManyRequests)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	host, port, err := parseTarget(r.URL.Path)
	if err != nil {
		s.logger.Warn("malformed connect path",
			slog.String("remote", r.RemoteAddr),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		s.events.Rejected(r.URL.Path, reasonMalformedPath)
		s.reject(conn, err.Error())
		return
	}

	if err := s.cfg.Allowlist.Check(host, port); err != nil {
		reason := reasonPortNotAllowed
		if errors.Is(err, wserrors.ErrHostNotAllowed) {
			reason = reasonHostNotAllowed
		}
		s.logger.Warn("target rejected by policy",
			slog.String("remote", r.RemoteAddr),
			slog.String("host", host),
			slog.Uint64("port", uint64(port)),
			slog.String("error", err.Error()))
		s.events.Rejected(r.URL.Path, reason)
		s.reject(conn, err.Error())
		return
	}

	b := bridge.New(conn, bridge.Config{
		Host:            host,
		Port:            port,
		ConnectTimeout:  s.cfg.ConnectTimeout,
		BufferThreshold: s.cfg.BufferThreshold,
		Dial:            s.cfg.Dial,
		Logger:          s.logger,
		Events:          s.events,
	})

	s.sessions.add(b)
	defer s.sessions.remove(b.ID())

	// Sessions outlive the request context: the listener may be shut
	// down while they drain, so the registry owns their cancellation.
	b.Run(context.Background())
}

// reject closes a just-upgraded WebSocket with a policy-violation code.
func (s *Server) reject(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	deadline := time.Now().Add(time.Second)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.logger.Debug("close frame not delivered", slog.String("error", err.Error()))
	}
	conn.Close()
}

// handleServers serves the cached master-server list.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if s.cfg.ServerList == nil {
		http.NotFound(w, r)
		return
	}

	payload, err := s.cfg.ServerList.GetServerList(r.Context())
	if err != nil {
		s.logger.Error("server list fetch failed", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
