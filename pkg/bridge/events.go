// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import "time"

// Direction identifies one relay direction of a session.
type Direction int

const (
	// WSToTCP is the browser-to-game-server direction.
	WSToTCP Direction = iota
	// TCPToWS is the game-server-to-browser direction.
	TCPToWS
)

// String returns the direction label used in logs and metrics.
func (d Direction) String() string {
	if d == TCPToWS {
		return "tcp_to_ws"
	}
	return "ws_to_tcp"
}

// Events receives session lifecycle notifications. Implementations must be
// safe for concurrent use across sessions. The zero-cost default is
// NopEvents; pkg/metrics provides a Prometheus-backed implementation.
type Events interface {
	// Started fires when a session is created, before the TCP leg dials.
	Started(sessionID, target string)
	// Connected fires when the TCP leg of a session reaches connected.
	Connected(sessionID, target string)
	// Disconnected fires once per session when it is torn down.
	Disconnected(sessionID, target, cause string, duration time.Duration)
	// Rejected fires when an upgrade is refused before a session exists.
	Rejected(target, reason string)
	// Relayed fires per forwarded chunk.
	Relayed(direction Direction, bytes int)
}

// NopEvents is an Events implementation that discards all notifications.
type NopEvents struct{}

// Started implements Events.
func (NopEvents) Started(sessionID, target string) {}

// Connected implements Events.
func (NopEvents) Connected(sessionID, target string) {}

// Disconnected implements Events.
func (NopEvents) Disconnected(sessionID, target, cause string, duration time.Duration) {}

// Rejected implements Events.
func (NopEvents) Rejected(target, reason string) {}

// Relayed implements Events.
func (NopEvents) Relayed(direction Direction, bytes int) {}
