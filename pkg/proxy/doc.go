// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy serves the public surface of wsbridge: the
// /connect/<host>/<port> WebSocket endpoint, the cached /servers list,
// and the /health probe, all on one listener.
//
// The acceptor parses the target from the upgrade path, consults the
// allowlist, and hands accepted connections to a bridge.Bridge. Rejected
// upgrades are closed with code 1008 before any outbound socket is
// opened. Live sessions are tracked in a registry so shutdown can drain
// them and force-close stragglers.
package proxy
