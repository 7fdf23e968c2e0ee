// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the WebSocket-to-TCP relay session.
//
// A Bridge owns the lifecycle of one paired WebSocket and TCP connection:
// it dials the target while buffering early WebSocket messages in a FIFO,
// flushes the FIFO exactly once on connect, then forwards bytes in both
// directions until either leg closes or errors. Each direction carries an
// explicit flowing/paused flag so a slow peer pauses the opposite leg
// instead of growing unbounded buffers.
package bridge
