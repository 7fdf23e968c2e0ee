// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for wsbridge.
package errors

import (
	"errors"
	"fmt"
)

// Relay error taxonomy. Every rejection and teardown path maps to
// exactly one of these sentinels.
var (
	// ErrMalformedPath indicates an upgrade path that does not encode
	// a valid /connect/<host>/<port> target.
	ErrMalformedPath = errors.New("malformed connect path")

	// ErrPortNotAllowed indicates the target port is outside the allowed set.
	ErrPortNotAllowed = errors.New("port not allowed")

	// ErrHostNotAllowed indicates the target host is not in the host allowlist.
	ErrHostNotAllowed = errors.New("host not allowed")

	// ErrConnectTimeout indicates the outbound TCP connect did not
	// complete within the session's connect timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrBackendUnavailable indicates the outbound TCP connect failed.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRateLimited indicates the per-host connection rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// SessionError wraps an error with the session context it occurred in.
type SessionError struct {
	Op        string // Operation that failed (connect, relay, close)
	SessionID string // Session identifier
	Target    string // Target host:port
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.SessionID, e.Target, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// New creates a new SessionError.
func New(op, sessionID, target string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:        op,
		SessionID: sessionID,
		Target:    target,
		Err:       err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
