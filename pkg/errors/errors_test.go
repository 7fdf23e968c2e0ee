// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"
)

func TestSessionErrorUnwrap(t *testing.T) {
	err := New("connect", "abc", "host:11753", ErrConnectTimeout)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Error("SessionError does not unwrap to its sentinel")
	}

	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatal("errors.As failed")
	}
	if se.Op != "connect" || se.SessionID != "abc" || se.Target != "host:11753" {
		t.Errorf("unexpected fields: %+v", se)
	}
}

func TestNewNilError(t *testing.T) {
	if New("op", "id", "target", nil) != nil {
		t.Error("New(nil) should return nil")
	}
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrPortNotAllowed, "checking target")
	if !errors.Is(err, ErrPortNotAllowed) {
		t.Error("Wrap broke the error chain")
	}
}
