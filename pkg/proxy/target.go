// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/absmach/wsbridge/pkg/errors"
)

// parseTarget extracts the (host, port) target from a /connect upgrade
// path. The segment after the literal "connect" is the host, the next is
// the port. Anything else — too few segments, literal mismatch, empty
// host, non-numeric port — is a malformed path.
func parseTarget(path string) (string, uint16, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) != 3 {
		return "", 0, fmt.Errorf("%w: expected /connect/<host>/<port>", errors.ErrMalformedPath)
	}
	if segments[0] != "connect" {
		return "", 0, fmt.Errorf("%w: expected /connect/<host>/<port>", errors.ErrMalformedPath)
	}

	host := segments[1]
	if host == "" {
		return "", 0, fmt.Errorf("%w: empty host", errors.ErrMalformedPath)
	}

	port, err := strconv.ParseUint(segments[2], 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("%w: invalid port %q", errors.ErrMalformedPath, segments[2])
	}

	return host, uint16(port), nil
}
