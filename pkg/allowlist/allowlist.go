// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package allowlist implements the static target admission policy.
//
// A Policy is a pure predicate over (host, port) pairs: the port must be a
// member of a fixed allowed-port set, and if a host allowlist is configured
// the host must be an exact member. No DNS resolution or network activity
// happens here. The policy is immutable after construction and consulted
// exactly once per inbound connection, before any outbound socket is opened.
package allowlist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/absmach/wsbridge/pkg/errors"
)

// DefaultPorts is the default allowed-port specification: the game's
// registered port plus a small contiguous extra range.
const DefaultPorts = "11753-11763"

// Policy holds the permitted target ports and hosts.
// An empty host set means any host is permitted.
type Policy struct {
	ports map[uint16]struct{}
	hosts map[string]struct{}
}

// New creates a Policy from explicit port and host sets.
func New(ports []uint16, hosts []string) Policy {
	p := Policy{
		ports: make(map[uint16]struct{}, len(ports)),
	}
	for _, port := range ports {
		p.ports[port] = struct{}{}
	}
	if len(hosts) > 0 {
		p.hosts = make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			p.hosts[h] = struct{}{}
		}
	}
	return p
}

// IsAllowed reports whether the (host, port) pair passes the policy.
func (p Policy) IsAllowed(host string, port uint16) bool {
	return p.Check(host, port) == nil
}

// Check validates the (host, port) pair and returns the first failing rule.
// The port rule is checked first: it is always active, while the host rule
// only applies when a host allowlist is configured. The returned error
// unwraps to errors.ErrPortNotAllowed or errors.ErrHostNotAllowed so callers
// can log the two rejection categories distinctly.
func (p Policy) Check(host string, port uint16) error {
	if _, ok := p.ports[port]; !ok {
		return fmt.Errorf("%w: %d", errors.ErrPortNotAllowed, port)
	}
	if p.hosts != nil {
		if _, ok := p.hosts[host]; !ok {
			return fmt.Errorf("%w: %s", errors.ErrHostNotAllowed, host)
		}
	}
	return nil
}

// Ports returns the allowed ports in unspecified order.
func (p Policy) Ports() []uint16 {
	ports := make([]uint16, 0, len(p.ports))
	for port := range p.ports {
		ports = append(ports, port)
	}
	return ports
}

// ParsePortSet parses a comma-separated list of ports and inclusive ranges,
// e.g. "11753-11763,20000". Whitespace around entries is ignored.
func ParsePortSet(spec string) ([]uint16, error) {
	var ports []uint16
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		lo, hi, found := strings.Cut(entry, "-")
		if !found {
			hi = lo
		}

		first, err := parsePort(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", lo, err)
		}
		last, err := parsePort(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", hi, err)
		}
		if last < first {
			return nil, fmt.Errorf("invalid port range %q: %d < %d", entry, last, first)
		}

		for p := uint32(first); p <= uint32(last); p++ {
			ports = append(ports, uint16(p))
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("empty port set %q", spec)
	}
	return ports, nil
}

// ParseHostSet parses a comma-separated list of exact hostnames.
// An empty specification yields an empty set, which permits any host.
func ParseHostSet(spec string) []string {
	var hosts []string
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			hosts = append(hosts, entry)
		}
	}
	return hosts
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("port must be non-zero")
	}
	return uint16(n), nil
}
