// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

// Target describes what a [*Connector] should connect to.
//
// Build a Target from a "host:port" string using [ParseTarget], from a
// [netip.AddrPort] using [NewTargetFromAddrPort], or from a URL using
// [NewTargetFromURL].
type Target struct {
	// Host is the domain name or IP address literal.
	Host string

	// Port is the port to connect to.
	Port uint16

	// Scheme is the URL scheme the target was built from, if any.
	Scheme string

	// Addrs contains pre-resolved addresses; when not empty, the
	// [*Connector] dials them in order instead of resolving Host.
	Addrs []netip.AddrPort
}

// ErrInvalidTarget indicates that a target descriptor is malformed.
var ErrInvalidTarget = errors.New("svc: invalid target")

// ParseTarget parses a "host:port" string into a [Target].
//
// A missing host or port is an error.
func ParseTarget(address string) (Target, error) {
	host, portString, err := net.SplitHostPort(address)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s", ErrInvalidTarget, err.Error())
	}
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, address)
	}
	port, err := strconv.ParseUint(portString, 10, 16)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: invalid port", ErrInvalidTarget, address)
	}
	return Target{Host: host, Port: uint16(port)}, nil
}

// NewTargetFromAddrPort returns a [Target] for the given endpoint.
//
// The target is pre-resolved, so no name resolution happens.
func NewTargetFromAddrPort(endpoint netip.AddrPort) Target {
	return Target{
		Host:  endpoint.Addr().String(),
		Port:  endpoint.Port(),
		Addrs: []netip.AddrPort{endpoint},
	}
}

// targetDefaultPorts maps URL schemes to their default ports.
var targetDefaultPorts = map[string]uint16{
	"http":  80,
	"https": 443,
	"ws":    80,
	"wss":   443,
}

// NewTargetFromURL returns a [Target] for the host of the given URL.
//
// When the URL has no explicit port, the default port of the scheme is
// used. An unknown scheme without an explicit port is an error.
func NewTargetFromURL(URL *url.URL) (Target, error) {
	host := URL.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, URL.String())
	}
	scheme := strings.ToLower(URL.Scheme)
	if portString := URL.Port(); portString != "" {
		port, err := strconv.ParseUint(portString, 10, 16)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q: invalid port", ErrInvalidTarget, URL.String())
		}
		return Target{Host: host, Port: uint16(port), Scheme: scheme}, nil
	}
	port, found := targetDefaultPorts[scheme]
	if !found {
		return Target{}, fmt.Errorf("%w: %q: missing port", ErrInvalidTarget, URL.String())
	}
	return Target{Host: host, Port: port, Scheme: scheme}, nil
}

// WithAddrs returns a copy of the target using the given pre-resolved addresses.
func (t Target) WithAddrs(addrs ...netip.AddrPort) Target {
	t.Addrs = addrs
	return t
}

// Secure returns whether the target scheme requires TLS.
func (t Target) Secure() bool {
	return t.Scheme == "https" || t.Scheme == "wss"
}

// String returns the "host:port" representation of the target.
func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}
