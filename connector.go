// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/bassosimone/safeconn"
)

// PeerAddr is the [Conn] capability holding the remote endpoint.
type PeerAddr struct {
	netip.AddrPort
}

// LocalAddr is the [Conn] capability holding the local endpoint.
type LocalAddr struct {
	netip.AddrPort
}

// TLSConnectionState is the [Conn] capability holding the TLS state
// of connections established by a TLS [*Connector].
type TLSConnectionState struct {
	tls.ConnectionState
}

// Conn is a connection established by a [*Connector].
//
// Use [Query] to look up its capabilities, e.g., [PeerAddr], [LocalAddr],
// [TLSConnectionState], and the [Target] it was established for.
type Conn struct {
	net.Conn
	ext Extensions
}

var _ Queryable = &Conn{}

// Extensions implements [Queryable].
func (c *Conn) Extensions() *Extensions {
	return &c.ext
}

// ConnectError is the error returned by [*Connector] when it cannot
// establish a connection. The cause (invalid target, resolution, dial,
// or handshake failure) is available through [errors.Unwrap].
type ConnectError struct {
	// Target is the "host:port" of the target.
	Target string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("svc: cannot connect to %s: %s", e.Target, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ErrTLSRequired indicates that the target scheme requires TLS but the
// [*Connector] cannot perform a handshake.
var ErrTLSRequired = errors.New("svc: target requires TLS")

// NewConnector returns a [*Connector] that establishes TCP connections,
// securing them with TLS only for https and wss targets.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnector(cfg *Config, logger SLogger) *Connector {
	return &Connector{
		Connect:         NewConnectFunc(cfg, "tcp", logger),
		ErrClassifier:   cfg.ErrClassifier,
		Logger:          logger,
		Resolver:        cfg.Resolver,
		SecureHandshake: NewTLSHandshakeFunc(cfg, &tls.Config{}, logger),
		TimeNow:         cfg.TimeNow,
	}
}

// NewTLSConnector is like [NewConnector] but also performs a TLS
// handshake using tlsConfig, whose ServerName defaults to the target host.
func NewTLSConnector(cfg *Config, tlsConfig *tls.Config, logger SLogger) *Connector {
	c := NewConnector(cfg, logger)
	c.TLSHandshake = NewTLSHandshakeFunc(cfg, tlsConfig, logger)
	return c
}

// Connector is a [Service] that establishes connections to a [Target].
//
// It resolves the target host (unless the target is an IP address or is
// pre-resolved), dials the resulting addresses in order until one
// succeeds, and optionally performs a TLS handshake. Every failure is
// reported as a [*ConnectError].
//
// The handshake uses TLSHandshake when set. Otherwise, targets whose
// scheme is https or wss use SecureHandshake, and fail with
// [ErrTLSRequired] when it is nil. The server name defaults to the
// target host unless that is an IP address. Without configured ALPN
// protocols, https offers "h2" and "http/1.1" while wss offers "http/1.1".
//
// Connector is always ready and has nothing to drain on shutdown. It is
// also a [ServiceFactory] that yields itself.
//
// All fields are safe to modify after construction but before first use.
type Connector struct {
	// Connect dials a single address.
	//
	// Set by [NewConnector] to a TCP [*ConnectFunc].
	Connect Func[netip.AddrPort, net.Conn]

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnector] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConnector] to the user-provided logger.
	Logger SLogger

	// ObserveConn optionally wraps each dialed connection, e.g., using
	// an [*ObserveConnFunc] to log its I/O.
	//
	// Set by [NewConnector] to nil.
	ObserveConn Func[net.Conn, net.Conn]

	// Resolver resolves the target host.
	//
	// Set by [NewConnector] from [Config.Resolver].
	Resolver Resolver

	// SecureHandshake secures connections to https and wss targets
	// when TLSHandshake is nil.
	//
	// Set by [NewConnector] to a handshake using an empty [*tls.Config].
	SecureHandshake *TLSHandshakeFunc

	// TLSHandshake, when not nil, secures each dialed connection.
	//
	// Set by [NewTLSConnector]; nil when using [NewConnector].
	TLSHandshake *TLSHandshakeFunc

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnector] from [Config.TimeNow].
	TimeNow func() time.Time
}

var (
	_ Service[Target, *Conn]              = &Connector{}
	_ ServiceFactory[Unit, Target, *Conn] = &Connector{}
)

// NewService implements [ServiceFactory].
func (c *Connector) NewService(ctx context.Context, _ Unit) (Service[Target, *Conn], error) {
	return c, nil
}

// PollReady implements [Service].
func (c *Connector) PollReady(w Waker) (bool, error) {
	return true, nil
}

// PollShutdown implements [Service].
func (c *Connector) PollShutdown(w Waker, isError bool) bool {
	return true
}

// Call implements [Service].
func (c *Connector) Call(ctx context.Context, target Target) (*Conn, error) {
	t0 := c.TimeNow()
	deadline, _ := ctx.Deadline()
	c.logConnectorStart(target, t0, deadline)
	conn, err := c.connect(ctx, target)
	c.logConnectorDone(target, t0, deadline, conn, err)
	if err != nil {
		return nil, &ConnectError{Target: target.String(), Err: err}
	}
	return conn, nil
}

func (c *Connector) connect(ctx context.Context, target Target) (*Conn, error) {
	if target.Secure() && c.handshakeFor(target) == nil {
		return nil, fmt.Errorf("%w: %s", ErrTLSRequired, target.Scheme)
	}
	addrs, err := c.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		conn, err := c.Connect.Call(ctx, addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return c.finish(ctx, target, addr, conn)
	}
	return nil, errors.Join(errs...)
}

func (c *Connector) resolve(ctx context.Context, target Target) ([]netip.AddrPort, error) {
	if len(target.Addrs) > 0 {
		return target.Addrs, nil
	}
	if target.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	if addr, err := netip.ParseAddr(target.Host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(addr, target.Port)}, nil
	}
	addrs, err := c.Resolver.LookupHost(ctx, target.Host)
	if err != nil {
		return nil, err
	}
	if len(addrs) <= 0 {
		return nil, ErrNoAddresses
	}
	endpoints := make([]netip.AddrPort, 0, len(addrs))
	for _, addr := range addrs {
		endpoints = append(endpoints, netip.AddrPortFrom(addr, target.Port))
	}
	return endpoints, nil
}

func (c *Connector) finish(ctx context.Context, target Target, addr netip.AddrPort, conn net.Conn) (*Conn, error) {
	if c.ObserveConn != nil {
		observed, err := c.ObserveConn.Call(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = observed
	}

	out := &Conn{}
	if handshake := c.handshakeFor(target); handshake != nil {
		tconn, err := handshake.handshake(ctx, conn, connectorTLSConfig(handshake, target))
		if err != nil {
			return nil, err
		}
		Insert(&out.ext, TLSConnectionState{tconn.ConnectionState()})
		conn = tconn
	}

	out.Conn = conn
	Insert(&out.ext, target)
	Insert(&out.ext, PeerAddr{addr})
	if laddr, err := netip.ParseAddrPort(safeconn.LocalAddr(conn)); err == nil {
		Insert(&out.ext, LocalAddr{laddr})
	}
	return out, nil
}

// handshakeFor returns the handshake to use for target or nil.
func (c *Connector) handshakeFor(target Target) *TLSHandshakeFunc {
	switch {
	case c.TLSHandshake != nil:
		return c.TLSHandshake
	case target.Secure():
		return c.SecureHandshake
	default:
		return nil
	}
}

// connectorALPN maps secure schemes to their default ALPN protocols.
var connectorALPN = map[string][]string{
	"https": {"h2", "http/1.1"},
	"wss":   {"http/1.1"},
}

// connectorTLSConfig returns a copy of the handshake config adjusted for target.
func connectorTLSConfig(handshake *TLSHandshakeFunc, target Target) *tls.Config {
	config := handshake.tlsConfig()
	if _, err := netip.ParseAddr(target.Host); config.ServerName == "" && err != nil {
		config.ServerName = target.Host
	}
	if len(config.NextProtos) <= 0 {
		config.NextProtos = slices.Clone(connectorALPN[target.Scheme])
	}
	return config
}

func (c *Connector) logConnectorStart(target Target, t0 time.Time, deadline time.Time) {
	c.Logger.Info(
		"connectorStart",
		slog.Time("deadline", deadline),
		slog.String("scheme", target.Scheme),
		slog.String("target", target.String()),
		slog.Bool("tls", c.handshakeFor(target) != nil),
		slog.Time("t", t0),
	)
}

func (c *Connector) logConnectorDone(target Target, t0 time.Time, deadline time.Time, conn *Conn, err error) {
	var laddr, raddr string
	if conn != nil {
		laddr, raddr = safeconn.LocalAddr(conn.Conn), safeconn.RemoteAddr(conn.Conn)
	}
	c.Logger.Info(
		"connectorDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", c.ErrClassifier.Classify(err)),
		slog.String("localAddr", laddr),
		slog.String("remoteAddr", raddr),
		slog.String("scheme", target.Scheme),
		slog.String("target", target.String()),
		slog.Bool("tls", c.handshakeFor(target) != nil),
		slog.Time("t0", t0),
		slog.Time("t", c.TimeNow()),
	)
}
