// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

// Resolver maps a domain name to IP addresses.
//
// [*Connector] uses a Resolver for targets whose host is not an IP address.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// NetResolver abstracts the [*net.Resolver] behavior.
type NetResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// NewSystemResolver returns a [*SystemResolver] using [net.DefaultResolver].
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{Resolver: net.DefaultResolver}
}

// SystemResolver is a [Resolver] using the resolver of the Go standard library.
type SystemResolver struct {
	// Resolver is the [NetResolver] to use.
	//
	// Set by [NewSystemResolver] to [net.DefaultResolver].
	Resolver NetResolver
}

var _ Resolver = &SystemResolver{}

// LookupHost implements [Resolver].
func (r *SystemResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	return r.Resolver.LookupNetIP(ctx, "ip", host)
}

// DNSConn is a connection capable of performing DNS exchanges.
//
// The [*DNSOverUDPConn], [*DNSOverTCPConn], [*DNSOverTLSConn], and
// [*DNSOverHTTPSConn] types implement this interface.
type DNSConn interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
	Close() error
}

// ErrNoAddresses indicates that name resolution returned no addresses.
var ErrNoAddresses = errors.New("svc: no addresses for host")

// NewDNSResolver returns a new [*DNSResolver].
//
// The cfg argument contains the common configuration.
//
// The dial argument creates a fresh [DNSConn] for each lookup. Build it by
// composing [NewEndpointFunc], [*ConnectFunc], and, e.g., [*DNSOverUDPConnFunc],
// or use [NewDNSOverUDPResolver] and [NewDNSOverTCPResolver].
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDNSResolver[C DNSConn](cfg *Config, dial Func[Unit, C], logger SLogger) *DNSResolver[C] {
	runtimex.Assert(dial != nil)
	return &DNSResolver[C]{
		Dial:          dial,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// NewDNSOverUDPResolver returns a [*DNSResolver] that sends each lookup
// to the DNS server at endpoint using DNS-over-UDP.
func NewDNSOverUDPResolver(cfg *Config, endpoint netip.AddrPort, logger SLogger) *DNSResolver[*DNSOverUDPConn] {
	dial := Compose3[Unit, netip.AddrPort, net.Conn, *DNSOverUDPConn](
		NewEndpointFunc(endpoint),
		NewConnectFunc(cfg, "udp", logger),
		NewDNSOverUDPConnFunc(cfg, logger),
	)
	return NewDNSResolver(cfg, dial, logger)
}

// NewDNSOverTCPResolver is like [NewDNSOverUDPResolver] but uses DNS-over-TCP.
func NewDNSOverTCPResolver(cfg *Config, endpoint netip.AddrPort, logger SLogger) *DNSResolver[*DNSOverTCPConn] {
	dial := Compose3[Unit, netip.AddrPort, net.Conn, *DNSOverTCPConn](
		NewEndpointFunc(endpoint),
		NewConnectFunc(cfg, "tcp", logger),
		NewDNSOverTCPConnFunc(cfg, logger),
	)
	return NewDNSResolver(cfg, dial, logger)
}

// DNSResolver is a [Resolver] that queries A and AAAA records over a
// [DNSConn] created for each lookup.
//
// All fields are safe to modify after construction but before first use.
type DNSResolver[C DNSConn] struct {
	// Dial creates the [DNSConn] to use.
	//
	// Set by [NewDNSResolver] to the user-provided value.
	Dial Func[Unit, C]

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewDNSResolver] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewDNSResolver] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewDNSResolver] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Resolver = &DNSResolver[DNSConn]{}

// LookupHost implements [Resolver].
//
// IPv4 addresses are returned before IPv6 addresses. The lookup fails only
// when both queries fail or when neither query returns addresses.
func (r *DNSResolver[C]) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	t0 := r.TimeNow()
	deadline, _ := ctx.Deadline()
	r.logLookupStart(host, t0, deadline)
	addrs, err := r.lookupHost(ctx, host)
	r.logLookupDone(host, t0, deadline, addrs, err)
	return addrs, err
}

func (r *DNSResolver[C]) lookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	conn, err := r.Dial.Call(ctx, Unit{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addrsA, errA := r.lookup(ctx, conn, host, dns.TypeA)
	addrsAAAA, errAAAA := r.lookup(ctx, conn, host, dns.TypeAAAA)
	addrs := append(addrsA, addrsAAAA...)
	if len(addrs) > 0 {
		return addrs, nil
	}
	if err := errors.Join(errA, errAAAA); err != nil {
		return nil, err
	}
	return nil, ErrNoAddresses
}

func (r *DNSResolver[C]) lookup(ctx context.Context, conn C, host string, qtype uint16) ([]netip.Addr, error) {
	resp, err := conn.Exchange(ctx, dnscodec.NewQuery(host, qtype))
	if err != nil {
		return nil, err
	}
	var records []string
	switch qtype {
	case dns.TypeA:
		records, err = resp.RecordsA()
	default:
		records, err = resp.RecordsAAAA()
	}
	if err != nil {
		return nil, err
	}
	addrs := make([]netip.Addr, 0, len(records))
	for _, record := range records {
		if addr, err := netip.ParseAddr(record); err == nil {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

func (r *DNSResolver[C]) logLookupStart(host string, t0 time.Time, deadline time.Time) {
	r.Logger.Info(
		"lookupHostStart",
		slog.Time("deadline", deadline),
		slog.String("host", host),
		slog.Time("t", t0),
	)
}

func (r *DNSResolver[C]) logLookupDone(
	host string, t0 time.Time, deadline time.Time, addrs []netip.Addr, err error) {
	r.Logger.Info(
		"lookupHostDone",
		slog.Any("addrs", addrs),
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", r.ErrClassifier.Classify(err)),
		slog.String("host", host),
		slog.Time("t0", t0),
		slog.Time("t", r.TimeNow()),
	)
}
