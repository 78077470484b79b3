// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverhttps"
	"github.com/bassosimone/dnsoverstream"
	"github.com/bassosimone/minest"
	"github.com/bassosimone/safeconn"
)

// dnsConnBase contains the state shared by all the DNS connections.
//
// Each DNS connection owns the underlying connection: closing the DNS
// connection closes it.
type dnsConnBase struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the SLogger to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// exchange runs fx between dnsExchangeStart and dnsExchangeDone events and
// provides it with the observers for the raw query and response.
func (b *dnsConnBase) exchange(ctx context.Context, conn net.Conn, serverProtocol string,
	fx func(observeQuery, observeResponse func([]byte)) (*dnscodec.Response, error)) (*dnscodec.Response, error) {
	t0 := b.TimeNow()
	deadline, _ := ctx.Deadline()
	lc := &dnsExchangeLogContext{
		ErrClassifier:  b.ErrClassifier,
		LocalAddr:      safeconn.LocalAddr(conn),
		Logger:         b.Logger,
		Protocol:       safeconn.Network(conn),
		RemoteAddr:     safeconn.RemoteAddr(conn),
		ServerProtocol: serverProtocol,
		TimeNow:        b.TimeNow,
	}
	var rawQuery []byte
	lc.logStart(t0, deadline)
	resp, err := fx(lc.queryObserver(t0, &rawQuery), lc.responseObserver(t0, &rawQuery))
	lc.logDone(t0, deadline, err)
	return resp, err
}

// dnsUnusedDialer is a [Dialer] that panics if DialContext is called.
//
// The DNS connections exchange over an already established connection,
// so the transports they configure must never dial.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("svc: DNS transport must not dial; this is a programming error")
}

// dnsUnusedEndpoint is the endpoint handed to transports that never dial.
var dnsUnusedEndpoint = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

// DNSOverUDPConn performs DNS-over-UDP exchanges over an owned connection.
//
// Construct via [*DNSOverUDPConnFunc].
type DNSOverUDPConn struct {
	dnsConnBase
	conn net.Conn
}

var _ DNSConn = &DNSOverUDPConn{}

// Close closes the underlying connection.
func (c *DNSOverUDPConn) Close() error {
	return c.conn.Close()
}

// Exchange implements [DNSConn].
func (c *DNSOverUDPConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	return c.exchange(ctx, c.conn, "udp", func(oq, or func([]byte)) (*dnscodec.Response, error) {
		txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, dnsUnusedEndpoint)
		txp.ObserveRawQuery = oq
		txp.ObserveRawResponse = or
		return txp.ExchangeWithConn(ctx, c.conn, query)
	})
}

// DNSOverTCPConn performs DNS-over-TCP exchanges over an owned connection.
//
// Construct via [*DNSOverTCPConnFunc].
type DNSOverTCPConn struct {
	dnsConnBase
	conn net.Conn
}

var _ DNSConn = &DNSOverTCPConn{}

// Close closes the underlying connection.
func (c *DNSOverTCPConn) Close() error {
	return c.conn.Close()
}

// Exchange implements [DNSConn].
func (c *DNSOverTCPConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	return c.exchange(ctx, c.conn, "tcp", func(oq, or func([]byte)) (*dnscodec.Response, error) {
		txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), dnsUnusedEndpoint)
		txp.ObserveRawQuery = oq
		txp.ObserveRawResponse = or
		return txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTCPStreamOpener(c.conn), query)
	})
}

// DNSOverTLSConn performs DNS-over-TLS exchanges over an owned connection.
//
// Construct via [*DNSOverTLSConnFunc].
type DNSOverTLSConn struct {
	dnsConnBase
	conn TLSConn
}

var _ DNSConn = &DNSOverTLSConn{}

// Close closes the underlying connection.
func (c *DNSOverTLSConn) Close() error {
	return c.conn.Close()
}

// Exchange implements [DNSConn].
func (c *DNSOverTLSConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	return c.exchange(ctx, c.conn, "dot", func(oq, or func([]byte)) (*dnscodec.Response, error) {
		txp := dnsoverstream.NewTransport(dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{}), dnsUnusedEndpoint)
		txp.ObserveRawQuery = oq
		txp.ObserveRawResponse = or
		return txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTLSStreamOpener(c.conn), query)
	})
}

// DNSOverHTTPSConn performs DNS-over-HTTPS exchanges over an owned [*HTTPConn].
//
// Construct via [*DNSOverHTTPSConnFunc].
type DNSOverHTTPSConn struct {
	dnsConnBase
	httpConn *HTTPConn
	url      string
}

var _ DNSConn = &DNSOverHTTPSConn{}

// Close closes the underlying [*HTTPConn].
func (c *DNSOverHTTPSConn) Close() error {
	return c.httpConn.Close()
}

// Exchange implements [DNSConn].
func (c *DNSOverHTTPSConn) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	return c.exchange(ctx, c.httpConn.Conn(), "doh", func(oq, or func([]byte)) (*dnscodec.Response, error) {
		httpReq, queryMsg, err := dnsoverhttps.NewRequestWithHook(ctx, query, c.url, oq)
		if err != nil {
			return nil, err
		}
		httpResp, err := c.httpConn.RoundTrip(httpReq)
		if err != nil {
			return nil, err
		}
		return dnsoverhttps.ReadResponseWithHook(ctx, httpResp, queryMsg, or)
	})
}

// dnsConnFunc holds the fields shared by the Funcs wrapping connections
// into DNS connections.
type dnsConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by the constructor from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by the constructor to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by the constructor from [Config.TimeNow].
	TimeNow func() time.Time
}

func newDNSConnFunc(cfg *Config, logger SLogger) dnsConnFunc {
	return dnsConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

func (op *dnsConnFunc) base() dnsConnBase {
	return dnsConnBase{
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}
}

// NewDNSOverUDPConnFunc returns a new [*DNSOverUDPConnFunc].
func NewDNSOverUDPConnFunc(cfg *Config, logger SLogger) *DNSOverUDPConnFunc {
	return &DNSOverUDPConnFunc{newDNSConnFunc(cfg, logger)}
}

// DNSOverUDPConnFunc wraps a UDP [net.Conn] into a [*DNSOverUDPConn].
type DNSOverUDPConnFunc struct {
	dnsConnFunc
}

var _ Func[net.Conn, *DNSOverUDPConn] = &DNSOverUDPConnFunc{}

// Call implements [Func].
func (op *DNSOverUDPConnFunc) Call(ctx context.Context, conn net.Conn) (*DNSOverUDPConn, error) {
	return &DNSOverUDPConn{dnsConnBase: op.base(), conn: conn}, nil
}

// NewDNSOverTCPConnFunc returns a new [*DNSOverTCPConnFunc].
func NewDNSOverTCPConnFunc(cfg *Config, logger SLogger) *DNSOverTCPConnFunc {
	return &DNSOverTCPConnFunc{newDNSConnFunc(cfg, logger)}
}

// DNSOverTCPConnFunc wraps a TCP [net.Conn] into a [*DNSOverTCPConn].
type DNSOverTCPConnFunc struct {
	dnsConnFunc
}

var _ Func[net.Conn, *DNSOverTCPConn] = &DNSOverTCPConnFunc{}

// Call implements [Func].
func (op *DNSOverTCPConnFunc) Call(ctx context.Context, conn net.Conn) (*DNSOverTCPConn, error) {
	return &DNSOverTCPConn{dnsConnBase: op.base(), conn: conn}, nil
}

// NewDNSOverTLSConnFunc returns a new [*DNSOverTLSConnFunc].
func NewDNSOverTLSConnFunc(cfg *Config, logger SLogger) *DNSOverTLSConnFunc {
	return &DNSOverTLSConnFunc{newDNSConnFunc(cfg, logger)}
}

// DNSOverTLSConnFunc wraps a [TLSConn] into a [*DNSOverTLSConn].
type DNSOverTLSConnFunc struct {
	dnsConnFunc
}

var _ Func[TLSConn, *DNSOverTLSConn] = &DNSOverTLSConnFunc{}

// Call implements [Func].
func (op *DNSOverTLSConnFunc) Call(ctx context.Context, conn TLSConn) (*DNSOverTLSConn, error) {
	return &DNSOverTLSConn{dnsConnBase: op.base(), conn: conn}, nil
}

// NewDNSOverHTTPSConnFunc returns a new [*DNSOverHTTPSConnFunc].
//
// The URL argument is the DoH endpoint (e.g., "https://dns.google/dns-query").
func NewDNSOverHTTPSConnFunc(cfg *Config, URL string, logger SLogger) *DNSOverHTTPSConnFunc {
	return &DNSOverHTTPSConnFunc{dnsConnFunc: newDNSConnFunc(cfg, logger), URL: URL}
}

// DNSOverHTTPSConnFunc wraps an [*HTTPConn] into a [*DNSOverHTTPSConn].
type DNSOverHTTPSConnFunc struct {
	dnsConnFunc

	// URL is the DoH endpoint URL.
	//
	// Set by [NewDNSOverHTTPSConnFunc] to the user-provided value.
	URL string
}

var _ Func[*HTTPConn, *DNSOverHTTPSConn] = &DNSOverHTTPSConnFunc{}

// Call implements [Func].
func (op *DNSOverHTTPSConnFunc) Call(ctx context.Context, httpConn *HTTPConn) (*DNSOverHTTPSConn, error) {
	return &DNSOverHTTPSConn{dnsConnBase: op.base(), httpConn: httpConn, url: op.URL}, nil
}

// dnsExchangeLogContext holds the logging state of a single DNS exchange.
type dnsExchangeLogContext struct {
	ErrClassifier  ErrClassifier
	LocalAddr      string
	Logger         SLogger
	Protocol       string
	RemoteAddr     string
	ServerProtocol string
	TimeNow        func() time.Time
}

func (lc *dnsExchangeLogContext) logStart(t0 time.Time, deadline time.Time) {
	lc.Logger.Info(
		"dnsExchangeStart",
		slog.Time("deadline", deadline),
		slog.String("localAddr", lc.LocalAddr),
		slog.String("protocol", lc.Protocol),
		slog.String("remoteAddr", lc.RemoteAddr),
		slog.String("serverProtocol", lc.ServerProtocol),
		slog.Time("t", t0),
	)
}

func (lc *dnsExchangeLogContext) logDone(t0 time.Time, deadline time.Time, err error) {
	lc.Logger.Info(
		"dnsExchangeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", lc.ErrClassifier.Classify(err)),
		slog.String("localAddr", lc.LocalAddr),
		slog.String("protocol", lc.Protocol),
		slog.String("remoteAddr", lc.RemoteAddr),
		slog.String("serverProtocol", lc.ServerProtocol),
		slog.Time("t0", t0),
		slog.Time("t", lc.TimeNow()),
	)
}

// queryObserver logs the raw query and saves it into rawQuery so that
// the response observer can log it alongside the response.
func (lc *dnsExchangeLogContext) queryObserver(t0 time.Time, rawQuery *[]byte) func([]byte) {
	return func(raw []byte) {
		lc.Logger.Info(
			"dnsQuery",
			slog.Any("dnsRawQuery", raw),
			slog.String("localAddr", lc.LocalAddr),
			slog.String("protocol", lc.Protocol),
			slog.String("remoteAddr", lc.RemoteAddr),
			slog.String("serverProtocol", lc.ServerProtocol),
			slog.Time("t", t0),
		)
		*rawQuery = raw
	}
}

func (lc *dnsExchangeLogContext) responseObserver(t0 time.Time, rawQuery *[]byte) func([]byte) {
	return func(raw []byte) {
		lc.Logger.Info(
			"dnsResponse",
			slog.Any("dnsRawQuery", *rawQuery),
			slog.Any("dnsRawResponse", raw),
			slog.String("localAddr", lc.LocalAddr),
			slog.String("protocol", lc.Protocol),
			slog.String("remoteAddr", lc.RemoteAddr),
			slog.String("serverProtocol", lc.ServerProtocol),
			slog.Time("t0", t0),
			slog.Time("t", lc.TimeNow()),
		)
	}
}
