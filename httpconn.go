// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// HTTPConn is an HTTP client [Service] bound to a single connection.
//
// It is also an [http.RoundTripper]. The caller is responsible for calling
// [*HTTPConn.Close] when done, which closes the underlying connection.
//
// Construct using [NewHTTPConnFunc], [NewHTTPConnFuncPlain], [NewHTTPConnFuncTLS].
type HTTPConn struct {
	// conn is the underlying connection.
	conn net.Conn

	// txp is the HTTP transport.
	txp http.RoundTripper

	// closeIdleFunc closes idle connections in the transport.
	closeIdleFunc func()

	// mu protects count and waker.
	mu sync.Mutex

	// count is the number of exchanges in progress, i.e., round trips
	// plus response bodies that have not been closed yet.
	count int

	// waker is the latest shutdown poller, woken when count drops to zero.
	waker Waker

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Service[*http.Request, *http.Response] = &HTTPConn{}

// Call implements [Service] by performing a round trip using ctx.
func (hc *HTTPConn) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	return hc.RoundTrip(req.WithContext(ctx))
}

// PollReady implements [Service].
//
// The connection does not limit concurrency itself, so it is always ready.
func (hc *HTTPConn) PollReady(w Waker) (bool, error) {
	return true, nil
}

// PollShutdown implements [Service].
//
// Unless isError is true, it reports completion only once no exchange
// is in progress. An exchange ends when its response body is closed, or
// when the round trip fails. Only the latest w is woken.
func (hc *HTTPConn) PollShutdown(w Waker, isError bool) bool {
	if isError {
		return true
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.count <= 0 {
		return true
	}
	hc.waker = w
	return false
}

// RoundTrip implements [http.RoundTripper].
//
// The exchange stays in progress until the caller closes the response body.
func (hc *HTTPConn) RoundTrip(req *http.Request) (*http.Response, error) {
	hc.enter()

	conn := hc.conn
	t0 := hc.TimeNow()
	deadline, _ := req.Context().Deadline()
	hc.logRoundTripStart(conn, req, t0, deadline)
	resp, err := hc.txp.RoundTrip(req)
	hc.logRoundTripDone(conn, req, t0, deadline, resp, err)
	if err != nil {
		hc.leave()
		return nil, err
	}
	if resp.Body == nil {
		hc.leave()
		return resp, nil
	}
	resp.Body = hc.wrapBody(resp.Body)
	return resp, nil
}

func (hc *HTTPConn) enter() {
	hc.mu.Lock()
	hc.count++
	hc.mu.Unlock()
}

func (hc *HTTPConn) leave() {
	hc.mu.Lock()
	hc.count--
	var w Waker
	if hc.count <= 0 {
		w, hc.waker = hc.waker, nil
	}
	hc.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

// Close cleans up the transport and closes the underlying connection.
func (hc *HTTPConn) Close() error {
	hc.closeIdleFunc()
	return hc.conn.Close()
}

// Conn returns the underlying [net.Conn].
func (hc *HTTPConn) Conn() net.Conn {
	return hc.conn
}

func (hc *HTTPConn) logRoundTripStart(conn net.Conn, req *http.Request, t0 time.Time, deadline time.Time) {
	hc.Logger.Info(
		"httpRoundTripStart",
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpRequestHeaders", req.Header),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", t0),
	)
}

func (hc *HTTPConn) logRoundTripDone(conn net.Conn, req *http.Request,
	t0 time.Time, deadline time.Time, resp *http.Response, err error) {
	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	hc.Logger.Info(
		"httpRoundTripDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", hc.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL.String()),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", hc.TimeNow()),
	)
}

// NewHTTPConnFunc returns a new [*HTTPConnFunc].
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewHTTPConnFunc[T net.Conn](cfg *Config, logger SLogger) *HTTPConnFunc[T] {
	return &HTTPConnFunc[T]{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// NewHTTPConnFuncPlain returns a new [*HTTPConnFunc] for cleartext connections.
func NewHTTPConnFuncPlain(cfg *Config, logger SLogger) *HTTPConnFunc[net.Conn] {
	return NewHTTPConnFunc[net.Conn](cfg, logger)
}

// NewHTTPConnFuncTLS returns a new [*HTTPConnFunc] for TLS connections.
func NewHTTPConnFuncTLS(cfg *Config, logger SLogger) *HTTPConnFunc[TLSConn] {
	return NewHTTPConnFunc[TLSConn](cfg, logger)
}

// HTTPConnFunc wraps a connection into an [*HTTPConn].
//
// When the connection negotiated "h2" using ALPN, the [*HTTPConn] speaks
// HTTP/2; otherwise, it speaks HTTP/1.1 without keep-alives.
//
// All fields are safe to modify after construction but before first use.
type HTTPConnFunc[T net.Conn] struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewHTTPConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewHTTPConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewHTTPConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, *HTTPConn] = &HTTPConnFunc[net.Conn]{}
var _ Func[TLSConn, *HTTPConn] = &HTTPConnFunc[TLSConn]{}

// Call implements [Func].
func (op *HTTPConnFunc[T]) Call(ctx context.Context, conn T) (*HTTPConn, error) {
	type connectionStater interface {
		ConnectionState() tls.ConnectionState
	}
	var alpn string
	if csp, ok := any(conn).(connectionStater); ok {
		alpn = csp.ConnectionState().NegotiatedProtocol
	}

	// the transport must reuse conn rather than dialing
	dialer := sud.NewSingleUseDialer(conn)

	var (
		txp           http.RoundTripper
		closeIdleFunc func()
	)
	switch alpn {
	case "h2":
		h2txp := &http2.Transport{
			DialTLSContext: dialer.DialTLSContext,
		}
		txp, closeIdleFunc = h2txp, h2txp.CloseIdleConnections

	default:
		h1txp := &http.Transport{
			DialContext:       dialer.DialContext,
			DialTLSContext:    dialer.DialContext,
			DisableKeepAlives: true,
		}
		txp, closeIdleFunc = h1txp, h1txp.CloseIdleConnections
	}

	hc := &HTTPConn{
		conn:          conn,
		txp:           txp,
		closeIdleFunc: closeIdleFunc,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}
	return hc, nil
}
