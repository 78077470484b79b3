// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
)

// wrapBody returns a body that keeps the exchange in progress until it
// is closed. It emits httpBodyStreamStart on the first Read and, when at
// least one Read happened, httpBodyStreamDone on Close.
func (hc *HTTPConn) wrapBody(body io.ReadCloser) io.ReadCloser {
	return &httpBody{
		body:     body,
		hc:       hc,
		laddr:    safeconn.LocalAddr(hc.conn),
		protocol: safeconn.Network(hc.conn),
		raddr:    safeconn.RemoteAddr(hc.conn),
	}
}

// httpBody is a response body owned by an [*HTTPConn] exchange.
type httpBody struct {
	body io.ReadCloser

	// hc is notified once, on the first Close.
	hc *HTTPConn

	closeOnce sync.Once
	readOnce  sync.Once

	// didRead is stored after t0 is written.
	didRead atomic.Bool
	t0      time.Time

	laddr    string
	protocol string
	raddr    string
}

var _ io.ReadCloser = &httpBody{}

// Read implements [io.ReadCloser].
func (b *httpBody) Read(buffer []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.hc.TimeNow()
		b.didRead.Store(true)
		b.hc.Logger.Info(
			"httpBodyStreamStart",
			slog.String("localAddr", b.laddr),
			slog.String("protocol", b.protocol),
			slog.String("remoteAddr", b.raddr),
			slog.Time("t", b.t0),
		)
	})
	return b.body.Read(buffer)
}

// Close implements [io.ReadCloser].
//
// Only the first Close reaches the underlying body and ends the exchange.
func (b *httpBody) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		if b.didRead.Load() {
			b.hc.Logger.Info(
				"httpBodyStreamDone",
				slog.Any("err", err),
				slog.String("errClass", b.hc.ErrClassifier.Classify(err)),
				slog.String("localAddr", b.laddr),
				slog.String("protocol", b.protocol),
				slog.String("remoteAddr", b.raddr),
				slog.Time("t0", b.t0),
				slog.Time("t", b.hc.TimeNow()),
			)
		}
		b.hc.leave()
	})
	return
}
