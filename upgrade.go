// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"bufio"
	"context"
	"net"
	"net/http"

	"github.com/bassosimone/runtimex"
)

// UpgradeRequest is handed over when a connection switches protocol.
//
// It contains the leading request that asked for the switch, the raw
// connection, and the reader holding any bytes that were buffered while
// parsing the request and that belong to the new protocol.
type UpgradeRequest struct {
	// Request is the parsed leading request.
	Request *http.Request

	// Conn is the raw connection.
	Conn net.Conn

	// Reader wraps Conn and may hold already buffered bytes.
	Reader *bufio.Reader
}

// ReadUpgradeRequest parses the leading HTTP/1.x request from conn.
//
// The returned [UpgradeRequest] keeps the reader used for parsing, so no
// buffered byte is lost when handing the connection over.
func ReadUpgradeRequest(conn net.Conn) (UpgradeRequest, error) {
	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return UpgradeRequest{}, err
	}
	return UpgradeRequest{Request: req, Conn: conn, Reader: reader}, nil
}

// Upgrader takes over a connection after a protocol switch.
//
// This is the extension point a concrete protocol (e.g., WebSocket)
// must implement. The Upgrader owns the connection once Upgrade is called.
type Upgrader interface {
	Upgrade(ctx context.Context, req UpgradeRequest) error
}

// UpgraderFunc adapts a function to the [Upgrader] interface.
type UpgraderFunc func(ctx context.Context, req UpgradeRequest) error

// Upgrade implements [Upgrader].
func (f UpgraderFunc) Upgrade(ctx context.Context, req UpgradeRequest) error {
	return f(ctx, req)
}

// NewUpgradeHandler returns a new [*UpgradeHandler] using the given [Upgrader].
//
// This function panics if upgrader is nil.
func NewUpgradeHandler(upgrader Upgrader) *UpgradeHandler {
	runtimex.Assert(upgrader != nil)
	return &UpgradeHandler{upgrader: upgrader}
}

// UpgradeHandler is the [Service] a protocol layer invokes to hand an
// established connection over to a different protocol.
//
// The handler has no backpressure of its own: it is always ready and
// its shutdown completes immediately. Call delegates to the [Upgrader].
//
// UpgradeHandler is also a [ServiceFactory] that yields itself.
type UpgradeHandler struct {
	upgrader Upgrader
}

var (
	_ Service[UpgradeRequest, Unit]              = &UpgradeHandler{}
	_ ServiceFactory[Unit, UpgradeRequest, Unit] = &UpgradeHandler{}
)

// NewService implements [ServiceFactory].
func (h *UpgradeHandler) NewService(ctx context.Context, _ Unit) (Service[UpgradeRequest, Unit], error) {
	return h, nil
}

// PollReady implements [Service].
func (h *UpgradeHandler) PollReady(w Waker) (bool, error) {
	return true, nil
}

// PollShutdown implements [Service].
func (h *UpgradeHandler) PollShutdown(w Waker, isError bool) bool {
	return true
}

// Call implements [Service].
func (h *UpgradeHandler) Call(ctx context.Context, req UpgradeRequest) (Unit, error) {
	return Unit{}, h.upgrader.Upgrade(ctx, req)
}
