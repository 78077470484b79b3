// SPDX-License-Identifier: GPL-3.0-or-later

// Package svc provides the contracts for composing network services.
//
// # Core Abstractions
//
// A [Service] handles requests with explicit backpressure and cooperative
// shutdown:
//
//	type Service[Req, Resp any] interface {
//		Func[Req, Resp]                          // Call(ctx, req) (Resp, error)
//		PollReady(w Waker) (bool, error)
//		PollShutdown(w Waker, isError bool) bool
//	}
//
// A [ServiceFactory] builds services from configuration and a [Transform]
// wraps a service into another service, possibly changing its response or
// error shape. [ApplyTransform] combines the two.
//
// Readiness and shutdown are polled: a poll that is not complete registers
// a [Waker] to be notified later. Use [Ready], [Shutdown], and [CallReady]
// to wait instead of polling, or [Await] to drive any [Future]. A [*Lazy]
// is a [Future] that runs a function on its first poll.
//
// # Timeout Middleware
//
// [*Timeout] is the [Transform] that applies a deadline to each call of
// the wrapped service. The inner call and the deadline race; the inner
// outcome wins whenever it is available, and an elapsed deadline yields
// [ErrTimeoutExpired]. Inner errors are wrapped in a [*TimeoutError].
// A zero duration disables the deadline.
//
// # Cancellation
//
// A service call is abandoned by cancelling its context. The [*Timeout]
// middleware does this for the inner call when the deadline wins; the
// inner service is expected to release its resources when that happens.
//
// # Connections
//
// [*Connector] is a [Service] establishing connections to a [Target]
// built from a "host:port" string, a [netip.AddrPort], or a URL. It
// resolves names using a [Resolver] ([*SystemResolver] or a [*DNSResolver]
// over UDP, TCP, TLS, or HTTPS), dials using [*ConnectFunc], and optionally
// secures the connection using [*TLSHandshakeFunc]. The resulting [*Conn]
// exposes capabilities such as [PeerAddr] through [Query].
//
// [*UpgradeHandler] is the [Service] that takes over a connection after a
// protocol switch; the protocol logic is supplied as an [Upgrader].
//
// # Composition
//
// Plain operations are [Func] values that compose with [Compose2] through
// [Compose5]. [NewFuncService] turns a [Func] into a [Service].
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled. Primitives emit span events
// as *Start/*Done pairs carrying t0, t, deadline, err, and errClass. Use
// [NewSpanID] and [*slog.Logger.With] to correlate events, and
// [NewErrClassifier] to label errors.
package svc
