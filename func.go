// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// Func is the invocation half of a [Service]: a [Service] is a Func that
// also reports readiness and takes part in graceful shutdown. Plain Func
// values compose using [Compose2], [Compose3], etc.
//
// Resource cleanup contract: when a Func receives a closeable resource as input
// and returns an error, it is responsible for closing that resource before returning.
// See [TLSHandshakeFunc] for an example of this pattern.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
