// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import "context"

// Waker is notified when an operation that previously reported
// "not ready" may be able to make progress.
//
// A poll that returns "not ready" must arrange for the [Waker] it
// received to be invoked later; otherwise the caller may wait forever.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to the [Waker] interface.
type WakerFunc func()

var _ Waker = WakerFunc(nil)

// Wake implements [Waker].
func (f WakerFunc) Wake() {
	f()
}

// NoopWaker is a [Waker] that ignores wake-ups.
//
// Use it for one-off polls where the caller does not intend to wait.
var NoopWaker Waker = WakerFunc(func() {})

// Future is a computation that is driven to completion by polling.
//
// Poll returns the result and true once the computation is complete.
// Otherwise, it returns false and arranges for w to be woken later.
type Future[T any] interface {
	Poll(w Waker) (T, bool)
}

// FutureFunc adapts a polling function to the [Future] interface.
type FutureFunc[T any] func(w Waker) (T, bool)

// Poll implements [Future].
func (f FutureFunc[T]) Poll(w Waker) (T, bool) {
	return f(w)
}

// Await polls fut until it completes or ctx is done.
//
// Between polls, Await blocks until the [Waker] is invoked. Wake-ups that
// happen while polling are not lost: they cause an immediate re-poll.
func Await[T any](ctx context.Context, fut Future[T]) (T, error) {
	wakeup := make(chan struct{}, 1)
	waker := WakerFunc(func() {
		select {
		case wakeup <- struct{}{}:
		default:
		}
	})
	for {
		if value, ok := fut.Poll(waker); ok {
			return value, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wakeup:
		}
	}
}
