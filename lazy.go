// SPDX-License-Identifier: GPL-3.0-or-later

package svc

// NewLazy returns a [*Lazy] that runs f when first polled.
//
// The f argument receives the [Waker] of the poll that runs it.
func NewLazy[T any](f func(w Waker) T) *Lazy[T] {
	return &Lazy[T]{f: f}
}

// Lazy is a [Future] that defers running a function until the first poll.
//
// The function runs exactly once and the first poll is always complete.
// Polling a [*Lazy] again after completion is a programming error and panics.
//
// A [*Lazy] must not be polled concurrently.
type Lazy[T any] struct {
	f func(w Waker) T
}

var _ Future[int] = &Lazy[int]{}

// Poll implements [Future].
func (l *Lazy[T]) Poll(w Waker) (T, bool) {
	if l.f == nil {
		panic("svc: Lazy polled after completion")
	}
	f := l.f
	l.f = nil
	return f(w), true
}
