// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import "context"

// Service is an asynchronous request handler with explicit backpressure
// and cooperative shutdown.
//
// PollReady reports whether the service can accept a request:
//
//   - (true, nil) means ready;
//   - (_, err) with a non-nil err means the service failed;
//   - (false, nil) means not ready yet, and w will be woken later.
//
// PollReady may be called repeatedly and in any order. It signals capacity,
// not the validity of a specific request.
//
// Call handles a request. By convention the caller has most recently
// observed (true, nil) from PollReady; this is not checked at runtime.
// Use [CallReady] to wait for readiness and call in one step.
//
// PollShutdown asks the service to drain. When isError is true the caller
// is unwinding after a failure and the service may report completion
// without waiting for in-flight work. Otherwise, it returns false (and
// wakes w later) until all in-flight work it is responsible for is done.
type Service[Req, Resp any] interface {
	Func[Req, Resp]
	PollReady(w Waker) (bool, error)
	PollShutdown(w Waker, isError bool) bool
}

// Ready blocks until svc is ready, svc fails, or ctx is done.
func Ready[Req, Resp any](ctx context.Context, svc Service[Req, Resp]) error {
	fut := FutureFunc[error](func(w Waker) (error, bool) {
		ok, err := svc.PollReady(w)
		if err != nil {
			return err, true
		}
		return nil, ok
	})
	result, err := Await(ctx, fut)
	if err != nil {
		return err
	}
	return result
}

// Shutdown blocks until svc has drained or ctx is done.
func Shutdown[Req, Resp any](ctx context.Context, svc Service[Req, Resp], isError bool) error {
	fut := FutureFunc[Unit](func(w Waker) (Unit, bool) {
		return Unit{}, svc.PollShutdown(w, isError)
	})
	_, err := Await(ctx, fut)
	return err
}

// CallReady waits for svc to be ready and then calls it with req.
func CallReady[Req, Resp any](ctx context.Context, svc Service[Req, Resp], req Req) (Resp, error) {
	if err := Ready(ctx, svc); err != nil {
		var zero Resp
		return zero, err
	}
	return svc.Call(ctx, req)
}

// NewFuncService returns a [Service] that invokes fn.
//
// The returned service is always ready and its shutdown completes
// immediately: it has no capacity limits and no in-flight state of its own.
func NewFuncService[Req, Resp any](fn Func[Req, Resp]) Service[Req, Resp] {
	return &funcService[Req, Resp]{fn}
}

// ServiceFunc returns a [Service] that invokes the given function.
//
// This is shorthand for [NewFuncService] with a [FuncAdapter].
func ServiceFunc[Req, Resp any](fx func(ctx context.Context, req Req) (Resp, error)) Service[Req, Resp] {
	return NewFuncService[Req, Resp](FuncAdapter[Req, Resp](fx))
}

type funcService[Req, Resp any] struct {
	fn Func[Req, Resp]
}

func (s *funcService[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return s.fn.Call(ctx, req)
}

func (s *funcService[Req, Resp]) PollReady(w Waker) (bool, error) {
	return true, nil
}

func (s *funcService[Req, Resp]) PollShutdown(w Waker, isError bool) bool {
	return true
}
