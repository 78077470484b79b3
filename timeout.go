// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/bassosimone/runtimex"
)

// TimeoutError is the error returned by a [*TimeoutService].
//
// It is either a service failure, carrying the inner service error
// unchanged, or an expired deadline, carrying no payload. Use
// [NewTimeoutServiceError] to build the former and [ErrTimeoutExpired]
// to refer to the latter.
type TimeoutError struct {
	expired bool
	err     error
}

// ErrTimeoutExpired is the [*TimeoutError] returned when the deadline
// elapses before the inner service completes.
var ErrTimeoutExpired = &TimeoutError{expired: true}

// NewTimeoutServiceError tags err as a failure of the inner service.
//
// This function panics if err is nil.
func NewTimeoutServiceError(err error) *TimeoutError {
	runtimex.Assert(err != nil)
	return &TimeoutError{err: err}
}

// Expired returns whether the deadline elapsed.
func (e *TimeoutError) Expired() bool {
	return e.expired
}

// Unwrap returns the inner service error or nil when expired.
func (e *TimeoutError) Unwrap() error {
	return e.err
}

// Error implements error.
//
// A service failure renders the inner error text; an expired deadline
// renders "Service call timeout".
func (e *TimeoutError) Error() string {
	if e.expired {
		return "Service call timeout"
	}
	return e.err.Error()
}

// GoString implements [fmt.GoStringer] and provides the %#v form.
func (e *TimeoutError) GoString() string {
	if e.expired {
		return "TimeoutError::Timeout"
	}
	return fmt.Sprintf("TimeoutError::Service(%#v)", e.err)
}

// Equal compares the variant first and then the inner service errors.
func (e *TimeoutError) Equal(other *TimeoutError) bool {
	if other == nil || e.expired != other.expired {
		return false
	}
	return e.expired || reflect.DeepEqual(e.err, other.err)
}

// Is allows [errors.Is] to match a [*TimeoutError] using [*TimeoutError.Equal].
func (e *TimeoutError) Is(target error) bool {
	other, ok := target.(*TimeoutError)
	return ok && e.Equal(other)
}

// NewTimeout returns a new [*Timeout] transform.
//
// The cfg argument contains the common configuration.
//
// The duration argument is the deadline applied to each call. A zero
// duration disables the deadline entirely.
//
// The logger argument is the [SLogger] to use for structured logging.
//
// This function panics if duration is negative.
func NewTimeout[Req, Resp any](cfg *Config, duration time.Duration, logger SLogger) *Timeout[Req, Resp] {
	runtimex.Assert(duration >= 0)
	return &Timeout[Req, Resp]{
		Duration:      duration,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeAfter:     cfg.TimeAfter,
		TimeNow:       cfg.TimeNow,
	}
}

// Timeout is a [Transform] that applies a deadline to each call of
// the wrapped [Service]. See [*TimeoutService] for the semantics.
//
// All fields are safe to modify after construction but before first use.
type Timeout[Req, Resp any] struct {
	// Duration is the deadline measured from the start of each call.
	//
	// Zero means that no deadline is enforced. It must not be negative.
	Duration time.Duration

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTimeout] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTimeout] to the user-provided logger.
	Logger SLogger

	// TimeAfter creates the deadline channel (configurable for testing).
	//
	// Set by [NewTimeout] from [Config.TimeAfter].
	TimeAfter func(d time.Duration) <-chan time.Time

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewTimeout] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Transform[Unit, Unit, Unit, Unit] = &Timeout[Unit, Unit]{}

// Clone returns an independent copy of the transform configuration.
func (t *Timeout[Req, Resp]) Clone() *Timeout[Req, Resp] {
	c := *t
	return &c
}

// NewTransform implements [Transform].
//
// It always succeeds and never blocks.
func (t *Timeout[Req, Resp]) NewTransform(ctx context.Context, inner Service[Req, Resp]) (Service[Req, Resp], error) {
	return t.wrap(inner), nil
}

func (t *Timeout[Req, Resp]) wrap(inner Service[Req, Resp]) *TimeoutService[Req, Resp] {
	return &TimeoutService[Req, Resp]{
		Duration:      t.Duration,
		ErrClassifier: t.ErrClassifier,
		Logger:        t.Logger,
		TimeAfter:     t.TimeAfter,
		TimeNow:       t.TimeNow,
		inner:         inner,
	}
}

// NewTimeoutService wraps inner with a deadline of the given duration.
//
// This is equivalent to calling [*Timeout.NewTransform] on the result
// of [NewTimeout] and is useful when no factory is involved.
//
// This function panics if inner is nil or duration is negative.
func NewTimeoutService[Req, Resp any](
	cfg *Config, duration time.Duration, inner Service[Req, Resp], logger SLogger) *TimeoutService[Req, Resp] {
	runtimex.Assert(inner != nil)
	return NewTimeout[Req, Resp](cfg, duration, logger).wrap(inner)
}

// TimeoutService applies a deadline to each call of the inner [Service].
//
// PollReady delegates to the inner service and wraps its errors using
// [NewTimeoutServiceError]. PollShutdown delegates unchanged.
//
// Call races the inner call against the deadline. The inner outcome wins
// whenever it is available when the deadline is checked, including when
// both are ready at the same time. When the deadline wins, Call returns
// [ErrTimeoutExpired] and cancels the context of the abandoned inner call.
//
// The context of the inner call ends when Call returns, so the response
// must not depend on it afterwards (e.g., a streaming body).
//
// With a zero Duration, Call does not create any timer and returns the
// inner outcome, however long the inner call takes.
//
// The exported fields are safe to modify after construction but before first use.
type TimeoutService[Req, Resp any] struct {
	// Duration is the deadline measured from the start of each call.
	//
	// It must not be negative.
	Duration time.Duration

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// TimeAfter creates the deadline channel.
	TimeAfter func(d time.Duration) <-chan time.Time

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time

	// inner is the owned inner service.
	inner Service[Req, Resp]
}

var _ Service[Unit, Unit] = &TimeoutService[Unit, Unit]{}

// PollReady implements [Service].
func (s *TimeoutService[Req, Resp]) PollReady(w Waker) (bool, error) {
	ready, err := s.inner.PollReady(w)
	if err != nil {
		return true, NewTimeoutServiceError(err)
	}
	return ready, nil
}

// PollShutdown implements [Service].
func (s *TimeoutService[Req, Resp]) PollShutdown(w Waker, isError bool) bool {
	return s.inner.PollShutdown(w, isError)
}

// Call implements [Service].
func (s *TimeoutService[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	t0 := s.TimeNow()
	deadline, _ := ctx.Deadline()
	s.logCallStart(t0, deadline)
	resp, err := s.call(ctx, req)
	s.logCallDone(t0, deadline, err)
	return resp, err
}

// timeoutResult is the outcome of the inner call.
type timeoutResult[Resp any] struct {
	resp Resp
	err  error
}

func (s *TimeoutService[Req, Resp]) call(ctx context.Context, req Req) (Resp, error) {
	// 1. a zero duration bypasses the timer machinery entirely
	runtimex.Assert(s.Duration >= 0)
	if s.Duration == 0 {
		return s.finish(s.inner.Call(ctx, req))
	}

	// 2. start the inner call; the buffered channel lets the goroutine
	// terminate even when nobody is receiving anymore
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan timeoutResult[Resp], 1)
	go func() {
		resp, err := s.inner.Call(ctx, req)
		done <- timeoutResult[Resp]{resp, err}
	}()

	// 3. race the inner call against the deadline
	expired := s.TimeAfter(s.Duration)
	select {
	case res := <-done:
		return s.finish(res.resp, res.err)
	case <-expired:
	}

	// 4. select picks randomly among ready cases, so give the inner
	// call precedence before declaring the deadline elapsed
	select {
	case res := <-done:
		return s.finish(res.resp, res.err)
	default:
		var zero Resp
		return zero, ErrTimeoutExpired
	}
}

func (s *TimeoutService[Req, Resp]) finish(resp Resp, err error) (Resp, error) {
	if err != nil {
		var zero Resp
		return zero, NewTimeoutServiceError(err)
	}
	return resp, nil
}

func (s *TimeoutService[Req, Resp]) logCallStart(t0 time.Time, deadline time.Time) {
	s.Logger.Info(
		"timeoutCallStart",
		slog.Time("deadline", deadline),
		slog.Time("t", t0),
		slog.Duration("timeout", s.Duration),
	)
}

func (s *TimeoutService[Req, Resp]) logCallDone(t0 time.Time, deadline time.Time, err error) {
	s.Logger.Info(
		"timeoutCallDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", s.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", s.TimeNow()),
		slog.Duration("timeout", s.Duration),
		slog.Bool("timeoutExpired", err == ErrTimeoutExpired),
	)
}
