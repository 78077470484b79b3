// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"fmt"
)

// ServiceFactory builds [Service] instances from configuration.
//
// NewService may be called many times; each call builds an independent
// service. On failure, it returns a nil service and a non-nil error.
type ServiceFactory[Cfg, Req, Resp any] interface {
	NewService(ctx context.Context, cfg Cfg) (Service[Req, Resp], error)
}

// ServiceFactoryFunc adapts a function to the [ServiceFactory] interface.
type ServiceFactoryFunc[Cfg, Req, Resp any] func(ctx context.Context, cfg Cfg) (Service[Req, Resp], error)

// NewService implements [ServiceFactory].
func (f ServiceFactoryFunc[Cfg, Req, Resp]) NewService(ctx context.Context, cfg Cfg) (Service[Req, Resp], error) {
	return f(ctx, cfg)
}

// NewConstFactory returns a [ServiceFactory] that always yields svc.
//
// The configuration is ignored. Note that every build returns the same
// instance, so svc must be safe to share.
func NewConstFactory[Cfg, Req, Resp any](svc Service[Req, Resp]) ServiceFactory[Cfg, Req, Resp] {
	return ServiceFactoryFunc[Cfg, Req, Resp](func(ctx context.Context, cfg Cfg) (Service[Req, Resp], error) {
		return svc, nil
	})
}

// NewFuncFactory returns a [ServiceFactory] that builds services using build.
//
// Any error returned by build is wrapped in a [*BuildError].
func NewFuncFactory[Cfg, Req, Resp any](
	build func(ctx context.Context, cfg Cfg) (Service[Req, Resp], error)) ServiceFactory[Cfg, Req, Resp] {
	return ServiceFactoryFunc[Cfg, Req, Resp](func(ctx context.Context, cfg Cfg) (Service[Req, Resp], error) {
		svc, err := build(ctx, cfg)
		if err != nil {
			return nil, &BuildError{Err: err}
		}
		return svc, nil
	})
}

// BuildError indicates that building a [Service] failed.
//
// Construction failures are terminal for that build attempt.
type BuildError struct {
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *BuildError) Error() string {
	return fmt.Sprintf("svc: cannot build service: %s", e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Err
}
