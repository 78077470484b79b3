// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"io"
)

// Transform wraps an inner [Service] to produce an outer [Service].
//
// The outer service generally changes the response or error shape of the
// inner one (e.g., [*Timeout] re-tags errors as [*TimeoutError]). The outer
// service owns the inner one.
type Transform[Req, Resp, OutReq, OutResp any] interface {
	NewTransform(ctx context.Context, inner Service[Req, Resp]) (Service[OutReq, OutResp], error)
}

// TransformFunc adapts a function to the [Transform] interface.
type TransformFunc[Req, Resp, OutReq, OutResp any] func(
	ctx context.Context, inner Service[Req, Resp]) (Service[OutReq, OutResp], error)

// NewTransform implements [Transform].
func (f TransformFunc[Req, Resp, OutReq, OutResp]) NewTransform(
	ctx context.Context, inner Service[Req, Resp]) (Service[OutReq, OutResp], error) {
	return f(ctx, inner)
}

// ApplyTransform returns a [ServiceFactory] that builds a service using
// factory and then wraps it using t.
//
// When the inner build fails, its error is returned. When t fails, the
// inner service is released (closed, if it implements [io.Closer]) and
// the error of t is returned. A partially built service is never returned.
func ApplyTransform[Cfg, Req, Resp, OutReq, OutResp any](
	t Transform[Req, Resp, OutReq, OutResp],
	factory ServiceFactory[Cfg, Req, Resp],
) ServiceFactory[Cfg, OutReq, OutResp] {
	return ServiceFactoryFunc[Cfg, OutReq, OutResp](func(ctx context.Context, cfg Cfg) (Service[OutReq, OutResp], error) {
		inner, err := factory.NewService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return ApplyTransformService(ctx, t, inner)
	})
}

// ApplyTransformService wraps an already built inner service using t.
//
// On failure, the inner service is released as documented in [ApplyTransform].
func ApplyTransformService[Req, Resp, OutReq, OutResp any](
	ctx context.Context,
	t Transform[Req, Resp, OutReq, OutResp],
	inner Service[Req, Resp],
) (Service[OutReq, OutResp], error) {
	outer, err := t.NewTransform(ctx, inner)
	if err != nil {
		if closer, ok := inner.(io.Closer); ok {
			closer.Close()
		}
		return nil, err
	}
	return outer, nil
}
