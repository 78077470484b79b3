// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// Attach it to a logger using [*slog.Logger.With] so that all the events
// emitted while serving one request (timeout, connector, dial, TLS, DNS)
// can be correlated.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
