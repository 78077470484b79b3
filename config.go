// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"net"
	"time"
)

// Config holds common configuration for building services.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Resolver is used by [*Connector] to map host names to addresses.
	//
	// Set by [NewConfig] to [*SystemResolver].
	Resolver Resolver

	// TLSEngine is used by [*TLSHandshakeFunc].
	//
	// Set by [NewConfig] to [TLSEngineStdlib].
	TLSEngine TLSEngine

	// TimeAfter returns a channel that fires after the given duration.
	//
	// Set by [NewConfig] to [time.After].
	TimeAfter func(d time.Duration) <-chan time.Time

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:        &net.Dialer{},
		ErrClassifier: DefaultErrClassifier,
		Resolver:      NewSystemResolver(),
		TLSEngine:     TLSEngineStdlib{},
		TimeAfter:     time.After,
		TimeNow:       time.Now,
	}
}
