// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"errors"

	"github.com/bassosimone/errclass"
)

// ErrClassifier classifies errors into categorical strings for analysis.
//
// Implementations map errors to short labels (e.g., "ETIMEDOUT",
// "ECONNRESET") that are emitted as the errClass of *Done log events.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier is a no-op classifier that returns an empty string.
var DefaultErrClassifier = ErrClassifierFunc(func(error) string { return "" })

// NewErrClassifier returns an [ErrClassifier] backed by [errclass.New].
//
// An expired [*TimeoutError] is classified as [errclass.ETIMEDOUT]. A nil
// error is classified as the empty string.
func NewErrClassifier() ErrClassifier {
	return ErrClassifierFunc(func(err error) string {
		switch {
		case err == nil:
			return ""
		case errors.Is(err, ErrTimeoutExpired):
			return errclass.ETIMEDOUT
		default:
			return errclass.New(err)
		}
	})
}
