// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"reflect"
	"sync"
)

// Extensions is a registry of typed values keyed by their type.
//
// Connections produced by [*Connector] expose their properties (e.g., the
// [PeerAddr]) through an Extensions registry. Looking up a type that was
// never inserted is a normal outcome, not an error.
//
// The zero value is ready to use and safe for concurrent use.
type Extensions struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// Queryable is implemented by values exposing an [*Extensions] registry.
type Queryable interface {
	Extensions() *Extensions
}

var _ Queryable = &Extensions{}

// Extensions implements [Queryable].
func (e *Extensions) Extensions() *Extensions {
	return e
}

// Insert stores value in ext, replacing any previous value of type T.
func Insert[T any](ext *Extensions, value T) {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	if ext.values == nil {
		ext.values = make(map[reflect.Type]any)
	}
	ext.values[reflect.TypeFor[T]()] = value
}

// Query returns the value of type T exposed by q, if any.
func Query[T any](q Queryable) (T, bool) {
	ext := q.Extensions()
	ext.mu.RLock()
	defer ext.mu.RUnlock()
	value, found := ext.values[reflect.TypeFor[T]()]
	if !found {
		var zero T
		return zero, false
	}
	return value.(T), true
}

// Remove deletes the value of type T from ext and reports whether it was present.
func Remove[T any](ext *Extensions) bool {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	key := reflect.TypeFor[T]()
	_, found := ext.values[key]
	delete(ext.values, key)
	return found
}
