// SPDX-License-Identifier: GPL-3.0-or-later

package svc

// Unit is a type not containing any value (analogous to an
// explicit `void` type in C and C++).
//
// Use this type for a [Service] that returns no response or for a
// [ServiceFactory] that needs no configuration.
type Unit struct{}
