// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import "net/netip"

// NewEndpointFunc returns a [Func] that always returns the given [netip.AddrPort].
//
// Use it as the first stage of a dial pipeline, e.g., to reach the DNS
// server used by a [*DNSResolver].
func NewEndpointFunc(endpoint netip.AddrPort) Func[Unit, netip.AddrPort] {
	return ConstFunc(endpoint)
}
