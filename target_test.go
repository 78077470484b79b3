// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"net/netip"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		// name describes the scenario.
		name string

		// input is the "host:port" string.
		input string

		// want is the expected target.
		want Target

		// wantErr is true when parsing should fail.
		wantErr bool
	}{
		{
			name:  "domain",
			input: "example.com:443",
			want:  Target{Host: "example.com", Port: 443},
		},

		{
			name:  "IPv6 literal",
			input: "[2001:db8::1]:8080",
			want:  Target{Host: "2001:db8::1", Port: 8080},
		},

		{
			name:    "missing port",
			input:   "example.com",
			wantErr: true,
		},

		{
			name:    "empty port",
			input:   "example.com:",
			wantErr: true,
		},

		{
			name:    "missing host",
			input:   ":443",
			wantErr: true,
		},

		{
			name:    "port out of range",
			input:   "example.com:65536",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestNewTargetFromURL(t *testing.T) {
	tests := []struct {
		// name describes the scenario.
		name string

		// rawURL is the URL to convert.
		rawURL string

		// want is the expected target.
		want Target

		// wantErr is true when the conversion should fail.
		wantErr bool
	}{
		{
			name:   "https default port",
			rawURL: "https://example.com/path",
			want:   Target{Host: "example.com", Port: 443, Scheme: "https"},
		},

		{
			name:   "ws default port",
			rawURL: "ws://example.com/chat",
			want:   Target{Host: "example.com", Port: 80, Scheme: "ws"},
		},

		{
			name:   "explicit port",
			rawURL: "http://[::1]:8080/",
			want:   Target{Host: "::1", Port: 8080, Scheme: "http"},
		},

		{
			name:   "uppercase scheme",
			rawURL: "WSS://example.com",
			want:   Target{Host: "example.com", Port: 443, Scheme: "wss"},
		},

		{
			name:    "unknown scheme without port",
			rawURL:  "gopher://example.com",
			wantErr: true,
		},

		{
			name:    "missing host",
			rawURL:  "http:///path",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			URL, err := url.Parse(tt.rawURL)
			require.NoError(t, err)

			got, err := NewTargetFromURL(URL)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetSecure(t *testing.T) {
	assert.True(t, Target{Scheme: "https"}.Secure())
	assert.True(t, Target{Scheme: "wss"}.Secure())
	assert.False(t, Target{Scheme: "http"}.Secure())
	assert.False(t, Target{}.Secure())
}

func TestNewTargetFromAddrPort(t *testing.T) {
	endpoint := netip.MustParseAddrPort("[2001:db8::1]:853")

	target := NewTargetFromAddrPort(endpoint)

	assert.Equal(t, "2001:db8::1", target.Host)
	assert.Equal(t, uint16(853), target.Port)
	assert.Equal(t, []netip.AddrPort{endpoint}, target.Addrs)
	assert.Equal(t, "[2001:db8::1]:853", target.String())
}

func TestTargetWithAddrs(t *testing.T) {
	original := Target{Host: "example.com", Port: 443}
	addr := netip.MustParseAddrPort("93.184.216.34:443")

	resolved := original.WithAddrs(addr)

	assert.Empty(t, original.Addrs)
	assert.Equal(t, []netip.AddrPort{addr}, resolved.Addrs)
	assert.Equal(t, "example.com", resolved.Host)
}
