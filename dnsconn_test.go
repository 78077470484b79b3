// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"slices"
	"testing"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dnsTestZone maps fully qualified names to their addresses.
type dnsTestZone map[string][]string

// reply builds the raw response to rawQuery; unknown names get NXDOMAIN.
func (z dnsTestZone) reply(rawQuery []byte) ([]byte, error) {
	query := &dns.Msg{}
	if err := query.Unpack(rawQuery); err != nil {
		return nil, err
	}
	resp := &dns.Msg{}
	resp.SetReply(query)
	question := query.Question[0]
	addrs, found := z[question.Name]
	if !found {
		resp.Rcode = dns.RcodeNameError
		return resp.Pack()
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		header := dns.RR_Header{Name: question.Name, Rrtype: question.Qtype, Class: dns.ClassINET, Ttl: 60}
		switch {
		case question.Qtype == dns.TypeA && ip.To4() != nil:
			resp.Answer = append(resp.Answer, &dns.A{Hdr: header, A: ip})
		case question.Qtype == dns.TypeAAAA && ip.To4() == nil:
			resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: header, AAAA: ip})
		}
	}
	return resp.Pack()
}

// startDNSOverUDPServer serves zone on a local UDP socket until the test ends.
func startDNSOverUDPServer(t *testing.T, zone dnsTestZone) netip.AddrPort {
	pconn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pconn.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			count, addr, err := pconn.ReadFrom(buf)
			if err != nil {
				return
			}
			if raw, err := zone.reply(buf[:count]); err == nil {
				pconn.WriteTo(raw, addr)
			}
		}
	}()
	return netip.MustParseAddrPort(pconn.LocalAddr().String())
}

// startDNSOverTCPServer serves zone on a local TCP listener until the test ends.
func startDNSOverTCPServer(t *testing.T, zone dnsTestZone) netip.AddrPort {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveDNSOverTCP(conn, zone)
		}
	}()
	return netip.MustParseAddrPort(listener.Addr().String())
}

func serveDNSOverTCP(conn net.Conn, zone dnsTestZone) {
	defer conn.Close()
	for {
		var length uint16
		if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
			return
		}
		rawQuery := make([]byte, length)
		if _, err := io.ReadFull(conn, rawQuery); err != nil {
			return
		}
		raw, err := zone.reply(rawQuery)
		if err != nil {
			return
		}
		frame := binary.BigEndian.AppendUint16(nil, uint16(len(raw)))
		if _, err := conn.Write(append(frame, raw...)); err != nil {
			return
		}
	}
}

// newDNSOverHTTPSHandler serves zone using the DNS-over-HTTPS wire format.
func newDNSOverHTTPSHandler(zone dnsTestZone) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			rawQuery []byte
			err      error
		)
		switch r.Method {
		case http.MethodGet:
			rawQuery, err = base64.RawURLEncoding.DecodeString(r.URL.Query().Get("dns"))
		default:
			rawQuery, err = io.ReadAll(r.Body)
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, err := zone.reply(rawQuery)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/dns-message")
		w.Write(raw)
	})
}

var testZone = dnsTestZone{
	"example.com.": {"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"},
}

func dialTestConn(t *testing.T, network string, endpoint netip.AddrPort) net.Conn {
	conn, err := NewConnectFunc(NewConfig(), network, DefaultSLogger()).Call(context.Background(), endpoint)
	require.NoError(t, err)
	return conn
}

func exchangeRecordsA(t *testing.T, conn DNSConn) []string {
	resp, err := conn.Exchange(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))
	require.NoError(t, err)
	addrs, err := resp.RecordsA()
	require.NoError(t, err)
	slices.Sort(addrs)
	return addrs
}

func TestDNSOverUDPConn(t *testing.T) {
	endpoint := startDNSOverUDPServer(t, testZone)
	logger, records := newCapturingLogger()

	dnsConn, err := NewDNSOverUDPConnFunc(NewConfig(), logger).Call(
		context.Background(), dialTestConn(t, "udp", endpoint))
	require.NoError(t, err)
	defer dnsConn.Close()

	assert.Equal(t, []string{"93.184.216.34"}, exchangeRecordsA(t, dnsConn))
	assert.Equal(t, []string{"dnsExchangeStart", "dnsQuery", "dnsResponse", "dnsExchangeDone"},
		recordMessages(*records))
	serverProtocol, _ := recordAttr((*records)[0], "serverProtocol")
	assert.Equal(t, "udp", serverProtocol.String())
}

func TestDNSOverTCPConn(t *testing.T) {
	endpoint := startDNSOverTCPServer(t, testZone)
	logger, records := newCapturingLogger()

	dnsConn, err := NewDNSOverTCPConnFunc(NewConfig(), logger).Call(
		context.Background(), dialTestConn(t, "tcp", endpoint))
	require.NoError(t, err)
	defer dnsConn.Close()

	assert.Equal(t, []string{"93.184.216.34"}, exchangeRecordsA(t, dnsConn))
	serverProtocol, _ := recordAttr((*records)[0], "serverProtocol")
	assert.Equal(t, "tcp", serverProtocol.String())
}

func TestDNSOverHTTPSConn(t *testing.T) {
	server := httptest.NewServer(newDNSOverHTTPSHandler(testZone))
	defer server.Close()
	endpoint := netip.MustParseAddrPort(server.Listener.Addr().String())

	httpConn, err := NewHTTPConnFuncPlain(NewConfig(), DefaultSLogger()).Call(
		context.Background(), dialTestConn(t, "tcp", endpoint))
	require.NoError(t, err)

	// the cleartext transport treats the conn as already secured
	URL := "https://" + endpoint.String() + "/dns-query"
	dnsConn, err := NewDNSOverHTTPSConnFunc(NewConfig(), URL, DefaultSLogger()).Call(
		context.Background(), httpConn)
	require.NoError(t, err)
	defer dnsConn.Close()

	assert.Equal(t, []string{"93.184.216.34"}, exchangeRecordsA(t, dnsConn))
}

// Exchange fails when the URL is invalid.
func TestDNSOverHTTPSConnInvalidURL(t *testing.T) {
	httpConn, err := NewHTTPConnFuncPlain(NewConfig(), DefaultSLogger()).Call(context.Background(), newMinimalConn())
	require.NoError(t, err)

	dnsConn, err := NewDNSOverHTTPSConnFunc(NewConfig(), "\t", DefaultSLogger()).Call(context.Background(), httpConn)
	require.NoError(t, err)

	_, err = dnsConn.Exchange(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))
	require.Error(t, err)
}

// Exchange propagates write errors from the underlying TLS connection.
func TestDNSOverTLSConnWriteError(t *testing.T) {
	wantErr := errors.New("write error")
	mockTLSConn := newMockTLSConn(tls.ConnectionState{}, nil)
	mockTLSConn.FuncConn.WriteFunc = func(b []byte) (int, error) {
		return 0, wantErr
	}
	logger, records := newCapturingLogger()

	dnsConn, err := NewDNSOverTLSConnFunc(NewConfig(), logger).Call(context.Background(), mockTLSConn)
	require.NoError(t, err)

	_, err = dnsConn.Exchange(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))

	require.Error(t, err)
	require.NotEmpty(t, *records)
	last := (*records)[len(*records)-1]
	assert.Equal(t, "dnsExchangeDone", last.Message)
	serverProtocol, _ := recordAttr(last, "serverProtocol")
	assert.Equal(t, "dot", serverProtocol.String())
}

// Close closes the owned connection.
func TestDNSConnClose(t *testing.T) {
	closed := 0
	mockConn := newMinimalConn()
	mockConn.CloseFunc = func() error {
		closed++
		return nil
	}
	cfg := NewConfig()

	udpConn, _ := NewDNSOverUDPConnFunc(cfg, DefaultSLogger()).Call(context.Background(), mockConn)
	tcpConn, _ := NewDNSOverTCPConnFunc(cfg, DefaultSLogger()).Call(context.Background(), mockConn)
	require.NoError(t, udpConn.Close())
	require.NoError(t, tcpConn.Close())

	assert.Equal(t, 2, closed)
}
