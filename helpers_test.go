// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn, NameFunc returns
// "mock", and ParrotFunc returns "".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// recordMessages returns the messages of the captured records.
func recordMessages(records []slog.Record) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.Message)
	}
	return out
}

// recordAttr returns the value of the given attribute of record.
func recordAttr(record slog.Record, key string) (value slog.Value, found bool) {
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value, found = attr.Value, true
			return false
		}
		return true
	})
	return
}

// newTCPConn returns a [*netstub.FuncConn] whose addresses are the given
// TCP endpoints and whose Close succeeds.
func newTCPConn(laddr, raddr string) *netstub.FuncConn {
	conn := newMinimalConn()
	conn.LocalAddrFunc = func() net.Addr {
		return net.TCPAddrFromAddrPort(netip.MustParseAddrPort(laddr))
	}
	conn.RemoteAddrFunc = func() net.Addr {
		return net.TCPAddrFromAddrPort(netip.MustParseAddrPort(raddr))
	}
	conn.CloseFunc = func() error { return nil }
	return conn
}

// newMockTLSConn returns a [*tlsstub.FuncTLSConn] over a minimal conn
// whose handshake returns handshakeErr and whose state is state.
func newMockTLSConn(state tls.ConnectionState, handshakeErr error) *tlsstub.FuncTLSConn {
	conn := newMinimalConn()
	conn.CloseFunc = func() error { return nil }
	return &tlsstub.FuncTLSConn{
		FuncConn: conn,
		ConnectionStateFunc: func() tls.ConnectionState {
			return state
		},
		HandshakeContextFunc: func(ctx context.Context) error {
			return handshakeErr
		},
	}
}

// sleepService is a [Service] whose Call waits for delay before
// returning resp and err.
//
// PollReady returns ready and readyErr and saves the [Waker] so that
// tests can wake it. PollShutdown completes when isError is true or
// after drain; otherwise it saves the [Waker] for drain to wake.
type sleepService struct {
	delay    time.Duration
	resp     string
	err      error
	ready    bool
	readyErr error

	mu            sync.Mutex
	waker         Waker
	drained       bool
	shutdownWaker Waker
	calls      int
	cancelled  chan struct{}
	cancelOnce sync.Once
}

func newSleepService(delay time.Duration, resp string, err error) *sleepService {
	return &sleepService{
		delay:     delay,
		resp:      resp,
		err:       err,
		ready:     true,
		cancelled: make(chan struct{}),
	}
}

func (s *sleepService) Call(ctx context.Context, req string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return s.resp, s.err
	case <-ctx.Done():
		s.cancelOnce.Do(func() { close(s.cancelled) })
		return "", ctx.Err()
	}
}

func (s *sleepService) PollReady(w Waker) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waker = w
	return s.ready, s.readyErr
}

func (s *sleepService) PollShutdown(w Waker, isError bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isError || s.drained {
		return true
	}
	s.shutdownWaker = w
	return false
}

// drain completes the pending shutdown and wakes the last shutdown poller.
func (s *sleepService) drain() {
	s.mu.Lock()
	s.drained = true
	w := s.shutdownWaker
	s.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

// setReady marks the service ready and wakes the last poller.
func (s *sleepService) setReady() {
	s.mu.Lock()
	s.ready = true
	w := s.waker
	s.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

func (s *sleepService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
