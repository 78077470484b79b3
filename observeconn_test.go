// SPDX-License-Identifier: GPL-3.0-or-later

package svc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveConnFuncRead(t *testing.T) {
	logger, records := newCapturingLogger()
	payload := []byte("HTTP/1.1 101 Switching Protocols\r\n")

	mockConn := newTCPConn("127.0.0.1:54321", "93.184.216.34:80")
	mockConn.ReadFunc = func(b []byte) (int, error) {
		return copy(b, payload), nil
	}

	observed, err := NewObserveConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)
	require.NoError(t, err)

	buf := make([]byte, 128)
	count, err := observed.Read(buf)

	require.NoError(t, err)
	assert.Equal(t, payload, buf[:count])
	require.Len(t, *records, 1)
	record := (*records)[0]
	assert.Equal(t, "readDone", record.Message)
	assert.Equal(t, slog.LevelDebug, record.Level)
	size, _ := recordAttr(record, "ioBufferSize")
	assert.Equal(t, int64(128), size.Int64())
	bytesCount, _ := recordAttr(record, "ioBytesCount")
	assert.Equal(t, int64(len(payload)), bytesCount.Int64())
	raddr, _ := recordAttr(record, "remoteAddr")
	assert.Equal(t, "93.184.216.34:80", raddr.String())
}

func TestObserveConnFuncWrite(t *testing.T) {
	tests := []struct {
		// name describes the scenario.
		name string

		// writeErr is the error returned by the underlying conn.
		writeErr error
	}{
		{name: "success"},
		{name: "failure", writeErr: errors.New("broken pipe")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, records := newCapturingLogger()
			var written []byte
			mockConn := newMinimalConn()
			mockConn.WriteFunc = func(b []byte) (int, error) {
				if tt.writeErr != nil {
					return 0, tt.writeErr
				}
				written = append(written, b...)
				return len(b), nil
			}

			observed, _ := NewObserveConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)
			count, err := observed.Write([]byte("GET / HTTP/1.1\r\n"))

			require.Len(t, *records, 1)
			assert.Equal(t, "writeDone", (*records)[0].Message)
			if tt.writeErr != nil {
				require.ErrorIs(t, err, tt.writeErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 16, count)
			assert.Equal(t, "GET / HTTP/1.1\r\n", string(written))
		})
	}
}

// Close runs once; later calls return net.ErrClosed.
func TestObserveConnFuncClose(t *testing.T) {
	logger, records := newCapturingLogger()
	closeCount := 0
	mockConn := newMinimalConn()
	mockConn.CloseFunc = func() error {
		closeCount++
		return nil
	}

	observed, _ := NewObserveConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)

	require.NoError(t, observed.Close())
	require.ErrorIs(t, observed.Close(), net.ErrClosed)
	assert.Equal(t, 1, closeCount)
	require.Len(t, *records, 1)
	assert.Equal(t, "closeDone", (*records)[0].Message)
	assert.Equal(t, slog.LevelInfo, (*records)[0].Level)
}

// Deadlines and addresses pass through without logging.
func TestObserveConnFuncPassThrough(t *testing.T) {
	logger, records := newCapturingLogger()
	deadline := time.Now().Add(time.Hour)
	var gotDeadlines []time.Time

	mockConn := newTCPConn("127.0.0.1:54321", "93.184.216.34:443")
	mockConn.SetDeadlineFunc = func(t time.Time) error {
		gotDeadlines = append(gotDeadlines, t)
		return nil
	}
	mockConn.SetReadDeadFunc = mockConn.SetDeadlineFunc
	mockConn.SetWriteDeaFunc = mockConn.SetDeadlineFunc

	observed, _ := NewObserveConnFunc(NewConfig(), logger).Call(context.Background(), mockConn)

	require.NoError(t, observed.SetDeadline(deadline))
	require.NoError(t, observed.SetReadDeadline(deadline))
	require.NoError(t, observed.SetWriteDeadline(deadline))
	assert.Equal(t, []time.Time{deadline, deadline, deadline}, gotDeadlines)
	assert.Equal(t, "93.184.216.34:443", observed.RemoteAddr().String())
	assert.Equal(t, "127.0.0.1:54321", observed.LocalAddr().String())
	assert.Empty(t, *records)
}
