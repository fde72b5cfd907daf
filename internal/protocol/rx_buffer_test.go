// internal/protocol/rx_buffer_test.go
package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestRxBufferTake(t *testing.T) {
	buf := &rxBuffer{}
	buf.append([]byte("+UART:115200"))

	if got := buf.available(); got != 12 {
		t.Fatalf("available() = %d, want 12", got)
	}

	head, err := buf.take(5)
	if err != nil {
		t.Fatalf("take(5) error = %v", err)
	}
	if string(head) != "+UART" {
		t.Errorf("take(5) = %q, want %q", head, "+UART")
	}

	rest, _ := buf.take(0)
	if string(rest) != ":115200" {
		t.Errorf("take(0) = %q, want %q", rest, ":115200")
	}

	empty, err := buf.take(10)
	if err != nil || len(empty) != 0 {
		t.Errorf("take on empty buffer = (%q, %v), want empty and nil", empty, err)
	}
}

func TestRxBufferFailureKeepsBufferedBytes(t *testing.T) {
	buf := &rxBuffer{}
	buf.append([]byte("OK"))
	buf.fail(io.ErrUnexpectedEOF)

	data, err := buf.take(0)
	if err != nil {
		t.Fatalf("take() with buffered data returned %v", err)
	}
	if string(data) != "OK" {
		t.Errorf("take() = %q, want OK", data)
	}

	if _, err := buf.take(0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("take() after drain error = %v, want %v", err, io.ErrUnexpectedEOF)
	}

	buf.reset()
	if buf.failure() != nil {
		t.Error("reset() should clear the failure")
	}
}

func TestRxBufferCapsSize(t *testing.T) {
	buf := &rxBuffer{}
	buf.append(make([]byte, rxMaxBuffer))
	buf.append([]byte("tail"))

	if got := buf.available(); got != rxMaxBuffer {
		t.Fatalf("available() = %d, want %d", got, rxMaxBuffer)
	}
	data, _ := buf.take(0)
	if !bytes.HasSuffix(data, []byte("tail")) {
		t.Error("newest bytes should be retained when the buffer overflows")
	}
}

func TestRxBufferClear(t *testing.T) {
	buf := &rxBuffer{}
	buf.append([]byte("stale"))
	buf.clear()
	if buf.available() != 0 {
		t.Error("clear() should discard buffered bytes")
	}
}

func TestPumpCopiesUntilEOF(t *testing.T) {
	buf := &rxBuffer{}
	stats := &channelStats{}
	done := make(chan struct{})
	defer close(done)

	reader := bytes.NewReader([]byte("OK\r\n"))
	finished := make(chan struct{})
	go func() {
		pump(reader, buf, stats, done, nil, zaptest.NewLogger(t))
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop at EOF")
	}

	data, err := buf.take(0)
	if err != nil {
		t.Fatalf("take() error = %v", err)
	}
	if string(data) != "OK\r\n" {
		t.Errorf("buffered = %q", data)
	}
	if !errors.Is(buf.failure(), io.EOF) {
		t.Errorf("failure() = %v, want EOF", buf.failure())
	}

	s := stats.snapshot()
	if s.BytesRead != 4 || s.ErrorCount != 1 {
		t.Errorf("stats = %+v, want 4 bytes read and 1 error", s)
	}
}

type timeoutReader struct {
	calls int
}

var errNothingYet = errors.New("nothing yet")

func (r *timeoutReader) Read(p []byte) (int, error) {
	r.calls++
	time.Sleep(time.Millisecond)
	return 0, errNothingYet
}

func TestPumpSkipsTransientErrors(t *testing.T) {
	buf := &rxBuffer{}
	done := make(chan struct{})
	finished := make(chan struct{})

	reader := &timeoutReader{}
	go func() {
		pump(reader, buf, &channelStats{}, done, func(err error) bool {
			return errors.Is(err, errNothingYet)
		}, zaptest.NewLogger(t))
		close(finished)
	}()

	time.Sleep(20 * time.Millisecond)
	close(done)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after done was closed")
	}

	if buf.failure() != nil {
		t.Errorf("transient errors must not fail the buffer, got %v", buf.failure())
	}
}
