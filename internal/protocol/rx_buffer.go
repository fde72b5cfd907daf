// internal/protocol/rx_buffer.go
package protocol

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

const (
	rxChunkSize = 256
	rxMaxBuffer = 64 * 1024
)

// rxBuffer holds bytes received from the device until they are read
type rxBuffer struct {
	mu   sync.Mutex
	data []byte
	err  error
}

func (b *rxBuffer) append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - rxMaxBuffer; over > 0 {
		b.data = b.data[over:]
	}
}

// fail records a terminal receive error; buffered bytes stay readable
func (b *rxBuffer) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func (b *rxBuffer) failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *rxBuffer) available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// take removes up to max bytes. The pump error is returned only once the
// buffer is empty.
func (b *rxBuffer) take(max int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return nil, b.err
	}
	if max <= 0 || max > len(b.data) {
		max = len(b.data)
	}
	out := make([]byte, max)
	copy(out, b.data[:max])
	b.data = b.data[max:]
	return out, nil
}

func (b *rxBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.err = nil
}

func (b *rxBuffer) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}

// pump copies device bytes into buf until done is closed or the reader
// fails. transient reports read errors that only mean "nothing yet".
func pump(r io.Reader, buf *rxBuffer, stats *channelStats, done <-chan struct{}, transient func(error) bool, logger *zap.Logger) {
	chunk := make([]byte, rxChunkSize)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf.append(chunk[:n])
			stats.recordRead(n)
		}
		if err == nil {
			continue
		}
		if transient != nil && transient(err) {
			continue
		}

		select {
		case <-done:
			return
		default:
		}

		if errors.Is(err, io.EOF) {
			logger.Warn("Device closed the channel")
		} else {
			logger.Error("Channel receive failed", zap.Error(err))
		}
		stats.recordError()
		buf.fail(err)
		return
	}
}
