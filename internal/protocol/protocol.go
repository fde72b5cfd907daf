// internal/protocol/protocol.go
package protocol

import (
	"context"
	"sync"
	"time"

	"can-bridge-service/internal/model"
)

// ByteChannel is a duplex byte stream to a bridge. Incoming bytes are
// buffered in the background so BytesAvailable never blocks.
type ByteChannel interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxBytes int) ([]byte, error)
	BytesAvailable() int
	Drain()

	// Protocol information
	GetProtocolType() model.ConnectionType
	Stats() ProtocolStats
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// channelStats guards ProtocolStats for concurrent writers and the rx pump
type channelStats struct {
	mu    sync.Mutex
	stats ProtocolStats
}

func (cs *channelStats) setConnected(connected bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stats.IsConnected = connected
	if connected {
		cs.stats.LastActivity = time.Now()
	}
}

func (cs *channelStats) recordWrite(n int, latency time.Duration) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stats.BytesWritten += int64(n)
	cs.stats.OperationCount++
	cs.stats.LastActivity = time.Now()
	if cs.stats.AverageLatency == 0 {
		cs.stats.AverageLatency = latency
	} else {
		cs.stats.AverageLatency = (cs.stats.AverageLatency + latency) / 2
	}
}

func (cs *channelStats) recordRead(n int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stats.BytesRead += int64(n)
	cs.stats.OperationCount++
	cs.stats.LastActivity = time.Now()
}

func (cs *channelStats) recordError() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stats.ErrorCount++
}

func (cs *channelStats) snapshot() ProtocolStats {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.stats
}
