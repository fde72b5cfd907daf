// internal/protocol/prototest/fake_channel.go
package prototest

import (
	"context"
	"strings"
	"sync"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
)

// Responder returns the bytes a fake bridge answers to one command line.
// An empty string means silence.
type Responder func(command string) string

// FakeChannel is a scripted protocol.ByteChannel for tests
type FakeChannel struct {
	mu        sync.Mutex
	open      bool
	buffer    []byte
	written   []string
	responder Responder
	openErr   error
	failWrite int
	breakOn   string
	broken    bool
	stats     protocol.ProtocolStats
}

var _ protocol.ByteChannel = (*FakeChannel)(nil)

// NewFakeChannel creates a fake answering with responder
func NewFakeChannel(responder Responder) *FakeChannel {
	if responder == nil {
		responder = Silent
	}
	return &FakeChannel{responder: responder, failWrite: -1}
}

// Silent never answers
func Silent(string) string { return "" }

// Script answers from a fixed table. Unknown commands are silent.
func Script(answers map[string]string) Responder {
	return func(command string) string {
		return answers[command]
	}
}

// ConfigModeBridge answers like a bridge in AT command mode
func ConfigModeBridge() map[string]string {
	return map[string]string{
		"AT":         "OK\r\n",
		"AT+UART?":   "+UART:115200,8,1,0,0\r\nOK\r\n",
		"AT+CAN?":    "+CAN:500000\r\nOK\r\n",
		"AT+ID?":     "+ID:0x123\r\nOK\r\n",
		"AT+FILTER?": "+FILTER:0x000,0x000\r\nOK\r\n",
		"AT+MODE?":   "+MODE:0\r\nOK\r\n",
		"AT+PERF?":   "+PERF:83\r\nOK\r\n",
		"AT+PROTO?":  "+PROTO:0\r\nOK\r\n",
		"AT+STATUS?": "+STATUS:OK,0,1234\r\nOK\r\n",
		"AT+INFO?":   "+INFO:WS-CAN-V1.0,FW1.2,HW1.0,SN123456\r\nOK\r\n",
	}
}

// FailOpen makes Open return err
func (f *FakeChannel) FailOpen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// FailWriteAt makes the n-th write (0-based) and every later one fail
func (f *FakeChannel) FailWriteAt(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite = n
}

// Break simulates the device disappearing
func (f *FakeChannel) Break() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = true
}

// BreakOn makes the device disappear right after command is written,
// before it answers
func (f *FakeChannel) BreakOn(command string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breakOn = command
}

// Inject queues unsolicited device output
func (f *FakeChannel) Inject(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer = append(f.buffer, data...)
}

// Written returns every command line written so far, without CRLF
func (f *FakeChannel) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// Open implements protocol.ByteChannel
func (f *FakeChannel) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return model.NewError(model.KindChannelUnavailable, "open", f.openErr)
	}
	f.open = true
	f.stats.IsConnected = true
	return nil
}

// Close implements protocol.ByteChannel
func (f *FakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.stats.IsConnected = false
	return nil
}

// IsOpen implements protocol.ByteChannel
func (f *FakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open && !f.broken
}

// Write implements protocol.ByteChannel
func (f *FakeChannel) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open || f.broken {
		return model.Errorf(model.KindChannelIO, "write", "channel closed")
	}
	if f.failWrite >= 0 && len(f.written) >= f.failWrite {
		f.stats.ErrorCount++
		return model.Errorf(model.KindChannelIO, "write", "device unplugged")
	}

	command := strings.TrimSuffix(string(data), "\r\n")
	f.written = append(f.written, command)
	f.stats.BytesWritten += int64(len(data))
	if f.breakOn != "" && command == f.breakOn {
		f.broken = true
		return nil
	}
	f.buffer = append(f.buffer, f.responder(command)...)
	return nil
}

// Read implements protocol.ByteChannel
func (f *FakeChannel) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken && len(f.buffer) == 0 {
		return nil, model.Errorf(model.KindChannelIO, "read", "device unplugged")
	}
	if maxBytes <= 0 || maxBytes > len(f.buffer) {
		maxBytes = len(f.buffer)
	}
	out := append([]byte(nil), f.buffer[:maxBytes]...)
	f.buffer = f.buffer[maxBytes:]
	f.stats.BytesRead += int64(len(out))
	return out, nil
}

// BytesAvailable implements protocol.ByteChannel
func (f *FakeChannel) BytesAvailable() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffer)
}

// Drain implements protocol.ByteChannel
func (f *FakeChannel) Drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer = nil
}

// GetProtocolType implements protocol.ByteChannel
func (f *FakeChannel) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// Stats implements protocol.ByteChannel
func (f *FakeChannel) Stats() protocol.ProtocolStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
