// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"can-bridge-service/internal/model"
)

// SerialConnection implements ByteChannel over a serial port
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	done   chan struct{}
	rx     *rxBuffer
	stats  *channelStats
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) ByteChannel {
	return &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
		rx:    &rxBuffer{},
		stats: &channelStats{},
	}
}

// Open opens the serial port and starts the receive pump
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
		zap.Int("data_bits", sc.config.DataBits),
		zap.Int("stop_bits", sc.config.StopBits),
		zap.String("parity", sc.config.Parity),
	)

	mode := &serial.Mode{
		BaudRate: sc.config.BaudRate,
		DataBits: sc.config.DataBits,
		StopBits: serialStopBits(sc.config.StopBits),
		Parity:   serialParity(sc.config.Parity),
	}

	port, err := serial.Open(sc.config.Port, mode)
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return model.NewError(model.KindChannelUnavailable, "open", fmt.Errorf("failed to open serial port %s: %w", sc.config.Port, err))
	}

	// The pump relies on the read timeout to notice Close.
	if err := port.SetReadTimeout(sc.config.ReadTimeout); err != nil {
		port.Close()
		return model.NewError(model.KindChannelUnavailable, "open", fmt.Errorf("failed to set read timeout: %w", err))
	}

	sc.port = port
	sc.isOpen = true
	sc.done = make(chan struct{})
	sc.rx.reset()
	sc.stats.setConnected(true)

	go pump(port, sc.rx, sc.stats, sc.done, nil, sc.logger)

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial port
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	close(sc.done)
	err := sc.port.Close()

	sc.port = nil
	sc.isOpen = false
	sc.stats.setConnected(false)

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the port is open and the pump is healthy
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil && sc.rx.failure() == nil
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(ctx context.Context, data []byte) error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return model.Errorf(model.KindChannelIO, "write", "serial port not open")
	}
	if err := sc.rx.failure(); err != nil {
		return model.NewError(model.KindChannelIO, "write", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.recordError()
		sc.logger.Error("Serial write failed", zap.Error(err))
		return model.NewError(model.KindChannelIO, "write", err)
	}
	if n != len(data) {
		sc.stats.recordError()
		return model.Errorf(model.KindChannelIO, "write", "incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.stats.recordWrite(n, time.Since(startTime))
	sc.logger.Debug("Serial write completed", zap.Int("bytes", n))
	return nil
}

// Read returns up to maxBytes buffered bytes without blocking
func (sc *SerialConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return nil, model.Errorf(model.KindChannelIO, "read", "serial port not open")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := sc.rx.take(maxBytes)
	if err != nil {
		return nil, model.NewError(model.KindChannelIO, "read", err)
	}
	return data, nil
}

// BytesAvailable reports how many received bytes are waiting
func (sc *SerialConnection) BytesAvailable() int {
	return sc.rx.available()
}

// Drain discards stale input on the host and driver side
func (sc *SerialConnection) Drain() {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if sc.port != nil {
		if err := sc.port.ResetInputBuffer(); err != nil {
			sc.logger.Debug("Failed to reset serial input buffer", zap.Error(err))
		}
	}
	sc.rx.clear()
}

// GetProtocolType returns the protocol type
func (sc *SerialConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// Stats returns a copy of the channel statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	return sc.stats.snapshot()
}

func serialParity(parity string) serial.Parity {
	switch parity {
	case "O", "odd":
		return serial.OddParity
	case "E", "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func serialStopBits(stopBits int) serial.StopBits {
	if stopBits == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
