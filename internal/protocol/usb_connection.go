// internal/protocol/usb_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"can-bridge-service/internal/model"
)

// USBConnection implements ByteChannel over vendor bulk endpoints
type USBConnection struct {
	config   *USBConfig
	ctx      *gousb.Context
	device   *gousb.Device
	cfg      *gousb.Config
	intf     *gousb.Interface
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool
	cancel   context.CancelFunc
	done     chan struct{}
	rx       *rxBuffer
	stats    *channelStats
}

// NewUSBConnection creates a new USB connection
func NewUSBConnection(config *USBConfig, logger *zap.Logger) ByteChannel {
	return &USBConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "usb"),
			zap.String("vendor_id", config.VendorID),
			zap.String("product_id", config.ProductID),
		),
		rx:    &rxBuffer{},
		stats: &channelStats{},
	}
}

// Open claims the interface and starts the receive pump
func (uc *USBConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}

	uc.logger.Info("Opening USB connection",
		zap.Int("config", uc.config.Config),
		zap.Int("interface", uc.config.Interface),
		zap.Int("in_endpoint", uc.config.InEndpoint),
		zap.Int("out_endpoint", uc.config.OutEndpoint),
	)

	vendorID, err := parseUSBID(uc.config.VendorID)
	if err != nil {
		return model.NewError(model.KindChannelUnavailable, "open", fmt.Errorf("invalid vendor ID: %w", err))
	}
	productID, err := parseUSBID(uc.config.ProductID)
	if err != nil {
		return model.NewError(model.KindChannelUnavailable, "open", fmt.Errorf("invalid product ID: %w", err))
	}

	uc.ctx = gousb.NewContext()

	if err := uc.claim(vendorID, productID); err != nil {
		uc.release()
		return model.NewError(model.KindChannelUnavailable, "open", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	uc.cancel = cancel
	uc.done = make(chan struct{})
	uc.isOpen = true
	uc.rx.reset()
	uc.stats.setConnected(true)

	reader := &endpointReader{ctx: readCtx, endpoint: uc.inEndpt}
	go pump(reader, uc.rx, uc.stats, uc.done, isUSBTimeout, uc.logger)

	uc.logger.Info("USB connection opened successfully")
	return nil
}

func (uc *USBConnection) claim(vendorID, productID gousb.ID) error {
	device, err := uc.ctx.OpenDeviceWithVIDPID(vendorID, productID)
	if err != nil {
		return fmt.Errorf("failed to open USB device: %w", err)
	}
	if device == nil {
		return fmt.Errorf("USB device not found (VID: %04X, PID: %04X)", vendorID, productID)
	}
	uc.device = device

	if err := device.SetAutoDetach(true); err != nil {
		uc.logger.Warn("Kernel driver auto-detach unavailable", zap.Error(err))
	}

	cfg, err := device.Config(uc.config.Config)
	if err != nil {
		return fmt.Errorf("failed to select configuration %d: %w", uc.config.Config, err)
	}
	uc.cfg = cfg

	intf, err := cfg.Interface(uc.config.Interface, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", uc.config.Interface, err)
	}
	uc.intf = intf

	outEndpt, err := intf.OutEndpoint(uc.config.OutEndpoint)
	if err != nil {
		return fmt.Errorf("failed to get out endpoint: %w", err)
	}
	inEndpt, err := intf.InEndpoint(uc.config.InEndpoint)
	if err != nil {
		return fmt.Errorf("failed to get in endpoint: %w", err)
	}

	uc.outEndpt = outEndpt
	uc.inEndpt = inEndpt
	return nil
}

func (uc *USBConnection) release() {
	if uc.intf != nil {
		uc.intf.Close()
		uc.intf = nil
	}
	if uc.cfg != nil {
		uc.cfg.Close()
		uc.cfg = nil
	}
	if uc.device != nil {
		uc.device.Close()
		uc.device = nil
	}
	if uc.ctx != nil {
		uc.ctx.Close()
		uc.ctx = nil
	}
	uc.outEndpt = nil
	uc.inEndpt = nil
}

// Close releases the interface and the device
func (uc *USBConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen {
		return nil
	}

	close(uc.done)
	uc.cancel()
	uc.release()

	uc.isOpen = false
	uc.stats.setConnected(false)

	uc.logger.Info("USB connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open and the pump is healthy
func (uc *USBConnection) IsOpen() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.isOpen && uc.outEndpt != nil && uc.rx.failure() == nil
}

// Write writes data to the bulk OUT endpoint
func (uc *USBConnection) Write(ctx context.Context, data []byte) error {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.outEndpt == nil {
		return model.Errorf(model.KindChannelIO, "write", "USB connection not open")
	}
	if err := uc.rx.failure(); err != nil {
		return model.NewError(model.KindChannelIO, "write", err)
	}

	writeCtx := ctx
	if uc.config.Timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, uc.config.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	n, err := uc.outEndpt.WriteContext(writeCtx, data)
	if err != nil {
		uc.stats.recordError()
		uc.logger.Error("USB write failed", zap.Error(err))
		return model.NewError(model.KindChannelIO, "write", err)
	}
	if n != len(data) {
		uc.stats.recordError()
		return model.Errorf(model.KindChannelIO, "write", "incomplete write: wrote %d of %d bytes", n, len(data))
	}

	uc.stats.recordWrite(n, time.Since(startTime))
	uc.logger.Debug("USB write completed", zap.Int("bytes", n))
	return nil
}

// Read returns up to maxBytes buffered bytes without blocking
func (uc *USBConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen {
		return nil, model.Errorf(model.KindChannelIO, "read", "USB connection not open")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := uc.rx.take(maxBytes)
	if err != nil {
		return nil, model.NewError(model.KindChannelIO, "read", err)
	}
	return data, nil
}

// BytesAvailable reports how many received bytes are waiting
func (uc *USBConnection) BytesAvailable() int {
	return uc.rx.available()
}

// Drain discards buffered input
func (uc *USBConnection) Drain() {
	uc.rx.clear()
}

// GetProtocolType returns the protocol type
func (uc *USBConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeUSB
}

// Stats returns a copy of the channel statistics
func (uc *USBConnection) Stats() ProtocolStats {
	return uc.stats.snapshot()
}

// endpointReader adapts a bulk IN endpoint to io.Reader
type endpointReader struct {
	ctx      context.Context
	endpoint *gousb.InEndpoint
}

func (r *endpointReader) Read(p []byte) (int, error) {
	n, err := r.endpoint.ReadContext(r.ctx, p)
	if err != nil && r.ctx.Err() != nil {
		return n, r.ctx.Err()
	}
	return n, err
}

func isUSBTimeout(err error) bool {
	return errors.Is(err, gousb.TransferTimedOut)
}

// parseUSBID parses hex ID string (0x1234 or 1234)
func parseUSBID(hexStr string) (gousb.ID, error) {
	hexStr = strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")

	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}
