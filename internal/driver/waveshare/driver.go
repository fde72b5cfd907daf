// internal/driver/waveshare/driver.go
package waveshare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
	"can-bridge-service/internal/utils"
	"can-bridge-service/pkg/driver"
)

// WaveshareDriver implements driver.BridgeDriver for Waveshare RS232/485/422 to CAN bridges
type WaveshareDriver struct {
	sessionID     string
	channel       protocol.ByteChannel
	engine        *Engine
	logger        *utils.SessionLogger
	eventHandler  driver.EventHandler
	isConnected   bool
	healthMetrics *driver.HealthMetrics
	mutex         sync.RWMutex
}

// NewWaveshareDriver creates a driver over an unopened channel
func NewWaveshareDriver(info *model.SessionInfo, channel protocol.ByteChannel, opts driver.Options, logger *zap.Logger) (driver.BridgeDriver, error) {
	if channel == nil {
		return nil, fmt.Errorf("channel is required")
	}

	sessionID := opts.SessionID
	if sessionID == "" && info != nil {
		sessionID = info.ID.String()
	}

	sessionLogger := utils.NewSessionLogger(logger, sessionID, string(channel.GetProtocolType()))
	exchanger := NewExchanger(channel, opts.Timing.PollInterval, sessionLogger.Logger)

	d := &WaveshareDriver{
		sessionID:     sessionID,
		channel:       channel,
		engine:        NewEngine(exchanger, opts, sessionLogger.Logger),
		logger:        sessionLogger,
		healthMetrics: &driver.HealthMetrics{},
	}

	d.engine.OnSection(func(result driver.SectionResult) {
		if handler := d.handler(); handler != nil {
			handler.OnSectionCompleted(d.sessionID, result)
		}
	})
	d.engine.OnModeChange(func(oldState, newState ModeState) {
		d.logger.LogModeChange(oldState.String(), newState.String())
		if handler := d.handler(); handler != nil {
			handler.OnModeChanged(d.sessionID, oldState.String(), newState.String())
		}
	})

	return d, nil
}

// Connect opens the underlying channel
func (d *WaveshareDriver) Connect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.isConnected {
		return nil
	}

	startTime := time.Now()
	if err := d.channel.Open(ctx); err != nil {
		d.updateHealthMetrics(false, time.Since(startTime))
		d.logger.LogConnection("connect_failed", zap.Error(err))
		return err
	}

	d.isConnected = true
	d.updateHealthMetrics(true, time.Since(startTime))
	d.logger.LogConnection("connected")

	if d.eventHandler != nil {
		d.eventHandler.OnConnected(d.sessionID)
	}
	return nil
}

// Disconnect closes the underlying channel
func (d *WaveshareDriver) Disconnect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return nil
	}

	if err := d.channel.Close(); err != nil {
		d.logger.Error("Failed to close channel", zap.Error(err))
	}
	d.isConnected = false
	d.logger.LogConnection("disconnected")

	if d.eventHandler != nil {
		d.eventHandler.OnDisconnected(d.sessionID, "manual disconnect")
	}
	return nil
}

// IsConnected reports whether the channel is open and healthy
func (d *WaveshareDriver) IsConnected() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.isConnected && d.channel.IsOpen()
}

// Probe detects whether the bridge answers AT commands
func (d *WaveshareDriver) Probe(ctx context.Context, allowSwitch bool) (*driver.ProbeResult, error) {
	var result *driver.ProbeResult
	err := d.run("probe", func() error {
		var err error
		result, err = d.engine.Probe(ctx, allowSwitch)
		return err
	})
	return result, err
}

// ReadAll reads the six parameter sections into snapshot
func (d *WaveshareDriver) ReadAll(ctx context.Context, snapshot *model.Snapshot) (*driver.SyncResult, error) {
	var result *driver.SyncResult
	err := d.run("read_all", func() error {
		var err error
		result, err = d.engine.ReadAll(ctx, snapshot)
		return err
	})
	return result, err
}

// ApplyAll writes the basic parameters and saves them
func (d *WaveshareDriver) ApplyAll(ctx context.Context, snapshot *model.Snapshot) (*driver.ApplyResult, error) {
	var result *driver.ApplyResult
	err := d.run("apply_all", func() error {
		var err error
		result, err = d.engine.ApplyAll(ctx, snapshot)
		return err
	})
	return result, err
}

// ApplyAdvanced writes the advanced CAN parameters and saves them
func (d *WaveshareDriver) ApplyAdvanced(ctx context.Context, snapshot *model.Snapshot) (*driver.ApplyResult, error) {
	var result *driver.ApplyResult
	err := d.run("apply_advanced", func() error {
		var err error
		result, err = d.engine.ApplyAdvanced(ctx, snapshot)
		return err
	})
	return result, err
}

// Reset restarts the bridge
func (d *WaveshareDriver) Reset(ctx context.Context) error {
	return d.run("reset", func() error {
		return d.engine.Reset(ctx)
	})
}

// SendCommand sends one raw AT command and returns the device answer
func (d *WaveshareDriver) SendCommand(ctx context.Context, command string) (string, error) {
	var response string
	err := d.run("send_command", func() error {
		var err error
		response, err = d.engine.SendRaw(ctx, command)
		return err
	})
	if err == nil {
		d.logger.LogCommand(command, len(response))
	}
	return response, err
}

// GetHealthMetrics returns a copy of the health metrics
func (d *WaveshareDriver) GetHealthMetrics() (*driver.HealthMetrics, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	metrics := *d.healthMetrics
	stats := d.channel.Stats()
	metrics.BytesWritten = stats.BytesWritten
	metrics.BytesRead = stats.BytesRead
	return &metrics, nil
}

// SetEventHandler sets the event handler
func (d *WaveshareDriver) SetEventHandler(handler driver.EventHandler) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.eventHandler = handler
}

// Close cleans up resources
func (d *WaveshareDriver) Close() error {
	return d.Disconnect(context.Background())
}

// ModeState returns the last detected device mode
func (d *WaveshareDriver) ModeState() ModeState {
	return d.engine.State()
}

// run executes one engine operation. Callers serialize operations per
// session, so the engine is never entered concurrently.
func (d *WaveshareDriver) run(op string, fn func() error) error {
	if !d.IsConnected() {
		return model.Errorf(model.KindChannelIO, op, "session is not connected")
	}

	startTime := time.Now()
	err := fn()

	d.mutex.Lock()
	d.updateHealthMetrics(err == nil, time.Since(startTime))
	handler := d.eventHandler
	d.mutex.Unlock()

	if err != nil && handler != nil {
		handler.OnError(d.sessionID, err)
	}
	return err
}

func (d *WaveshareDriver) handler() driver.EventHandler {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.eventHandler
}

func (d *WaveshareDriver) updateHealthMetrics(success bool, responseTime time.Duration) {
	d.healthMetrics.TotalOperations++
	d.healthMetrics.ResponseTime = responseTime

	now := time.Now()
	if success {
		d.healthMetrics.LastSuccessTime = &now
	} else {
		d.healthMetrics.ErrorCount++
		d.healthMetrics.LastErrorTime = &now
	}
	d.healthMetrics.SuccessRate = float64(d.healthMetrics.TotalOperations-d.healthMetrics.ErrorCount) / float64(d.healthMetrics.TotalOperations)

	d.healthMetrics.HealthScore = int(d.healthMetrics.SuccessRate * 100)
	if responseTime > 10*time.Second {
		d.healthMetrics.HealthScore -= 10
	}
	if d.healthMetrics.HealthScore < 0 {
		d.healthMetrics.HealthScore = 0
	}
}
