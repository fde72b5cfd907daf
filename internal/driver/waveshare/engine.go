// internal/driver/waveshare/engine.go
package waveshare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"can-bridge-service/internal/model"
	"can-bridge-service/pkg/driver"
)

// SectionObserver is told about each finished read section
type SectionObserver func(result driver.SectionResult)

// ModeObserver is told about every detected mode change
type ModeObserver func(oldState, newState ModeState)

// Engine runs the ordered read and apply sequences against one bridge
type Engine struct {
	exchanger           *Exchanger
	detector            *Detector
	timing              driver.Timing
	host                driver.HostDefaults
	requireConfirmation bool
	logger              *zap.Logger
	now                 func() time.Time

	state     atomic.Int32
	onSection SectionObserver
	onMode    ModeObserver
}

// NewEngine creates a synchronization engine
func NewEngine(exchanger *Exchanger, opts driver.Options, logger *zap.Logger) *Engine {
	return &Engine{
		exchanger:           exchanger,
		detector:            NewDetector(exchanger, opts.Timing, logger),
		timing:              opts.Timing,
		host:                opts.Host,
		requireConfirmation: opts.RequireConfirmation,
		logger:              logger,
		now:                 time.Now,
	}
}

// OnSection registers a section observer
func (e *Engine) OnSection(observer SectionObserver) {
	e.onSection = observer
}

// OnModeChange registers a mode observer
func (e *Engine) OnModeChange(observer ModeObserver) {
	e.onMode = observer
}

// State returns the last detected mode
func (e *Engine) State() ModeState {
	return ModeState(e.state.Load())
}

func (e *Engine) setState(state ModeState) {
	old := ModeState(e.state.Swap(int32(state)))
	if old == state {
		return
	}
	if e.onMode != nil {
		e.onMode(old, state)
	}
}

// Probe detects the device mode, optionally trying to leave transparent mode
func (e *Engine) Probe(ctx context.Context, allowSwitch bool) (*driver.ProbeResult, error) {
	e.setState(ModeProbing)

	state, response, err := e.detector.Probe(ctx)
	if err != nil {
		e.setState(ModeUnknown)
		return nil, err
	}
	e.setState(state)

	result := &driver.ProbeResult{Response: strings.TrimSpace(response)}
	if state == ModeTransparent && allowSwitch {
		e.setState(ModeSwitchAttempt)
		state, result.SwitchStrategy, err = e.detector.AttemptModeSwitch(ctx)
		if err != nil {
			e.setState(ModeUnknown)
			return nil, err
		}
		e.setState(state)
	}

	result.ModeState = state.String()
	result.Responsive = state.Accepting()
	return result, nil
}

// ReadAll reads all six sections into snapshot. When the device never
// answers, the snapshot is filled from host defaults and the result is
// marked degraded.
func (e *Engine) ReadAll(ctx context.Context, snapshot *model.Snapshot) (*driver.SyncResult, error) {
	startTime := time.Now()

	probe, err := e.Probe(ctx, true)
	if err != nil {
		return nil, err
	}

	result := &driver.SyncResult{
		Total:          len(readSections),
		ModeState:      probe.ModeState,
		SwitchStrategy: probe.SwitchStrategy,
		Snapshot:       snapshot,
	}

	if !probe.Responsive {
		e.logger.Warn("Device does not answer AT commands, using host parameters")
		e.populateFromHostDefaults(snapshot)
		result.Degraded = true
		result.Duration = time.Since(startTime)
		return result, nil
	}

	for i, sec := range readSections {
		if i > 0 {
			if err := sleep(ctx, e.timing.SectionDelay); err != nil {
				return result, err
			}
		}

		sectionResult, err := e.readSection(ctx, sec, snapshot)
		if err != nil {
			result.Duration = time.Since(startTime)
			return result, err
		}

		result.Sections = append(result.Sections, sectionResult)
		if sectionResult.Success {
			result.SuccessCount++
			snapshot.Touch(e.now())
		}
		if e.onSection != nil {
			e.onSection(sectionResult)
		}
	}

	result.Duration = time.Since(startTime)
	e.logger.Info("Parameter read finished",
		zap.Int("success_count", result.SuccessCount),
		zap.Int("total", result.Total),
		zap.Bool("succeeded", result.Succeeded()),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// readSection runs every query of sec. Each parser commits on its own, so
// a section failing halfway keeps what its earlier queries read. Only
// channel failures are returned as errors.
func (e *Engine) readSection(ctx context.Context, sec section, snapshot *model.Snapshot) (driver.SectionResult, error) {
	result := driver.SectionResult{Name: sec.name, Success: true}
	var failures []string

	for _, q := range sec.queries {
		response, err := e.exchanger.Exchange(ctx, q.command, e.timing.ReadTimeout)
		if err != nil {
			if model.KindOf(err) == model.KindChannelIO || errors.Is(err, context.Canceled) {
				return driver.SectionResult{}, err
			}
			result.Success = false
			failures = append(failures, err.Error())
			break
		}

		if !strings.Contains(response, tokenOK) && !strings.Contains(response, q.prefix) {
			result.Success = false
			failures = append(failures, fmt.Sprintf("no answer to %s", describeQuery(q)))
			continue
		}

		if _, err := q.parse(response, snapshot); err != nil {
			result.Success = false
			failures = append(failures, err.Error())
			break
		}
	}

	if result.Success {
		e.logger.Debug("Section read", zap.String("section", sec.name))
	} else {
		result.Error = strings.Join(failures, "; ")
		e.logger.Warn("Section read failed",
			zap.String("section", sec.name),
			zap.String("error", result.Error),
		)
	}
	return result, nil
}

// populateFromHostDefaults fills the snapshot from the values the host
// connected with
func (e *Engine) populateFromHostDefaults(snapshot *model.Snapshot) {
	if e.host.UARTBaudRate > 0 {
		snapshot.UartConfig.BaudRate = e.host.UARTBaudRate
	}
	if e.host.CANBaudRate > 0 {
		snapshot.CanConfig.BaudRate = e.host.CANBaudRate
	}

	mode := snapshot.WorkingMode
	if err := mode.SetMode(e.host.Mode); err != nil {
		mode.SetModeID(0)
	}
	snapshot.WorkingMode = mode

	snapshot.Performance.TargetRate = 83
	snapshot.Performance.Optimization = "transparent_mode"

	snapshot.Status.Connected = true
	snapshot.Status.Source = model.SourceInterfaceParameters
	snapshot.Touch(e.now())
}

// ApplyAll writes the basic parameter set and saves it on the device
func (e *Engine) ApplyAll(ctx context.Context, snapshot *model.Snapshot) (*driver.ApplyResult, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	can := snapshot.CanConfig
	commands := []string{
		setUART(snapshot.UartConfig),
		setCAN(can.BaudRate),
		setID(can.CanID),
		setFilter(can.FilterID, can.MaskID),
		setMode(snapshot.WorkingMode.ModeID),
		setPerf(snapshot.Performance.TargetRate),
	}

	return e.apply(ctx, "apply_all", commands)
}

// ApplyAdvanced writes the frame, filter and direction parameters
func (e *Engine) ApplyAdvanced(ctx context.Context, snapshot *model.Snapshot) (*driver.ApplyResult, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	can := snapshot.CanConfig
	commands := []string{
		setFrame(can.FrameType),
		setID(can.CanID),
	}
	if can.EnableFilters {
		commands = append(commands, setFilterOnly(can.FilterID), setMask(can.MaskID))
	}
	commands = append(commands,
		setMode(snapshot.WorkingMode.ModeID),
		setDirection(snapshot.WorkingMode.Direction),
		setLength(snapshot.WorkingMode.FrameLength),
		setPerf(snapshot.Performance.TargetRate),
	)

	return e.apply(ctx, "apply_advanced", commands)
}

// apply sends commands in order followed by AT+SAVE. The first failure
// stops the sequence; Applied lists what was written before it.
func (e *Engine) apply(ctx context.Context, op string, commands []string) (*driver.ApplyResult, error) {
	commands = append(commands, AT_COMMANDS.SAVE)
	result := &driver.ApplyResult{
		Applied:   make([]string, 0, len(commands)),
		Total:     len(commands),
		Confirmed: e.requireConfirmation,
	}

	e.exchanger.Drain()

	for i, command := range commands {
		if i > 0 {
			if err := sleep(ctx, e.timing.CommandDelay); err != nil {
				return result, err
			}
		}

		if err := e.exchanger.Send(ctx, command); err != nil {
			e.logger.Error("Apply aborted",
				zap.String("command", command),
				zap.Int("applied", len(result.Applied)),
				zap.Error(err),
			)
			return result, model.NewError(model.KindChannelIO, op, fmt.Errorf("%s: %w", command, err))
		}

		if e.requireConfirmation {
			if err := e.confirm(ctx, op, command); err != nil {
				return result, err
			}
		}

		result.Applied = append(result.Applied, command)
	}

	if err := sleep(ctx, e.timing.SaveDelay); err != nil {
		return result, err
	}

	e.logger.Info("Parameters applied",
		zap.String("operation", op),
		zap.Int("commands", len(result.Applied)),
	)
	return result, nil
}

func (e *Engine) confirm(ctx context.Context, op, command string) error {
	response, err := e.exchanger.Receive(ctx, e.timing.ReadTimeout)
	if err != nil {
		return err
	}
	switch {
	case strings.Contains(response, tokenOK):
		return nil
	case strings.Contains(response, tokenError):
		return model.Errorf(model.KindMalformedResponse, op, "%s rejected: %s", command, strings.TrimSpace(response))
	case response == "":
		return model.Errorf(model.KindTimeout, op, "no confirmation for %s", command)
	default:
		return model.Errorf(model.KindMalformedResponse, op, "unexpected answer to %s: %q", command, strings.TrimSpace(response))
	}
}

// Reset restarts the device and waits for it to come back
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.exchanger.Send(ctx, AT_COMMANDS.RESTART); err != nil {
		return err
	}
	e.setState(ModeUnknown)
	return sleep(ctx, e.timing.ResetDelay)
}

// SendRaw performs one exchange and returns the response verbatim
func (e *Engine) SendRaw(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", model.Errorf(model.KindValidation, "send_command", "command is empty")
	}
	e.exchanger.Drain()
	return e.exchanger.Exchange(ctx, command, e.timing.ReadTimeout)
}
