// internal/driver/waveshare/detector.go
package waveshare

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"can-bridge-service/pkg/driver"
)

// ModeState is the detected command-mode state of the bridge
type ModeState int

const (
	ModeUnknown ModeState = iota
	ModeProbing
	ModeResponsive
	ModeTransparent
	ModeSwitchAttempt
	ModeConfigMode
	ModeStillTransparent
)

func (m ModeState) String() string {
	switch m {
	case ModeProbing:
		return "probing"
	case ModeResponsive:
		return "responsive"
	case ModeTransparent:
		return "transparent"
	case ModeSwitchAttempt:
		return "switch_attempt"
	case ModeConfigMode:
		return "config_mode"
	case ModeStillTransparent:
		return "still_transparent"
	default:
		return "unknown"
	}
}

// Accepting reports whether the bridge will answer AT queries in this state
func (m ModeState) Accepting() bool {
	return m == ModeResponsive || m == ModeConfigMode
}

// switchStrategy is one attempt at leaving transparent mode
type switchStrategy struct {
	name  string
	steps []switchStep
}

type switchStep struct {
	command string
	settle  time.Duration
}

// Detector figures out whether the bridge answers AT commands
type Detector struct {
	exchanger *Exchanger
	timing    driver.Timing
	logger    *zap.Logger
}

// NewDetector creates a mode detector
func NewDetector(exchanger *Exchanger, timing driver.Timing, logger *zap.Logger) *Detector {
	return &Detector{
		exchanger: exchanger,
		timing:    timing,
		logger:    logger,
	}
}

// Probe sends "AT" and falls back to the "+++" escape when the device is silent
func (d *Detector) Probe(ctx context.Context) (ModeState, string, error) {
	d.exchanger.Drain()

	response, err := d.exchanger.Exchange(ctx, AT_COMMANDS.ATTENTION, d.timing.ProbeTimeout)
	if err != nil {
		return ModeUnknown, response, err
	}
	if hasAck(response) {
		d.logger.Debug("Device answered AT probe")
		return ModeResponsive, response, nil
	}

	d.logger.Debug("No answer to AT probe, trying escape sequence")

	if err := d.exchanger.Send(ctx, AT_COMMANDS.ESCAPE); err != nil {
		return ModeUnknown, response, err
	}
	if err := sleep(ctx, d.timing.ProbeSettle); err != nil {
		return ModeUnknown, response, err
	}

	response, err = d.exchanger.Receive(ctx, d.timing.ProbeTimeout)
	if err != nil {
		return ModeUnknown, response, err
	}
	if hasAck(response) {
		return ModeResponsive, response, nil
	}

	return ModeTransparent, response, nil
}

func (d *Detector) strategies() []switchStrategy {
	return []switchStrategy{
		{
			name:  "escape_sequence",
			steps: []switchStep{{AT_COMMANDS.ESCAPE, d.timing.EscapeSettle}},
		},
		{
			name: "restart",
			steps: []switchStep{
				{AT_COMMANDS.RESTART, d.timing.RestartDelay},
				{AT_COMMANDS.ATTENTION, 0},
			},
		},
		{
			name:  "enter_at_mode",
			steps: []switchStep{{AT_COMMANDS.ENTER_AT, d.timing.EscapeSettle}},
		},
	}
}

// AttemptModeSwitch runs the switch strategies in order until one is acknowledged
// with OK. Silence is never an error.
func (d *Detector) AttemptModeSwitch(ctx context.Context) (ModeState, string, error) {
	for _, strategy := range d.strategies() {
		d.logger.Info("Attempting mode switch", zap.String("strategy", strategy.name))

		for _, step := range strategy.steps {
			if err := d.exchanger.Send(ctx, step.command); err != nil {
				return ModeSwitchAttempt, "", err
			}
			if err := sleep(ctx, step.settle); err != nil {
				return ModeSwitchAttempt, "", err
			}
		}

		response, err := d.exchanger.Receive(ctx, d.timing.SwitchRead)
		if err != nil {
			return ModeSwitchAttempt, "", err
		}
		if strings.Contains(response, tokenOK) {
			d.logger.Info("Mode switch succeeded", zap.String("strategy", strategy.name))
			return ModeConfigMode, strategy.name, nil
		}
	}

	d.logger.Warn("Device stayed in transparent mode")
	return ModeStillTransparent, "", nil
}
