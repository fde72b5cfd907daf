// pkg/driver/interfaces.go
package driver

import (
	"context"

	"can-bridge-service/internal/model"
)

// BridgeDriver is the interface every serial-to-CAN bridge driver implements
type BridgeDriver interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Mode handling
	Probe(ctx context.Context, allowSwitch bool) (*ProbeResult, error)

	// Parameter synchronization
	ReadAll(ctx context.Context, snapshot *model.Snapshot) (*SyncResult, error)
	ApplyAll(ctx context.Context, snapshot *model.Snapshot) (*ApplyResult, error)
	ApplyAdvanced(ctx context.Context, snapshot *model.Snapshot) (*ApplyResult, error)

	// Device control
	Reset(ctx context.Context) error
	SendCommand(ctx context.Context, command string) (string, error)

	// Health and monitoring
	GetHealthMetrics() (*HealthMetrics, error)

	// Event handling
	SetEventHandler(handler EventHandler)

	// Cleanup
	Close() error
}

// EventHandler receives driver-side events
type EventHandler interface {
	OnConnected(sessionID string)
	OnDisconnected(sessionID string, reason string)
	OnError(sessionID string, err error)
	OnModeChanged(sessionID string, oldState, newState string)
	OnSectionCompleted(sessionID string, section SectionResult)
}
