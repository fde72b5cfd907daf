// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventSessionConnected    EventType = "SESSION_CONNECTED"
	EventSessionDisconnected EventType = "SESSION_DISCONNECTED"
	EventSessionError        EventType = "SESSION_ERROR"
	EventModeChanged         EventType = "MODE_CHANGED"
	EventOperationStarted    EventType = "OPERATION_STARTED"
	EventSectionCompleted    EventType = "SECTION_COMPLETED"
	EventOperationCompleted  EventType = "OPERATION_COMPLETED"
	EventOperationFailed     EventType = "OPERATION_FAILED"
	EventConfigUpdate        EventType = "CONFIG_UPDATE"
)

// BridgeEvent represents an event raised by a session
type BridgeEvent struct {
	ID        uuid.UUID  `json:"id"`
	EventType EventType  `json:"event_type"`
	SessionID uuid.UUID  `json:"session_id"`
	Data      JSONObject `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
	Severity  string     `json:"severity"` // INFO, WARNING, ERROR
}

// NewBridgeEvent creates an INFO event
func NewBridgeEvent(eventType EventType, sessionID uuid.UUID, data JSONObject) BridgeEvent {
	return BridgeEvent{
		ID:        uuid.New(),
		EventType: eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now(),
		Source:    "session-service",
		Severity:  "INFO",
	}
}

// SectionEventData describes one finished section of a sync run
type SectionEventData struct {
	OperationID uuid.UUID `json:"operation_id"`
	Section     string    `json:"section"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// OperationEventData represents operation-related events
type OperationEventData struct {
	OperationID   uuid.UUID       `json:"operation_id"`
	OperationType OperationType   `json:"operation_type"`
	Status        OperationStatus `json:"status"`
	Duration      *int            `json:"duration_ms,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
}
