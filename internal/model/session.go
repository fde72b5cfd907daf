// internal/model/session.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the state of a bridge session
type SessionStatus string

const (
	SessionStatusConnected    SessionStatus = "CONNECTED"
	SessionStatusDisconnected SessionStatus = "DISCONNECTED"
	SessionStatusStale        SessionStatus = "STALE"
	SessionStatusBusy         SessionStatus = "BUSY"
)

// ConnectionType represents how the bridge is attached
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeUSB    ConnectionType = "USB"
	ConnectionTypeTCP    ConnectionType = "TCP"
)

// BridgeBrand identifies a bridge vendor
type BridgeBrand string

const (
	BrandWaveshare BridgeBrand = "WAVESHARE"
	BrandGeneric   BridgeBrand = "GENERIC"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// SessionInfo is the public view of a configuration session
type SessionInfo struct {
	ID               uuid.UUID      `json:"id"`
	Brand            BridgeBrand    `json:"brand"`
	Model            string         `json:"model"`
	ConnectionType   ConnectionType `json:"connection_type"`
	ConnectionConfig JSONObject     `json:"connection_config"`
	Status           SessionStatus  `json:"status"`
	ModeState        string         `json:"mode_state"`
	ConnectedAt      time.Time      `json:"connected_at"`
	LastOperationAt  *time.Time     `json:"last_operation_at,omitempty"`
	LastError        *string        `json:"last_error,omitempty"`
}

// IsConnected checks if the session can accept operations
func (s *SessionInfo) IsConnected() bool {
	return s.Status == SessionStatusConnected || s.Status == SessionStatusBusy
}
