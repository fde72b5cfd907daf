// internal/model/profile.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConfigProfile is a named snapshot kept for reuse across sessions
type ConfigProfile struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description" db:"description"`
	Snapshot    Snapshot  `json:"snapshot" db:"snapshot"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Scan reads a snapshot from a JSONB column
func (s *Snapshot) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported snapshot column type %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value writes a snapshot to a JSONB column
func (s Snapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}
