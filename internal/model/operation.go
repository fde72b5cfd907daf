// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType represents the type of session operation
type OperationType string

const (
	OperationTypeProbe         OperationType = "PROBE"
	OperationTypeReadAll       OperationType = "READ_ALL"
	OperationTypeApplyAll      OperationType = "APPLY_ALL"
	OperationTypeApplyAdvanced OperationType = "APPLY_ADVANCED"
	OperationTypeReset         OperationType = "RESET"
	OperationTypeSendCommand   OperationType = "SEND_COMMAND"
	OperationTypeLoadSnapshot  OperationType = "LOAD_SNAPSHOT"
)

// OperationStatus represents the status of an operation
type OperationStatus string

const (
	OperationStatusPending    OperationStatus = "PENDING"
	OperationStatusProcessing OperationStatus = "PROCESSING"
	OperationStatusSuccess    OperationStatus = "SUCCESS"
	OperationStatusPartial    OperationStatus = "PARTIAL"
	OperationStatusDegraded   OperationStatus = "DEGRADED"
	OperationStatusFailed     OperationStatus = "FAILED"
	OperationStatusTimeout    OperationStatus = "TIMEOUT"
)

// SessionOperation records one operation run against a bridge session
type SessionOperation struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	SessionID     uuid.UUID       `json:"session_id" db:"session_id"`
	OperationType OperationType   `json:"operation_type" db:"operation_type"`
	OperationData JSONObject      `json:"operation_data" db:"operation_data"`
	Status        OperationStatus `json:"status" db:"status"`
	SuccessCount  int             `json:"success_count" db:"success_count"`
	Total         int             `json:"total" db:"total"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at" db:"completed_at"`
	DurationMs    *int            `json:"duration_ms" db:"duration_ms"`
	ErrorKind     *string         `json:"error_kind" db:"error_kind"`
	ErrorMessage  *string         `json:"error_message" db:"error_message"`
	Result        JSONObject      `json:"result" db:"result"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// IsCompleted checks if operation reached a terminal status
func (op *SessionOperation) IsCompleted() bool {
	switch op.Status {
	case OperationStatusPending, OperationStatusProcessing:
		return false
	}
	return true
}

// Complete stamps the terminal status and duration
func (op *SessionOperation) Complete(status OperationStatus, now time.Time) {
	op.Status = status
	op.CompletedAt = &now
	duration := int(now.Sub(op.StartedAt).Milliseconds())
	op.DurationMs = &duration
}

// Fail stamps a failed terminal status with the error
func (op *SessionOperation) Fail(err error, now time.Time) {
	status := OperationStatusFailed
	if KindOf(err) == KindTimeout {
		status = OperationStatusTimeout
	}
	op.Complete(status, now)

	msg := err.Error()
	op.ErrorMessage = &msg
	if kind := KindOf(err); kind != "" {
		k := string(kind)
		op.ErrorKind = &k
	}
}
