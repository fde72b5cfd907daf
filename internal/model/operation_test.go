// internal/model/operation_test.go
package model

import (
	"errors"
	"testing"
	"time"
)

func TestOperationFail(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus OperationStatus
		wantKind   string
	}{
		{"timeout", Errorf(KindTimeout, "apply", "no answer"), OperationStatusTimeout, string(KindTimeout)},
		{"channel", Errorf(KindChannelIO, "write", "unplugged"), OperationStatusFailed, string(KindChannelIO)},
		{"plain", errors.New("boom"), OperationStatusFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &SessionOperation{Status: OperationStatusProcessing, StartedAt: zeroTime}
			op.Fail(tt.err, zeroTime.Add(1500*time.Millisecond))

			if op.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", op.Status, tt.wantStatus)
			}
			if !op.IsCompleted() {
				t.Error("IsCompleted() = false")
			}
			if op.DurationMs == nil || *op.DurationMs != 1500 {
				t.Errorf("DurationMs = %v", op.DurationMs)
			}
			if tt.wantKind == "" && op.ErrorKind != nil {
				t.Errorf("ErrorKind = %q, want nil", *op.ErrorKind)
			}
			if tt.wantKind != "" && (op.ErrorKind == nil || *op.ErrorKind != tt.wantKind) {
				t.Errorf("ErrorKind = %v, want %s", op.ErrorKind, tt.wantKind)
			}
		})
	}
}

func TestBridgeErrorMatching(t *testing.T) {
	err := NewError(KindChannelIO, "read", errors.New("eof"))

	if !errors.Is(err, ErrChannelIO) {
		t.Error("errors.Is(err, ErrChannelIO) = false")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = true")
	}
	if got := err.Error(); got != "read: CHANNEL_IO_ERROR: eof" {
		t.Errorf("Error() = %q", got)
	}
}
