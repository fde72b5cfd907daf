// internal/model/codec_test.go
package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var zeroTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEncodeDecodeSnapshot(t *testing.T) {
	s := DefaultSnapshot(zeroTime)
	s.CanConfig.BaudRate = 250000
	s.CanConfig.CustomIDs = []string{"0x100"}
	_ = s.WorkingMode.SetMode(ModeFormat)

	data, err := EncodeSnapshot(s, zeroTime)
	if err != nil {
		t.Fatalf("EncodeSnapshot() error = %v", err)
	}
	if !strings.Contains(string(data), `"waveshare_device_parameters"`) {
		t.Fatalf("document has no root key:\n%s", data)
	}
	if strings.Contains(string(data), "0x100") {
		t.Error("custom IDs must not be persisted")
	}
	if !strings.Contains(string(data), `"timeout_ms": 2000`) {
		t.Errorf("uart timeout not stored as timeout_ms:\n%s", data)
	}

	doc, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}
	if doc.Version != DocumentVersion || doc.GeneratedBy != DocumentGenerator {
		t.Errorf("header = %q/%q", doc.Version, doc.GeneratedBy)
	}
	if doc.CanConfig.BaudRate != 250000 || doc.WorkingMode.ModeID != 2 {
		t.Errorf("decoded = %+v %+v", doc.CanConfig, doc.WorkingMode)
	}
}

func TestDecodeSnapshotErrors(t *testing.T) {
	tests := map[string]string{
		"not json":         "{",
		"missing root key": `{"device_parameters": {}}`,
		"wrong type":       `{"waveshare_device_parameters": {"uart_config": {"baud_rate": "fast"}}}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(input))
			if KindOf(err) != KindDecode {
				t.Fatalf("error = %v, want %s", err, KindDecode)
			}
		})
	}
}

func TestDecodeSnapshotKeepsDefaults(t *testing.T) {
	input := map[string]interface{}{
		DocumentRootKey: map[string]interface{}{
			"can_config": map[string]interface{}{"baud_rate": 1000000},
		},
	}
	data, _ := json.Marshal(input)

	doc, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}
	if doc.CanConfig.BaudRate != 1000000 {
		t.Errorf("CAN baud = %d", doc.CanConfig.BaudRate)
	}
	if doc.UartConfig.BaudRate != 115200 || doc.WorkingMode.Mode != ModeTransparent {
		t.Errorf("absent sections lost their defaults: %+v", doc.Snapshot)
	}
	if doc.CanConfig.FrameType != FrameStandard {
		t.Errorf("absent fields of a present section lost their defaults: %+v", doc.CanConfig)
	}
}
