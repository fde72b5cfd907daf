// internal/protocol/factory_test.go
package protocol

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/model"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		connType model.ConnectionType
		config   map[string]interface{}
		wantErr  bool
	}{
		{"serial ok", model.ConnectionTypeSerial, map[string]interface{}{"port": "/dev/ttyUSB0", "baud_rate": float64(115200)}, false},
		{"serial missing port", model.ConnectionTypeSerial, map[string]interface{}{"baud_rate": 9600}, true},
		{"serial bad baud", model.ConnectionTypeSerial, map[string]interface{}{"port": "COM3", "baud_rate": 12345}, true},
		{"serial bad parity", model.ConnectionTypeSerial, map[string]interface{}{"port": "COM3", "parity": "X"}, true},
		{"tcp ok", model.ConnectionTypeTCP, map[string]interface{}{"host": "10.0.0.7", "port": 4196}, false},
		{"tcp missing host", model.ConnectionTypeTCP, map[string]interface{}{"port": 4196}, true},
		{"tcp bad port", model.ConnectionTypeTCP, map[string]interface{}{"host": "10.0.0.7", "port": 70000}, true},
		{"usb ok", model.ConnectionTypeUSB, map[string]interface{}{"vendor_id": "0x1a86", "product_id": "0x7523"}, false},
		{"usb missing product", model.ConnectionTypeUSB, map[string]interface{}{"vendor_id": "0x1a86"}, true},
		{"unknown type", model.ConnectionType("BLUETOOTH"), map[string]interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.connType, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && model.KindOf(err) != model.KindValidation {
				t.Errorf("error kind = %s, want %s", model.KindOf(err), model.KindValidation)
			}
		})
	}
}

func TestParseSerialConfigDefaults(t *testing.T) {
	cfg := ParseSerialConfig(map[string]interface{}{"port": "/dev/ttyUSB0"})

	if cfg.BaudRate != 115200 || cfg.DataBits != 8 || cfg.StopBits != 1 || cfg.Parity != "N" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReadTimeout != 50*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 50ms", cfg.ReadTimeout)
	}

	cfg = ParseSerialConfig(map[string]interface{}{
		"port":         "COM4",
		"baud_rate":    float64(9600),
		"parity":       "E",
		"read_timeout": "0s",
	})
	if cfg.BaudRate != 9600 || cfg.Parity != "E" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.ReadTimeout != 50*time.Millisecond {
		t.Error("a zero read timeout must fall back to the default")
	}
}

func TestCreateChannel(t *testing.T) {
	logger := zaptest.NewLogger(t)

	ch, err := CreateChannel(model.ConnectionTypeTCP, map[string]interface{}{"host": "127.0.0.1"}, logger)
	if err != nil {
		t.Fatalf("CreateChannel(TCP) error = %v", err)
	}
	if ch.GetProtocolType() != model.ConnectionTypeTCP {
		t.Errorf("protocol type = %s", ch.GetProtocolType())
	}
	if ch.IsOpen() {
		t.Error("a new channel must not be open")
	}

	ch, err = CreateChannel(model.ConnectionTypeSerial, map[string]interface{}{"port": "/dev/ttyS9"}, logger)
	if err != nil {
		t.Fatalf("CreateChannel(SERIAL) error = %v", err)
	}
	if ch.GetProtocolType() != model.ConnectionTypeSerial {
		t.Errorf("protocol type = %s", ch.GetProtocolType())
	}

	if _, err := CreateChannel(model.ConnectionTypeSerial, map[string]interface{}{}, logger); err == nil {
		t.Error("expected validation error for serial config without port")
	}
}

func TestParseUSBID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"0x1a86", 0x1a86, false},
		{"7523", 0x7523, false},
		{"0XFFFF", 0xFFFF, false},
		{"0x12345", 0, true},
		{"zz", 0, true},
	}
	for _, tt := range tests {
		got, err := parseUSBID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseUSBID(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && uint16(got) != tt.want {
			t.Errorf("parseUSBID(%q) = %04x, want %04x", tt.in, uint16(got), tt.want)
		}
	}
}
