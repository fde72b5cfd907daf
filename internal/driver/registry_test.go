// internal/driver/registry_test.go
package driver

import (
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
	"can-bridge-service/internal/protocol/prototest"
	"can-bridge-service/pkg/driver"
)

func TestRegistryLookupOrder(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	var picked string
	factory := func(name string) DriverFactory {
		return func(*model.SessionInfo, protocol.ByteChannel, driver.Options, *zap.Logger) (driver.BridgeDriver, error) {
			picked = name
			return nil, nil
		}
	}
	registry.Register(model.BrandWaveshare, "RS485-TO-CAN", factory("exact"))
	registry.Register(model.BrandWaveshare, "*", factory("wildcard"))

	tests := []struct {
		brand model.BridgeBrand
		model string
		want  string
	}{
		{model.BrandWaveshare, "RS485-TO-CAN", "exact"},
		{model.BrandWaveshare, "unknown", "wildcard"},
	}
	for _, tt := range tests {
		info := &model.SessionInfo{ID: uuid.New(), Brand: tt.brand, Model: tt.model}
		if _, err := registry.CreateDriver(info, nil, driver.Options{}); err != nil {
			t.Fatalf("CreateDriver(%s) error = %v", tt.model, err)
		}
		if picked != tt.want {
			t.Errorf("CreateDriver(%s) used %q, want %q", tt.model, picked, tt.want)
		}
	}

	if registry.IsSupported("OTHER", "x") {
		t.Error("IsSupported() = true without a generic driver")
	}
	registry.Register(model.BrandGeneric, "*", factory("generic"))
	if !registry.IsSupported("OTHER", "x") {
		t.Error("IsSupported() = false with a generic driver")
	}
}

func TestRegistryUnknownBrand(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	info := &model.SessionInfo{ID: uuid.New(), Brand: "OTHER"}
	_, err := registry.CreateDriver(info, nil, driver.Options{})
	if model.KindOf(err) != model.KindValidation {
		t.Fatalf("CreateDriver() error = %v, want validation", err)
	}
}

func TestDefaultDrivers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := NewRegistry(logger)
	RegisterDefaultDrivers(registry, logger)

	keys := registry.ListDrivers()
	if len(keys) != len(waveshareModels)+2 {
		t.Fatalf("ListDrivers() = %v", keys)
	}
	if keys[0].Brand != model.BrandGeneric {
		t.Errorf("first key = %s, want the generic driver", keys[0])
	}

	info := &model.SessionInfo{ID: uuid.New(), Brand: model.BrandWaveshare, Model: "RS485-TO-CAN"}
	d, err := registry.CreateDriver(info, prototest.NewFakeChannel(nil), driver.Options{})
	if err != nil {
		t.Fatalf("CreateDriver() error = %v", err)
	}
	if d.IsConnected() {
		t.Error("a new driver must not be connected")
	}
}
