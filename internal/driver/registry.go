// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
	"can-bridge-service/pkg/driver"
)

// DriverFactory creates a bridge driver over an unopened channel
type DriverFactory func(info *model.SessionInfo, channel protocol.ByteChannel, opts driver.Options, logger *zap.Logger) (driver.BridgeDriver, error)

// Registry manages bridge driver registration and creation
type Registry struct {
	drivers map[DriverKey]DriverFactory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// DriverKey uniquely identifies a driver
type DriverKey struct {
	Brand model.BridgeBrand `json:"brand"`
	Model string            `json:"model"`
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[DriverKey]DriverFactory),
		logger:  logger,
	}
}

// Register registers a driver factory. Model "*" matches any model of the brand.
func (r *Registry) Register(brand model.BridgeBrand, bridgeModel string, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers[DriverKey{Brand: brand, Model: bridgeModel}] = factory
	r.logger.Debug("Driver registered",
		zap.String("brand", string(brand)),
		zap.String("model", bridgeModel),
	)
}

// CreateDriver creates a driver for the session over channel
func (r *Registry) CreateDriver(info *model.SessionInfo, channel protocol.ByteChannel, opts driver.Options) (driver.BridgeDriver, error) {
	factory, ok := r.lookup(info.Brand, info.Model)
	if !ok {
		return nil, model.Errorf(model.KindValidation, "create_driver",
			"no driver found for brand=%s, model=%s", info.Brand, info.Model)
	}
	return factory(info, channel, opts, r.logger)
}

// IsSupported checks if a bridge model has a driver
func (r *Registry) IsSupported(brand model.BridgeBrand, bridgeModel string) bool {
	_, ok := r.lookup(brand, bridgeModel)
	return ok
}

// ListDrivers returns all registered drivers ordered by brand and model
func (r *Registry) ListDrivers() []DriverKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]DriverKey, 0, len(r.drivers))
	for key := range r.drivers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Brand != keys[j].Brand {
			return keys[i].Brand < keys[j].Brand
		}
		return keys[i].Model < keys[j].Model
	})
	return keys
}

// lookup tries the exact model, then the brand wildcard, then the generic driver
func (r *Registry) lookup(brand model.BridgeBrand, bridgeModel string) (DriverFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := []DriverKey{
		{Brand: brand, Model: bridgeModel},
		{Brand: brand, Model: "*"},
		{Brand: model.BrandGeneric, Model: "*"},
	}
	for _, key := range candidates {
		if factory, exists := r.drivers[key]; exists {
			return factory, true
		}
	}
	return nil, false
}

func (k DriverKey) String() string {
	return fmt.Sprintf("%s/%s", k.Brand, k.Model)
}
