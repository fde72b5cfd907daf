// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"can-bridge-service/internal/driver/waveshare"
	"can-bridge-service/internal/model"
)

// waveshareModels are the AT-command bridges known to work with the Waveshare driver
var waveshareModels = []string{
	"RS232/485/422-TO-CAN",
	"RS485-TO-CAN",
	"2-CH-CAN-TO-ETH",
}

// RegisterDefaultDrivers registers all default bridge drivers
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registerWaveshareDrivers(registry, logger)

	// Unknown bridges speaking the same AT dialect get the Waveshare engine.
	registry.Register(model.BrandGeneric, "*", waveshare.NewWaveshareDriver)
}

func registerWaveshareDrivers(registry *Registry, logger *zap.Logger) {
	for _, m := range waveshareModels {
		registry.Register(model.BrandWaveshare, m, waveshare.NewWaveshareDriver)
	}
	registry.Register(model.BrandWaveshare, "*", waveshare.NewWaveshareDriver)

	logger.Info("Waveshare bridge drivers registered",
		zap.Int("models", len(waveshareModels)+1),
	)
}
