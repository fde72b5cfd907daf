// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"can-bridge-service/internal/model"
)

// ChannelFactory builds a byte channel from a connection description
type ChannelFactory func(connectionType model.ConnectionType, config map[string]interface{}, logger *zap.Logger) (ByteChannel, error)

// ValidHostBaudRates are the host-side serial speeds a bridge accepts
var ValidHostBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800}

// CreateChannel creates a byte channel based on connection type and configuration
func CreateChannel(connectionType model.ConnectionType, config map[string]interface{}, logger *zap.Logger) (ByteChannel, error) {
	if err := ValidateConfig(connectionType, config); err != nil {
		return nil, err
	}

	switch connectionType {
	case model.ConnectionTypeSerial:
		return createSerialChannel(config, logger), nil
	case model.ConnectionTypeUSB:
		return createUSBChannel(config, logger), nil
	case model.ConnectionTypeTCP:
		return createTCPChannel(config, logger), nil
	default:
		return nil, model.Errorf(model.KindValidation, "create_channel", "unsupported connection type: %s", connectionType)
	}
}

// ParseSerialConfig reads a serial description with bridge defaults
func ParseSerialConfig(config map[string]interface{}) *SerialConfig {
	serialConfig := &SerialConfig{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      "N",
		ReadTimeout: 50 * time.Millisecond,
	}

	if port, ok := config["port"].(string); ok {
		serialConfig.Port = port
	}
	if v, ok := intValue(config["baud_rate"]); ok {
		serialConfig.BaudRate = v
	}
	if v, ok := intValue(config["data_bits"]); ok {
		serialConfig.DataBits = v
	}
	if v, ok := intValue(config["stop_bits"]); ok {
		serialConfig.StopBits = v
	}
	if parity, ok := config["parity"].(string); ok {
		serialConfig.Parity = parity
	}
	if d, ok := durationValue(config["read_timeout"]); ok && d > 0 {
		serialConfig.ReadTimeout = d
	}

	return serialConfig
}

func createSerialChannel(config map[string]interface{}, logger *zap.Logger) ByteChannel {
	serialConfig := ParseSerialConfig(config)

	logger.Info("Creating serial channel",
		zap.String("port", serialConfig.Port),
		zap.Int("baud_rate", serialConfig.BaudRate),
	)

	return NewSerialConnection(serialConfig, logger)
}

func createUSBChannel(config map[string]interface{}, logger *zap.Logger) ByteChannel {
	usbConfig := &USBConfig{
		Config:      1,
		Interface:   0,
		InEndpoint:  1,
		OutEndpoint: 1,
		Timeout:     5 * time.Second,
	}

	usbConfig.VendorID, _ = config["vendor_id"].(string)
	usbConfig.ProductID, _ = config["product_id"].(string)

	if v, ok := intValue(config["config"]); ok {
		usbConfig.Config = v
	}
	if v, ok := intValue(config["interface"]); ok {
		usbConfig.Interface = v
	}
	if v, ok := intValue(config["in_endpoint"]); ok {
		usbConfig.InEndpoint = v
	}
	if v, ok := intValue(config["out_endpoint"]); ok {
		usbConfig.OutEndpoint = v
	}
	if d, ok := durationValue(config["timeout"]); ok {
		usbConfig.Timeout = d
	}

	logger.Info("Creating USB channel",
		zap.String("vendor_id", usbConfig.VendorID),
		zap.String("product_id", usbConfig.ProductID),
		zap.Int("interface", usbConfig.Interface),
	)

	return NewUSBConnection(usbConfig, logger)
}

func createTCPChannel(config map[string]interface{}, logger *zap.Logger) ByteChannel {
	tcpConfig := &TCPConfig{
		Port:         4196,
		KeepAlive:    true,
		Timeout:      10 * time.Second,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}

	tcpConfig.Host, _ = config["host"].(string)

	if v, ok := intValue(config["port"]); ok {
		tcpConfig.Port = v
	}
	if ssl, ok := config["ssl"].(bool); ok {
		tcpConfig.SSL = ssl
	}
	if keepAlive, ok := config["keep_alive"].(bool); ok {
		tcpConfig.KeepAlive = keepAlive
	}
	if d, ok := durationValue(config["timeout"]); ok {
		tcpConfig.Timeout = d
	}
	if d, ok := durationValue(config["read_timeout"]); ok && d > 0 {
		tcpConfig.ReadTimeout = d
	}
	if d, ok := durationValue(config["write_timeout"]); ok {
		tcpConfig.WriteTimeout = d
	}

	logger.Info("Creating TCP channel",
		zap.String("host", tcpConfig.Host),
		zap.Int("port", tcpConfig.Port),
		zap.Bool("ssl", tcpConfig.SSL),
	)

	return NewTCPConnection(tcpConfig, logger)
}

// ValidateConfig validates configuration for a specific connection type
func ValidateConfig(connectionType model.ConnectionType, config map[string]interface{}) error {
	var err error
	switch connectionType {
	case model.ConnectionTypeSerial:
		err = validateSerialConfig(config)
	case model.ConnectionTypeUSB:
		err = validateUSBConfig(config)
	case model.ConnectionTypeTCP:
		err = validateTCPConfig(config)
	default:
		err = fmt.Errorf("unsupported connection type: %s", connectionType)
	}
	if err != nil {
		return model.NewError(model.KindValidation, "connection_config", err)
	}
	return nil
}

func validateSerialConfig(config map[string]interface{}) error {
	if port, ok := config["port"].(string); !ok || port == "" {
		return fmt.Errorf("serial port is required")
	}

	if baudRate, ok := config["baud_rate"]; ok {
		rate, ok := intValue(baudRate)
		if !ok {
			return fmt.Errorf("invalid baud_rate type")
		}
		valid := false
		for _, validRate := range ValidHostBaudRates {
			if rate == validRate {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid baud rate: %d", rate)
		}
	}

	if parity, ok := config["parity"].(string); ok {
		switch parity {
		case "N", "E", "O", "none", "even", "odd":
		default:
			return fmt.Errorf("invalid parity: %s", parity)
		}
	}

	return nil
}

func validateUSBConfig(config map[string]interface{}) error {
	if _, ok := config["vendor_id"].(string); !ok {
		return fmt.Errorf("USB vendor_id is required")
	}
	if _, ok := config["product_id"].(string); !ok {
		return fmt.Errorf("USB product_id is required")
	}
	return nil
}

func validateTCPConfig(config map[string]interface{}) error {
	if host, ok := config["host"].(string); !ok || host == "" {
		return fmt.Errorf("TCP host is required")
	}

	if port, ok := config["port"]; ok {
		portNum, ok := intValue(port)
		if !ok {
			return fmt.Errorf("invalid port type")
		}
		if portNum < 1 || portNum > 65535 {
			return fmt.Errorf("invalid port number: %d", portNum)
		}
	}

	return nil
}

// intValue accepts JSON numbers as well as Go ints
func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func durationValue(v interface{}) (time.Duration, bool) {
	switch d := v.(type) {
	case string:
		dur, err := time.ParseDuration(d)
		return dur, err == nil
	case time.Duration:
		return d, true
	default:
		return 0, false
	}
}
