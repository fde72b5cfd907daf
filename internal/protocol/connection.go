// internal/protocol/connection.go
package protocol

import "time"

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// USBConfig represents USB bulk-endpoint configuration
type USBConfig struct {
	VendorID    string        `json:"vendor_id"`
	ProductID   string        `json:"product_id"`
	Config      int           `json:"config"`
	Interface   int           `json:"interface"`
	InEndpoint  int           `json:"in_endpoint"`
	OutEndpoint int           `json:"out_endpoint"`
	Timeout     time.Duration `json:"timeout"`
}

// TCPConfig represents TCP connection configuration for network-attached bridges
type TCPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	SSL          bool          `json:"ssl"`
	KeepAlive    bool          `json:"keep_alive"`
	Timeout      time.Duration `json:"timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}
