// internal/model/snapshot.go
package model

import (
	"fmt"
	"time"
)

// Working mode names
const (
	ModeTransparent   = "transparent"
	ModeTransparentID = "transparent_id"
	ModeFormat        = "format"
	ModeModbus        = "modbus"
)

// Frame types
const (
	FrameStandard = "standard"
	FrameExtended = "extended"
)

// Directions
const (
	DirectionTX   = "TX"
	DirectionRX   = "RX"
	DirectionBoth = "BOTH"
)

// Protocol types
const (
	ProtocolGeneric = "generic"
	ProtocolOBD2    = "obd2"
	ProtocolJ1939   = "j1939"
	ProtocolISOTP   = "isotp"
	ProtocolUDS     = "uds"
)

// SourceInterfaceParameters marks a snapshot filled from host-side values
const SourceInterfaceParameters = "interface_parameters"

const DefaultDataFormat = "$ID:$DATA"

var (
	modeNames     = []string{ModeTransparent, ModeTransparentID, ModeFormat, ModeModbus}
	protocolNames = []string{ProtocolGeneric, ProtocolOBD2, ProtocolJ1939, ProtocolISOTP, ProtocolUDS}

	ValidUARTBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800}
	ValidCANBaudRates  = []int{125000, 250000, 500000, 1000000}
)

// DeviceInfo identifies the bridge hardware
type DeviceInfo struct {
	Model           string `json:"model"`
	Version         string `json:"version"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
	HardwareVersion string `json:"hardware_version"`
}

// UartConfig is the host-facing serial side of the bridge
type UartConfig struct {
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	FlowControl string `json:"flow_control"`
	TimeoutMs   int    `json:"timeout_ms"`
	BufferSize  int    `json:"buffer_size"`
}

// CanConfig is the bus-facing side of the bridge
type CanConfig struct {
	BaudRate      int    `json:"baud_rate"`
	FrameType     string `json:"frame_type"`
	CanID         string `json:"can_id"`
	FilterID      string `json:"filter_id"`
	MaskID        string `json:"mask_id"`
	AcceptAll     bool   `json:"accept_all"`
	EnableFilters bool   `json:"enable_filters"`

	// CustomIDs is a host-side list and is not part of the device parameters.
	CustomIDs []string `json:"-"`
}

// WorkingMode controls how serial bytes map to CAN frames
type WorkingMode struct {
	Mode        string `json:"mode"`
	ModeID      int    `json:"mode_id"`
	Direction   string `json:"direction"`
	FrameLength int    `json:"frame_length"`
	IDOffset    int    `json:"id_offset"`
	DataFormat  string `json:"data_format"`
}

// Performance holds throughput tuning
type Performance struct {
	TargetRate   int    `json:"target_rate"`
	MaxLatency   int    `json:"max_latency"`
	BufferMode   string `json:"buffer_mode"`
	Optimization string `json:"optimization"`
}

// Protocol selects the higher-layer protocol helpers
type Protocol struct {
	ProtocolType string `json:"protocol_type"`
	OBD2Enabled  bool   `json:"obd2_enabled"`
	J1939Enabled bool   `json:"j1939_enabled"`
	ISOTPEnabled bool   `json:"isotp_enabled"`
	UDSEnabled   bool   `json:"uds_enabled"`
}

// Status is the runtime state reported by the bridge
type Status struct {
	Connected  bool   `json:"connected"`
	LastUpdate string `json:"last_update"`
	ErrorCount int    `json:"error_count"`
	FrameCount int    `json:"frame_count"`
	Uptime     int    `json:"uptime"`
	Source     string `json:"source,omitempty"`
}

// Snapshot is the full parameter set of one bridge. Every section is always present.
type Snapshot struct {
	DeviceInfo  DeviceInfo  `json:"device_info"`
	UartConfig  UartConfig  `json:"uart_config"`
	CanConfig   CanConfig   `json:"can_config"`
	WorkingMode WorkingMode `json:"working_mode"`
	Performance Performance `json:"performance"`
	Protocol    Protocol    `json:"protocol"`
	Status      Status      `json:"status"`
}

// DefaultSnapshot returns the factory parameter set
func DefaultSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		DeviceInfo: DeviceInfo{
			Model:   "Waveshare RS232/485/422 to CAN",
			Version: "1.0",
		},
		UartConfig: UartConfig{
			BaudRate:    115200,
			DataBits:    8,
			StopBits:    1,
			Parity:      "N",
			FlowControl: "none",
			TimeoutMs:   2000,
			BufferSize:  8192,
		},
		CanConfig: CanConfig{
			BaudRate:  500000,
			FrameType: FrameStandard,
			CanID:     "0x123",
			FilterID:  "0x000",
			MaskID:    "0x000",
			AcceptAll: true,
		},
		WorkingMode: WorkingMode{
			Mode:        ModeTransparent,
			ModeID:      0,
			Direction:   DirectionBoth,
			FrameLength: 8,
			DataFormat:  DefaultDataFormat,
		},
		Performance: Performance{
			TargetRate:   83,
			MaxLatency:   12,
			BufferMode:   "auto",
			Optimization: "high_performance",
		},
		Protocol: Protocol{
			ProtocolType: ProtocolGeneric,
			OBD2Enabled:  true,
		},
		Status: Status{
			LastUpdate: FormatTimestamp(now),
		},
	}
}

// Clone returns a deep copy
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	if s.CanConfig.CustomIDs != nil {
		c.CanConfig.CustomIDs = append([]string(nil), s.CanConfig.CustomIDs...)
	}
	return &c
}

// Touch refreshes status.last_update
func (s *Snapshot) Touch(now time.Time) {
	s.Status.LastUpdate = FormatTimestamp(now)
}

// FormatTimestamp renders timestamps the way the snapshot stores them
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ModeName maps a mode id to its name
func ModeName(id int) (string, error) {
	if id < 0 || id >= len(modeNames) {
		return "", Errorf(KindValidation, "mode", "unknown mode id %d", id)
	}
	return modeNames[id], nil
}

// ModeID maps a mode name to its id
func ModeID(name string) (int, error) {
	for i, n := range modeNames {
		if n == name {
			return i, nil
		}
	}
	return 0, Errorf(KindValidation, "mode", "unknown mode %q", name)
}

// SetMode sets the mode by name and keeps mode_id consistent
func (w *WorkingMode) SetMode(name string) error {
	id, err := ModeID(name)
	if err != nil {
		return err
	}
	w.Mode, w.ModeID = name, id
	return nil
}

// SetModeID sets the mode by id and keeps the name consistent
func (w *WorkingMode) SetModeID(id int) error {
	name, err := ModeName(id)
	if err != nil {
		return err
	}
	w.Mode, w.ModeID = name, id
	return nil
}

// ProtocolName maps a device protocol code to its name
func ProtocolName(code int) (string, error) {
	if code < 0 || code >= len(protocolNames) {
		return "", Errorf(KindValidation, "protocol", "unknown protocol code %d", code)
	}
	return protocolNames[code], nil
}

// Validate checks every enumerated and ranged field
func (s *Snapshot) Validate() error {
	u := s.UartConfig
	if !containsInt(ValidUARTBaudRates, u.BaudRate) {
		return Errorf(KindValidation, "uart_config", "unsupported baud rate %d", u.BaudRate)
	}
	if u.DataBits != 7 && u.DataBits != 8 {
		return Errorf(KindValidation, "uart_config", "data bits must be 7 or 8, got %d", u.DataBits)
	}
	if u.StopBits != 1 && u.StopBits != 2 {
		return Errorf(KindValidation, "uart_config", "stop bits must be 1 or 2, got %d", u.StopBits)
	}
	switch u.Parity {
	case "N", "E", "O":
	default:
		return Errorf(KindValidation, "uart_config", "parity must be N, E or O, got %q", u.Parity)
	}
	switch u.FlowControl {
	case "none", "hardware":
	default:
		return Errorf(KindValidation, "uart_config", "flow control must be none or hardware, got %q", u.FlowControl)
	}

	c := s.CanConfig
	if !containsInt(ValidCANBaudRates, c.BaudRate) {
		return Errorf(KindValidation, "can_config", "unsupported CAN baud rate %d", c.BaudRate)
	}
	if c.FrameType != FrameStandard && c.FrameType != FrameExtended {
		return Errorf(KindValidation, "can_config", "frame type must be standard or extended, got %q", c.FrameType)
	}
	if err := ValidateCANID(c.CanID, c.FrameType); err != nil {
		return err
	}
	if _, err := NormalizeCANID(c.FilterID); err != nil {
		return err
	}
	if _, err := NormalizeCANID(c.MaskID); err != nil {
		return err
	}

	w := s.WorkingMode
	name, err := ModeName(w.ModeID)
	if err != nil {
		return err
	}
	if name != w.Mode {
		return Errorf(KindValidation, "working_mode", "mode %q does not match mode_id %d", w.Mode, w.ModeID)
	}
	switch w.Direction {
	case DirectionTX, DirectionRX, DirectionBoth:
	default:
		return Errorf(KindValidation, "working_mode", "direction must be TX, RX or BOTH, got %q", w.Direction)
	}
	if w.FrameLength < 0 || w.FrameLength > 8 {
		return Errorf(KindValidation, "working_mode", "frame length must be 0-8, got %d", w.FrameLength)
	}
	if w.IDOffset < 0 || w.IDOffset > 7 {
		return Errorf(KindValidation, "working_mode", "id offset must be 0-7, got %d", w.IDOffset)
	}

	if s.Performance.TargetRate <= 0 {
		return Errorf(KindValidation, "performance", "target rate must be positive, got %d", s.Performance.TargetRate)
	}

	if !containsString(protocolNames, s.Protocol.ProtocolType) {
		return Errorf(KindValidation, "protocol", "unknown protocol type %q", s.Protocol.ProtocolType)
	}

	if s.Status.ErrorCount < 0 || s.Status.FrameCount < 0 {
		return Errorf(KindValidation, "status", "counters must not be negative")
	}

	return nil
}

// ParityCode is the numeric parity the device expects in AT+UART
func (u UartConfig) ParityCode() int {
	if u.Parity == "N" {
		return 0
	}
	return 1
}

func (u UartConfig) String() string {
	return fmt.Sprintf("%d,%d,%d,%s", u.BaudRate, u.DataBits, u.StopBits, u.Parity)
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
