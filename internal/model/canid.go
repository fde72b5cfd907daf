// internal/model/canid.go
package model

import (
	"strconv"
	"strings"
)

const (
	MaxStandardCANID uint32 = 0x7FF
	MaxExtendedCANID uint32 = 0x1FFFFFFF
)

// FilterPreset is a named filter/mask pair
type FilterPreset struct {
	Name      string `json:"name"`
	FilterID  string `json:"filter_id"`
	MaskID    string `json:"mask_id"`
	FrameType string `json:"frame_type,omitempty"`
	AcceptAll bool   `json:"accept_all"`
}

// FilterPresets are the filter configurations offered by the bridge tooling
var FilterPresets = map[string]FilterPreset{
	"obd2": {
		Name:      "obd2",
		FilterID:  "0x7E0",
		MaskID:    "0x7F0",
	},
	"j1939": {
		Name:      "j1939",
		FilterID:  "0x18F00000",
		MaskID:    "0x1FFF0000",
		FrameType: FrameExtended,
	},
	"accept_all": {
		Name:      "accept_all",
		FilterID:  "0x000",
		MaskID:    "0x000",
		AcceptAll: true,
	},
}

// NormalizeCANID returns the id as "0x" followed by uppercase hex digits.
// A single 0x prefix is accepted; a doubled prefix is rejected.
func NormalizeCANID(id string) (string, error) {
	digits := strings.TrimSpace(id)
	if len(digits) >= 2 && (digits[:2] == "0x" || digits[:2] == "0X") {
		digits = digits[2:]
	}
	if digits == "" {
		return "", Errorf(KindValidation, "can_id", "empty CAN ID %q", id)
	}
	if len(digits) > 8 {
		return "", Errorf(KindValidation, "can_id", "CAN ID %q is too long", id)
	}
	if _, err := strconv.ParseUint(digits, 16, 32); err != nil {
		return "", Errorf(KindValidation, "can_id", "CAN ID %q is not hexadecimal", id)
	}
	return "0x" + strings.ToUpper(digits), nil
}

// ParseCANID parses a hex CAN ID with or without a 0x prefix
func ParseCANID(id string) (uint32, error) {
	norm, err := NormalizeCANID(id)
	if err != nil {
		return 0, err
	}
	v, _ := strconv.ParseUint(norm[2:], 16, 32)
	return uint32(v), nil
}

// ValidateCANID checks the id against the range of the frame type
func ValidateCANID(id string, frameType string) error {
	v, err := ParseCANID(id)
	if err != nil {
		return err
	}
	limit := MaxStandardCANID
	if frameType == FrameExtended {
		limit = MaxExtendedCANID
	}
	if v > limit {
		return Errorf(KindValidation, "can_id", "CAN ID 0x%X exceeds 0x%X for %s frames", v, limit, frameType)
	}
	return nil
}

// AddCustomID validates id for the active frame type and records it
func (c *CanConfig) AddCustomID(id string) (string, error) {
	if err := ValidateCANID(id, c.FrameType); err != nil {
		return "", err
	}
	norm, _ := NormalizeCANID(id)
	for _, existing := range c.CustomIDs {
		if existing == norm {
			return norm, nil
		}
	}
	c.CustomIDs = append(c.CustomIDs, norm)
	return norm, nil
}

// ApplyPreset replaces the filter settings with a named preset. A preset
// without a frame type keeps the current one. The config is left untouched
// when the preset's frame type cannot hold the current CAN ID.
func (c *CanConfig) ApplyPreset(name string) error {
	preset, ok := FilterPresets[name]
	if !ok {
		return Errorf(KindValidation, "filter_preset", "unknown preset %q", name)
	}
	frameType := c.FrameType
	if preset.FrameType != "" {
		frameType = preset.FrameType
	}
	if err := ValidateCANID(c.CanID, frameType); err != nil {
		return err
	}
	c.FilterID = preset.FilterID
	c.MaskID = preset.MaskID
	c.FrameType = frameType
	c.AcceptAll = preset.AcceptAll
	c.EnableFilters = !preset.AcceptAll
	return nil
}

// DescribeCANID names the well-known meaning of an identifier
func DescribeCANID(id uint32) string {
	switch {
	case id == 0x7DF:
		return "OBD-II Functional"
	case id >= 0x7E0 && id <= 0x7E7:
		return "OBD-II Physical Request"
	case id >= 0x7E8 && id <= 0x7EF:
		return "OBD-II Physical Response"
	case id >= 0x18F00000 && id <= 0x18FFFFFF:
		return "J1939 Message"
	}

	switch id {
	case 0x100:
		return "Engine Data"
	case 0x200:
		return "Transmission Data"
	case 0x300:
		return "Body Control"
	case 0x400:
		return "Chassis Control"
	case 0x500:
		return "Comfort Systems"
	case 0x600:
		return "Infotainment"
	}
	return "Custom ID"
}
