// internal/model/codec.go
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DocumentRootKey   = "waveshare_device_parameters"
	DocumentVersion   = "1.0"
	DocumentGenerator = "Waveshare CAN Tool Expert"
)

// Document is the persisted form of a snapshot
type Document struct {
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version"`
	GeneratedBy string `json:"generated_by"`
	Snapshot
}

type documentEnvelope struct {
	Parameters *Document `json:"waveshare_device_parameters"`
}

// EncodeSnapshot renders the snapshot as an indented JSON document
func EncodeSnapshot(s *Snapshot, now time.Time) ([]byte, error) {
	env := documentEnvelope{
		Parameters: &Document{
			Timestamp:   FormatTimestamp(now),
			Version:     DocumentVersion,
			GeneratedBy: DocumentGenerator,
			Snapshot:    *s,
		},
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a persisted document. Sections missing from the
// document keep their default values.
func DecodeSnapshot(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(KindDecode, "decode_snapshot", err)
	}

	body, ok := raw[DocumentRootKey]
	if !ok {
		return nil, Errorf(KindDecode, "decode_snapshot", "missing %q root key", DocumentRootKey)
	}

	doc := &Document{Snapshot: *DefaultSnapshot(time.Now())}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, NewError(KindDecode, "decode_snapshot", err)
	}

	return doc, nil
}
