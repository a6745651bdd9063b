// Package codec provides the JSON encode/decode helpers the storage layer
// uses, plus schema validation applied as defense in depth before every
// write and after every read (§4.2 "Writes are schema-validated before
// encoding" / "Reading an index or record that fails schema validation ->
// Storage Read Error").
package codec

import (
	"encoding/json"
	"fmt"
)

// Validatable is implemented by every record and index type the storage
// layer persists. Validate reports a structural problem that must block the
// write (or be surfaced as a read error if found on decode).
type Validatable interface {
	Validate() error
}

// Encode marshals v to JSON after validating it. Mirrors the teacher's
// pattern of a cheap Validate() method on wire/storage types (see e.g.
// lib/schema/pipeline.PipelineConfigContent.Validate in the teacher repo)
// rather than reaching for a full schema-description library for internal
// storage types — the JSON Schema compiler is reserved for validating
// externally supplied tool-call payloads (internal/dispatcher).
func Encode(v Validatable) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("codec: validate before encode: %w", err)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return body, nil
}

// Decode unmarshals body into v and validates the result. A validation
// failure here means the stored JSON itself is malformed relative to the
// current schema — callers must treat this as a storage read error, never
// silently discard it (§4.2).
func Decode(body []byte, v Validatable) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("codec: validate after decode: %w", err)
	}
	return nil
}
