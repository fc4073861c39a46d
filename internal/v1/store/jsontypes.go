package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONSegments stores a sorted list of recording segments as jsonb.
type JSONSegments []Segment

func (s JSONSegments) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *JSONSegments) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("JSONSegments: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, s)
}

// JSONStrings stores an optional string list as jsonb (e.g. mjr dump uris).
type JSONStrings []string

func (s JSONStrings) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *JSONStrings) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("JSONStrings: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, s)
}
