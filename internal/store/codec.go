package store

import (
	"encoding/json"
	"fmt"
)

func encode[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %w", err)
	}
	return data, nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return v, nil
}

// fieldEquals reports whether the JSON document has field == value.
// Non-string values compare by their JSON text.
func fieldEquals(data []byte, field, value string) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	raw, ok := doc[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == value
	}
	return string(raw) == value
}
