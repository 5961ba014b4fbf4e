package repository

import (
	"encoding/json"
	"fmt"
)

// Documents in the store are nested maps of scalars; repository models
// round-trip through JSON to and from that shape.

func encodeDoc(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return body, nil
}

func decodeDoc(body map[string]interface{}, dest interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
