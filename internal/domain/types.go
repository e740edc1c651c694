package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONMap is a custom type for storing free-form JSON objects in the database.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the map, or nil when unset.
//   - error: non-nil if marshaling fails.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	if len(bytes) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// ToJSONMap converts any JSON-serializable value into a JSONMap.
func ToJSONMap(v interface{}) (JSONMap, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m JSONMap
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
