package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// ensureID assigns a new UUID when id is empty.
func ensureID(id *string) {
	if *id == "" {
		*id = generateID()
	}
}

// encodeJSON serializes v for a JSON/JSONB column.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serializing column: %w", err)
	}
	return string(data), nil
}

// decodeJSON fills v from a JSON column, treating empty values as absent.
func decodeJSON(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("deserializing column: %w", err)
	}
	return nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
