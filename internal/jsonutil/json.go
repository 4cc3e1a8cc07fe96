// Package jsonutil wraps the sonic JSON codec used across the runner.
package jsonutil

import (
	"github.com/bytedance/sonic"
)

// Marshal serializes v to JSON bytes.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalString serializes v to a JSON string.
func MarshalString(v any) (string, error) {
	return sonic.MarshalString(v)
}

// MarshalIndent serializes v to indented JSON bytes.
func MarshalIndent(v any) ([]byte, error) {
	return sonic.MarshalIndent(v, "", "  ")
}

// Unmarshal parses JSON bytes into v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// UnmarshalString parses a JSON string into v.
func UnmarshalString(s string, v any) error {
	return sonic.UnmarshalString(s, v)
}

// Decode parses a JSON string into a value of type T.
func Decode[T any](s string) (T, error) {
	var v T
	err := sonic.UnmarshalString(s, &v)
	return v, err
}

// ToMap converts any JSON-encodable value into a generic map.
func ToMap(v any) (map[string]any, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Valid reports whether data is valid JSON.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}
