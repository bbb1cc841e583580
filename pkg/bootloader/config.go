// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package bootloader

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// DecodeConfig decodes a msgpack configuration blob into plain maps.
// Map keys become strings and raw byte strings are read as ASCII text,
// so the result can be serialized to JSON directly.
func DecodeConfig(data []byte) (map[string]interface{}, error) {
	var raw interface{}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg, ok := normalize(raw).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected config map, got %T", raw)
	}
	return cfg, nil
}

// DecodeBool decodes a msgpack boolean reply
func DecodeBool(data []byte) (bool, error) {
	var v bool
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return false, fmt.Errorf("failed to decode reply: %w", err)
	}
	return v, nil
}

// normalize converts decoded msgpack values into JSON-friendly types
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[keyString(k)] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []byte:
		return string(val)
	default:
		return v
	}
}

func keyString(k interface{}) string {
	switch key := k.(type) {
	case string:
		return key
	case []byte:
		return string(key)
	default:
		return fmt.Sprint(key)
	}
}
