// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

// Package configdump serializes board configurations keyed by board address
package configdump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v2"
)

// Format selects the output encoding
type Format string

// Supported formats
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

// Formats lists every supported format
var Formats = []Format{FormatJSON, FormatYAML, FormatCBOR}

// ParseFormat validates a format name
func ParseFormat(name string) (Format, error) {
	for _, f := range Formats {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (use json, yaml or cbor)", name)
}

// Configs maps board addresses to their decoded configuration
type Configs map[uint8]map[string]interface{}

// Marshal encodes configs in the given format.
// Boards are ordered by address, nested keys alphabetically.
func Marshal(configs Configs, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return marshalJSON(configs)
	case FormatYAML:
		return marshalYAML(configs)
	case FormatCBOR:
		return marshalCBOR(configs)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func sortedIDs(configs Configs) []uint8 {
	ids := make([]uint8, 0, len(configs))
	for id := range configs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// marshalJSON writes a 4-space indented object with numeric board order
func marshalJSON(configs Configs) ([]byte, error) {
	if len(configs) == 0 {
		return []byte("{}\n"), nil
	}

	var buf, value bytes.Buffer
	enc := json.NewEncoder(&value)
	enc.SetEscapeHTML(false)
	enc.SetIndent("    ", "    ")

	buf.WriteString("{\n")
	for i, id := range sortedIDs(configs) {
		value.Reset()
		if err := enc.Encode(jsonValue(configs[id])); err != nil {
			return nil, fmt.Errorf("failed to encode config of board %d: %w", id, err)
		}
		fmt.Fprintf(&buf, "    %q: %s", strconv.Itoa(int(id)), bytes.TrimRight(value.Bytes(), "\n"))
		if i < len(configs)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// jsonFloat keeps floats recognizable as floats: whole numbers get a
// trailing ".0" and very small or large magnitudes use exponent notation.
type jsonFloat float64

// MarshalJSON implements json.Marshaler
func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("unsupported float value %v", v)
	}

	if abs := math.Abs(v); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return []byte(strconv.FormatFloat(v, 'e', -1, 64)), nil
	}
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return []byte(out), nil
}

// jsonValue rewrites floats nested anywhere in v as jsonFloat
func jsonValue(v interface{}) interface{} {
	switch v := v.(type) {
	case float64:
		return jsonFloat(v)
	case float32:
		return jsonFloat(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = jsonValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = jsonValue(item)
		}
		return out
	default:
		return v
	}
}

func marshalYAML(configs Configs) ([]byte, error) {
	out := make(map[int]map[string]interface{}, len(configs))
	for id, cfg := range configs {
		out[int(id)] = cfg
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return data, nil
}

func marshalCBOR(configs Configs) ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	data, err := em.Marshal(map[uint8]map[string]interface{}(configs))
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}
