package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Parameters is the parsed view over a tool call's JSON arguments.
type Parameters struct {
	raw    string
	values map[string]any
}

// ParseParameters decodes raw arguments. Empty input is an empty set; any
// JSON that is not an object is rejected.
func ParseParameters(raw string) (Parameters, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return Parameters{raw: raw, values: map[string]any{}}, nil
	}

	dec := json.NewDecoder(bytes.NewBufferString(trimmed))
	dec.UseNumber()

	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return Parameters{}, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Parameters{}, errors.New("arguments must be a JSON object: trailing data after object")
	}
	if values == nil {
		values = map[string]any{}
	}
	return Parameters{raw: raw, values: values}, nil
}

// NewParameters builds Parameters from already-decoded values, mostly for tests.
func NewParameters(values map[string]any) Parameters {
	data, _ := json.Marshal(values)
	p, err := ParseParameters(string(data))
	if err != nil {
		return Parameters{values: map[string]any{}}
	}
	return p
}

// Raw returns the arguments exactly as the model sent them.
func (p Parameters) Raw() string { return p.raw }

func (p Parameters) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Keys returns the parameter names in sorted order.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value for key as text, or def when absent or null.
func (p Parameters) String(key, def string) string {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return def
		}
		return string(data)
	}
}

// RequireString returns a non-blank string value or an error naming key.
func (p Parameters) RequireString(key string) (string, error) {
	v := strings.TrimSpace(p.String(key, ""))
	if v == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}

// Int returns the value for key as an int, or def when absent or not numeric.
func (p Parameters) Int(key string, def int) int {
	switch val := p.values[key].(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return int(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return def
}

// Float returns the value for key as a float64, or def.
func (p Parameters) Float(key string, def float64) float64 {
	switch val := p.values[key].(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the value for key as a bool, or def.
func (p Parameters) Bool(key string, def bool) bool {
	switch val := p.values[key].(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return def
}
