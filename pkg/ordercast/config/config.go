// Package config provides map-backed configuration with typed
// accessors and file loading for the pipeline's tunables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config wraps a map[string]any for type-safe value extraction.
// Accessors return the supplied default when the key is missing or
// the value cannot be converted.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. A nil map yields an empty
// Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal.
//
// Accepts int, int64, and float64 without a fractional part.
func (c Config) Int(key string, defaultVal int) int {
	switch val := c.data[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	case time.Duration:
		return val
	}
	return defaultVal
}

// StringSlice returns the string slice for key, or defaultVal.
//
// Accepts []string directly, or []any whose elements are all strings.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	switch val := c.data[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	}
	return defaultVal
}

// Has reports whether key exists.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map. Do not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}

// FromFile loads a Config, choosing the parser by file extension.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension %q", ext)
	}
}

// FromYAML parses YAML into a Config.
func FromYAML(data []byte) (Config, error) {
	return decode(data, yaml.Unmarshal)
}

// FromJSON parses JSON into a Config.
func FromJSON(data []byte) (Config, error) {
	return decode(data, json.Unmarshal)
}

func decode(data []byte, unmarshal func([]byte, any) error) (Config, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return New(m), nil
}
