package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordercast/ordercast/pkg/ordercast/config"
)

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "orders"}, "name", "default", "orders"},
		{"key missing", map[string]any{"other": "x"}, "name", "default", "default"},
		{"empty string", map[string]any{"name": ""}, "name", "default", ""},
		{"wrong type", map[string]any{"name": 123}, "name", "default", "default"},
		{"nil map", nil, "name", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.String(tt.key, tt.defaultVal))
		})
	}
}

// TestInt verifies integer extraction across numeric types.
func TestInt(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want int
	}{
		{"int", map[string]any{"n": 3}, 3},
		{"int64", map[string]any{"n": int64(4)}, 4},
		{"whole float", map[string]any{"n": 5.0}, 5},
		{"fractional float", map[string]any{"n": 5.5}, 9},
		{"string", map[string]any{"n": "6"}, 9},
		{"missing", map[string]any{}, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).Int("n", 9))
		})
	}
}

// TestDuration verifies the accepted duration encodings.
func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want time.Duration
	}{
		{"string", map[string]any{"d": "30s"}, 30 * time.Second},
		{"string complex", map[string]any{"d": "1m30s"}, 90 * time.Second},
		{"int seconds", map[string]any{"d": 10}, 10 * time.Second},
		{"float seconds", map[string]any{"d": 1.5}, 1500 * time.Millisecond},
		{"duration", map[string]any{"d": 2 * time.Minute}, 2 * time.Minute},
		{"bad string", map[string]any{"d": "soon"}, time.Second},
		{"missing", map[string]any{}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).Duration("d", time.Second))
		})
	}
}

// TestBoolAndStringSlice verifies the remaining accessors.
func TestBoolAndStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"enabled": true,
		"types":   []any{"CREATED", "DELETED"},
		"mixed":   []any{"CREATED", 7},
	})

	assert.True(t, cfg.Bool("enabled", false))
	assert.False(t, cfg.Bool("missing", false))
	assert.Equal(t, []string{"CREATED", "DELETED"}, cfg.StringSlice("types", nil))
	assert.Nil(t, cfg.StringSlice("mixed", nil))
	assert.True(t, cfg.Has("enabled"))
	assert.False(t, cfg.Has("missing"))
}

// TestFromYAML verifies YAML loading.
func TestFromYAML(t *testing.T) {
	data := []byte(`
retention_seconds: 300
max_receive_count: 3
consumer_timeout: 10s
queue_backend: sqlite
`)
	cfg, err := config.FromYAML(data)
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Int("retention_seconds", 0))
	assert.Equal(t, "sqlite", cfg.String("queue_backend", ""))

	_, err = config.FromYAML([]byte("{invalid"))
	assert.Error(t, err)
}

// TestFromJSON verifies JSON loading.
func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"buffer_size": 64}`))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Int("buffer_size", 0))

	_, err = config.FromJSON([]byte("not json"))
	assert.Error(t, err)
}

// TestFromFile verifies extension detection.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("visibility_timeout: 45s"), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Duration("visibility_timeout", 0))

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "pipeline.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("x = 1"), 0o644))
	_, err = config.FromFile(tomlPath)
	assert.ErrorContains(t, err, "unsupported config file extension")
}

// TestPipelineSettings verifies defaults and overrides resolve.
func TestPipelineSettings(t *testing.T) {
	defaults := config.Pipeline(config.New(nil))
	assert.Equal(t, 5*time.Minute, defaults.Retention)
	assert.Equal(t, 3, defaults.MaxReceiveCount)
	assert.Equal(t, 30*time.Second, defaults.VisibilityTimeout)
	assert.Equal(t, 10*time.Second, defaults.ConsumerTimeout)
	assert.Equal(t, 256, defaults.BufferSize)
	assert.Equal(t, "memory", defaults.QueueBackend)

	custom := config.Pipeline(config.New(map[string]any{
		config.KeyRetention:         600,
		config.KeyMaxReceiveCount:   5,
		config.KeyVisibilityTimeout: "1m",
		config.KeyQueueBackend:      "redis",
	}))
	assert.Equal(t, 10*time.Minute, custom.Retention)
	assert.Equal(t, 5, custom.MaxReceiveCount)
	assert.Equal(t, time.Minute, custom.VisibilityTimeout)
	assert.Equal(t, "redis", custom.QueueBackend)
}
