package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "swarmweaver", cfg.ServiceName)
	assert.Equal(t, "grpc", cfg.Protocol)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, ""},
		{"enabled local ok", func(c *Config) { c.Enabled = true }, ""},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, "endpoint"},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, "insecure"},
		{"insecure scheme remote", func(c *Config) { c.Enabled = true; c.Endpoint = "http://otel.example.com:4318" }, "insecure"},
		{"zero metrics interval", func(c *Config) { c.Enabled = true; c.MetricsInterval = 0 }, "metrics interval"},
		{"joined errors", func(c *Config) { c.Enabled = true; c.Protocol = "udp"; c.ServiceName = "" }, "service name"},
		{"secure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		}, ""},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, "protocol"},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, "sample rate"},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.ShutdownTimeout = 0 }, "shutdown"},
		{"ipv6 local", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4318",
		Protocol:    "http/protobuf",
		ServiceName: "sw-test",
		Insecure:    true,
		SampleRate:  0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "127.0.0.1:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "sw-test", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.InDelta(t, 0.25, cfg.SampleRate, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoopback(t *testing.T) {
	for _, ep := range []string{"localhost:4317", "127.0.0.1:4317", "127.9.9.9:1", "[::1]:4317", "::1", "http://localhost:4318"} {
		assert.True(t, loopback(ep), ep)
	}
	for _, ep := range []string{"otel.example.com:4317", "10.0.0.1:4317", "localhost.evil.com:4317"} {
		assert.False(t, loopback(ep), ep)
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("host:4318"))
}
