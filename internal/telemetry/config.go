package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

// Config describes the OTLP exporters.
type Config struct {
	Enabled bool
	// Endpoint is host:port; an http(s):// scheme is accepted for
	// http/protobuf.
	Endpoint string
	Protocol string // "grpc" or "http/protobuf"

	Insecure      bool // plaintext; loopback endpoints only
	TLSSkipVerify bool

	ServiceName    string
	ServiceVersion string

	// SampleRate is the ratio of root traces kept.
	SampleRate float64

	Metrics         bool
	MetricsInterval time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns a disabled config aimed at a local collector.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		Insecure:        true,
		ServiceName:     "swarmweaver",
		ServiceVersion:  "dev",
		SampleRate:      1,
		Metrics:         true,
		MetricsInterval: 15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks an enabled config; a disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if c.Insecure && !loopback(c.Endpoint) {
		errs = append(errs, fmt.Errorf("insecure export to non-loopback endpoint %q", c.Endpoint))
	}
	if c.ServiceName == "" || c.ServiceVersion == "" {
		errs = append(errs, errors.New("service name and version are required"))
	}
	if c.Protocol != "grpc" && c.Protocol != protocolHTTP {
		errs = append(errs, fmt.Errorf("protocol must be grpc or %s, got %q", protocolHTTP, c.Protocol))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sample rate %v outside [0,1]", c.SampleRate))
	}
	if c.Metrics && c.MetricsInterval <= 0 {
		errs = append(errs, errors.New("metrics interval must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}

// loopback reports whether endpoint names localhost or a loopback IP.
func loopback(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FromAppConfig overlays the operator settings on the defaults. version
// is the build version.
func FromAppConfig(tc config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = tc.Enabled
	cfg.Insecure = tc.Insecure
	cfg.SampleRate = tc.SampleRate
	for dst, src := range map[*string]string{
		&cfg.Endpoint:       tc.Endpoint,
		&cfg.Protocol:       tc.Protocol,
		&cfg.ServiceName:    tc.ServiceName,
		&cfg.ServiceVersion: version,
	} {
		if src != "" {
			*dst = src
		}
	}
	return cfg
}
