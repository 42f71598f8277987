package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

// Format selects the line encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// maxPatternLen bounds redaction regexps.
const maxPatternLen = 200

// Config describes how a Logger is assembled.
type Config struct {
	Level  zapcore.Level
	Format Format

	// Stdout and OTEL select the sinks; at least one must be on.
	Stdout bool
	OTEL   bool

	Caller bool
	// StacktraceAt attaches stacks to entries at or above this level.
	StacktraceAt zapcore.Level

	// Fields are attached to every entry.
	Fields map[string]string

	Sampling  SamplingConfig
	Redaction RedactionConfig
}

// SamplingConfig throttles repeated messages per level within Tick.
// Error and above are never sampled.
type SamplingConfig struct {
	Enabled bool
	Tick    time.Duration
	Rates   map[zapcore.Level]Rate
}

// Rate keeps the first First identical messages per tick, then every
// Thereafter-th one. Thereafter 0 drops the rest.
type Rate struct {
	First      int
	Thereafter int
}

// RedactionConfig masks values by field key or by content.
type RedactionConfig struct {
	Enabled  bool
	Keys     []string
	Patterns []string
}

var (
	defaultRedactKeys = []string{
		"password", "secret", "token", "api_key", "x-api-key",
		"authorization", "bearer", "credential", "private_key",
	}
	defaultRedactPatterns = []string{
		`(?i)bearer\s+\S+`,
		`(?i)api[_-]?key[=:]\s*\S+`,
		`sk-ant-[A-Za-z0-9_-]{8,}`,
	}
)

// NewDefaultConfig returns JSON to stdout at info with redaction and
// sampling on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:        zapcore.InfoLevel,
		Format:       FormatJSON,
		Stdout:       true,
		Caller:       true,
		StacktraceAt: zapcore.ErrorLevel,
		Fields:       map[string]string{"service": "swarmweaver"},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    time.Second,
			Rates:   DefaultRates(),
		},
		Redaction: RedactionConfig{
			Enabled:  true,
			Keys:     append([]string(nil), defaultRedactKeys...),
			Patterns: append([]string(nil), defaultRedactPatterns...),
		},
	}
}

// DefaultRates keeps traces and debug lines to a trickle and thins
// chatty info lines.
func DefaultRates() map[zapcore.Level]Rate {
	return map[zapcore.Level]Rate{
		TraceLevel:         {First: 1},
		zapcore.DebugLevel: {First: 10},
		zapcore.InfoLevel:  {First: 100, Thereafter: 10},
		zapcore.WarnLevel:  {First: 100, Thereafter: 100},
	}
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != FormatJSON && c.Format != FormatConsole {
		errs = append(errs, fmt.Errorf("format must be %q or %q, got %q", FormatJSON, FormatConsole, c.Format))
	}
	if !c.Stdout && !c.OTEL {
		errs = append(errs, errors.New("no output enabled"))
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		errs = append(errs, errors.New("sampling tick must be positive"))
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("constant field %q=%q: key and value are required", k, v))
		}
	}
	if c.Redaction.Enabled {
		if _, err := compilePatterns(c.Redaction.Patterns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d chars", maxPatternLen)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// FromAppConfig applies the operator level and format to the defaults.
func FromAppConfig(lc config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if lc.Level != "" {
		lvl, err := LevelFromString(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", lc.Level, err)
		}
		cfg.Level = lvl
	}
	if lc.Format != "" {
		cfg.Format = Format(lc.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
