// Package config provides configuration loading for the swarmweaver coordinator.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file and
// SWARMWEAVER_* environment variables. See LoadWithFile for precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete coordinator configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	NATS         NATSConfig         `koanf:"nats"`
	LLM          LLMConfig          `koanf:"llm"`
	Routing      RoutingConfig      `koanf:"routing"`
	Loop         LoopConfig         `koanf:"loop"`
	Conversation ConversationConfig `koanf:"conversation"`
	Functions    FunctionsConfig    `koanf:"functions"`
	Retry        RetryConfig        `koanf:"retry"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Agents       []AgentConfig      `koanf:"agents"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// NATSConfig holds connection and subject settings for the NATS transport and event sink.
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Embedded       bool          `koanf:"embedded"` // run an in-process server on URL's port
	URL            string        `koanf:"url"`
	InboundSubject string        `koanf:"inbound_subject"`
	OutboundPrefix string        `koanf:"outbound_prefix"`
	EventsPrefix   string        `koanf:"events_prefix"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// LLMConfig selects and configures the model-invocation backend.
type LLMConfig struct {
	// Provider is one of "anthropic", "openai" or "ollama".
	Provider          string        `koanf:"provider"`
	Model             string        `koanf:"model"`
	SummaryModel      string        `koanf:"summary_model"`
	BaseURL           string        `koanf:"base_url"`
	APIKey            Secret        `koanf:"api_key"`
	MaxTokens         int           `koanf:"max_tokens"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
}

// RoutingConfig holds handoff mediator settings.
type RoutingConfig struct {
	MaxLoad    int           `koanf:"max_load"`
	HandoffTTL time.Duration `koanf:"handoff_ttl"`
}

// LoopConfig holds loop detector settings.
type LoopConfig struct {
	Window        time.Duration `koanf:"window"`
	Cooldown      time.Duration `koanf:"cooldown"`
	Threshold     int           `koanf:"threshold"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ConversationConfig holds sliding-window memory and summarization settings.
type ConversationConfig struct {
	MaxRecentMessages      int           `koanf:"max_recent_messages"`
	SummaryThreshold       int           `koanf:"summary_threshold"`
	SummaryRetries         int           `koanf:"summary_retries"`
	SummaryMaxFailures     int           `koanf:"summary_max_failures"`
	SummaryRetryDelay      time.Duration `koanf:"summary_retry_delay"`
	SummaryRefreshInterval time.Duration `koanf:"summary_refresh_interval"`
	SummaryMaxWords        int           `koanf:"summary_max_words"`
}

// FunctionsConfig holds function registry settings.
type FunctionsConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// RetryConfig holds backoff settings for retryable external calls.
type RetryConfig struct {
	MaxRetries    int           `koanf:"max_retries"`
	InitialDelay  time.Duration `koanf:"initial_delay"`
	MaxDelay      time.Duration `koanf:"max_delay"`
	JitterPercent int           `koanf:"jitter_percent"`
}

// OrchestratorConfig holds per-conversation lane settings.
type OrchestratorConfig struct {
	LaneCapacity int `koanf:"lane_capacity"`
}

// AgentConfig declares one agent of the roster.
type AgentConfig struct {
	ID           string   `koanf:"id"`
	Name         string   `koanf:"name"`
	Role         string   `koanf:"role"`
	SystemPrompt string   `koanf:"system_prompt"`
	Functions    []string `koanf:"functions"`
}

// Default returns a configuration with every field populated.
// An empty Agents slice means the built-in roster is used.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "swarmweaver",
			Insecure:    true,
			SampleRate:  1.0,
		},
		NATS: NATSConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			InboundSubject: "swarmweaver.chat.inbound",
			OutboundPrefix: "swarmweaver.chat.outbound",
			EventsPrefix:   "swarmweaver.events",
			ConnectTimeout: 5 * time.Second,
		},
		LLM: LLMConfig{
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-5-20250929",
			SummaryModel:      "claude-3-5-haiku-20241022",
			BaseURL:           "https://api.anthropic.com",
			MaxTokens:         4096,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Routing: RoutingConfig{
			MaxLoad:    3,
			HandoffTTL: 30 * time.Minute,
		},
		Loop: LoopConfig{
			Window:        5 * time.Minute,
			Cooldown:      10 * time.Minute,
			Threshold:     3,
			SweepInterval: time.Hour,
		},
		Conversation: ConversationConfig{
			MaxRecentMessages:      20,
			SummaryThreshold:       30,
			SummaryRetries:         3,
			SummaryMaxFailures:     3,
			SummaryRetryDelay:      5 * time.Second,
			SummaryRefreshInterval: 30 * time.Minute,
			SummaryMaxWords:        200,
		},
		Functions: FunctionsConfig{
			Timeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			JitterPercent: 20,
		},
		Orchestrator: OrchestratorConfig{
			LaneCapacity: 64,
		},
	}
}

var validProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"ollama":    true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.New("nats url required when nats is enabled")
		}
		if c.NATS.InboundSubject == "" || c.NATS.OutboundPrefix == "" || c.NATS.EventsPrefix == "" {
			return errors.New("nats subjects must not be empty")
		}
	} else if c.NATS.Embedded {
		return errors.New("nats.embedded requires nats.enabled")
	}

	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("unknown llm provider %q (want anthropic, openai or ollama)", c.LLM.Provider)
	}
	if c.LLM.Provider != "ollama" && !c.LLM.APIKey.IsSet() {
		return fmt.Errorf("llm api key required for provider %q", c.LLM.Provider)
	}

	if c.Routing.MaxLoad < 1 {
		return fmt.Errorf("routing.max_load must be >= 1, got %d", c.Routing.MaxLoad)
	}

	if c.Loop.Window <= 0 || c.Loop.Cooldown <= 0 || c.Loop.SweepInterval <= 0 {
		return errors.New("loop window, cooldown and sweep interval must be positive")
	}
	if c.Loop.Threshold < 1 {
		return fmt.Errorf("loop.threshold must be >= 1, got %d", c.Loop.Threshold)
	}

	conv := c.Conversation
	if conv.MaxRecentMessages < 1 {
		return fmt.Errorf("conversation.max_recent_messages must be >= 1, got %d", conv.MaxRecentMessages)
	}
	if conv.SummaryThreshold <= conv.MaxRecentMessages {
		return fmt.Errorf("conversation.summary_threshold (%d) must exceed max_recent_messages (%d)",
			conv.SummaryThreshold, conv.MaxRecentMessages)
	}
	if conv.SummaryMaxFailures < 1 {
		return fmt.Errorf("conversation.summary_max_failures must be >= 1, got %d", conv.SummaryMaxFailures)
	}

	if c.Functions.Timeout <= 0 {
		return errors.New("functions.timeout must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.JitterPercent < 0 || c.Retry.JitterPercent > 100 {
		return fmt.Errorf("retry.jitter_percent must be between 0 and 100, got %d", c.Retry.JitterPercent)
	}

	if c.Orchestrator.LaneCapacity < 1 {
		return fmt.Errorf("orchestrator.lane_capacity must be >= 1, got %d", c.Orchestrator.LaneCapacity)
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" || a.Name == "" {
			return fmt.Errorf("agents[%d]: id and name are required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate agent id %q", i, a.ID)
		}
		seen[a.ID] = true
	}

	return nil
}
