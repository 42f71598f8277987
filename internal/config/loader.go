package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "SWARMWEAVER_"

const maxFileSize = 1 << 20

// systemDir is the machine-wide config location.
const systemDir = "/etc/swarmweaver"

func userDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	return filepath.Join(home, ".config", "swarmweaver"), nil
}

// LoadWithFile builds the configuration from Default, then the YAML file at
// path (default ~/.config/swarmweaver/config.yaml), then SWARMWEAVER_*
// environment variables, and validates the result.
//
// A missing file is fine. A present one must sit under the user or system
// config directory, be mode 0600 or 0400 and be at most 1MiB.
//
// Environment keys drop the prefix and split once on underscore, so
// SWARMWEAVER_CONVERSATION_MAX_RECENT_MESSAGES sets
// conversation.max_recent_messages.
//
// An unset llm.api_key falls back to ANTHROPIC_API_KEY or OPENAI_API_KEY
// for the matching provider.
func LoadWithFile(path string) (*Config, error) {
	dir, err := userDir()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(dir, "config.yaml")
	}
	if err := checkLocation(path, dir, systemDir); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")
	data, err := readFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !cfg.LLM.APIKey.IsSet() {
		cfg.LLM.APIKey = Secret(os.Getenv(providerKeyEnv[cfg.LLM.Provider]))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// providerKeyEnv names the conventional API key variable per provider.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// envKey maps SWARMWEAVER_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	section, field, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_")
	if !ok {
		return section
	}
	return section + "." + field
}

// checkLocation requires path, after resolving symlinks, to lie inside one
// of dirs. The file need not exist.
func checkLocation(path string, dirs ...string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	for _, d := range dirs {
		if resolved, err := filepath.EvalSymlinks(d); err == nil {
			d = resolved
		}
		if abs == d || strings.HasPrefix(abs, d+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%s is outside %s", path, strings.Join(dirs, " and "))
}

// readFile checks mode and size on the open descriptor before reading.
func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0o600 && perm != 0o400 {
		return nil, fmt.Errorf("insecure config file permissions %v on %s: want 0600 or 0400", perm, path)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, limit %d", path, info.Size(), maxFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxFileSize))
}
