package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	dir := filepath.Join(home, ".config", "swarmweaver")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 8088
llm:
  provider: openai
  api_key: sk-yaml
  model: gpt-4o
loop:
  window: 2m
conversation:
  max_recent_messages: 10
  summary_threshold: 15
agents:
  - id: dev-1
    name: Devon
    role: DEVELOPER
    functions: [createBranch, createCommit]
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-yaml", cfg.LLM.APIKey.Value())
	assert.Equal(t, 2*time.Minute, cfg.Loop.Window)
	assert.Equal(t, 10, cfg.Conversation.MaxRecentMessages)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10*time.Minute, cfg.Loop.Cooldown)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "Devon", cfg.Agents[0].Name)
	assert.Equal(t, []string{"createBranch", "createCommit"}, cfg.Agents[0].Functions)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8088\nllm:\n  api_key: sk-yaml\n", 0600)

	t.Setenv("SWARMWEAVER_SERVER_HTTP_PORT", "7070")
	t.Setenv("SWARMWEAVER_LOOP_THRESHOLD", "5")
	t.Setenv("SWARMWEAVER_CONVERSATION_SUMMARY_RETRY_DELAY", "250ms")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Loop.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Conversation.SummaryRetryDelay)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey.Value())
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "llm:\n  api_key: sk\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0600))

	_, err := LoadWithFile(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("SWARMWEAVER_SERVER_HTTP_PORT"))
	assert.Equal(t, "conversation.max_recent_messages", envKey("SWARMWEAVER_CONVERSATION_MAX_RECENT_MESSAGES"))
	assert.Equal(t, "debug", envKey("SWARMWEAVER_DEBUG"))
}

func TestLoadWithFile_ProviderKeyFallback(t *testing.T) {
	setupTestHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("SWARMWEAVER_LLM_PROVIDER", "openai")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey.Value())
}

func TestLoadWithFile_SystemDirAllowed(t *testing.T) {
	assert.NoError(t, checkLocation("/etc/swarmweaver/config.yaml", "/nonexistent", systemDir))
	assert.Error(t, checkLocation("/etc/swarmweaver-other/config.yaml", systemDir))
}
