package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultMaxConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, defaultTaskTimeout, cfg.DefaultTaskTimeout)
	assert.Equal(t, defaultAbortTimeout, cfg.AbortTimeout)
	assert.Equal(t, defaultCheckpointsPerWorkflow, cfg.CheckpointsPerWorkflow)
	assert.Equal(t, "openai", cfg.EmbedProvider)
	assert.Empty(t, cfg.PulseRedisAddr, "cross-process fan-out must stay opt-in")
	assert.Empty(t, cfg.AnthropicAPIKey, "decision evaluation must stay fully static by default")
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.AnthropicDecisionModel)
}

func TestLoad_ReadsAnthropicEnvVars(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("ANTHROPIC_DECISION_MODEL", "claude-sonnet-4-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.AnthropicAPIKey)
	assert.Equal(t, "claude-sonnet-4-5", cfg.AnthropicDecisionModel)
}

func TestLoad_ReadsPulseRedisAddr(t *testing.T) {
	t.Setenv("PULSE_REDIS_ADDR", "pulse-redis:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pulse-redis:6379", cfg.PulseRedisAddr)
}

func TestLoad_ReadsCoreEnvVars(t *testing.T) {
	t.Setenv("DB_PATH", "/var/lib/pml/gateway.db")
	t.Setenv("MAX_CONCURRENCY", "32")
	t.Setenv("DEFAULT_TASK_TIMEOUT_MS", "5000")
	t.Setenv("ABORT_TIMEOUT_MS", "2000")
	t.Setenv("CHECKPOINTS_PER_WORKFLOW", "100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pml/gateway.db", cfg.DBPath)
	assert.Equal(t, 32, cfg.MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.DefaultTaskTimeout)
	assert.Equal(t, 2*time.Second, cfg.AbortTimeout)
	assert.Equal(t, 100, cfg.CheckpointsPerWorkflow)
}

func TestLoad_RejectsNonIntegerMaxConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsZeroMaxConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownEmbedProvider(t *testing.T) {
	t.Setenv("EMBED_PROVIDER", "cohere")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_AcceptsBedrockEmbedProvider(t *testing.T) {
	t.Setenv("EMBED_PROVIDER", "bedrock")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bedrock", cfg.EmbedProvider)
}

func TestLoad_ParsesMCPServersMap(t *testing.T) {
	t.Setenv("MCP_SERVERS", "github=http://mcp-github:9000,slack=http://mcp-slack:9001")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"github": "http://mcp-github:9000",
		"slack":  "http://mcp-slack:9001",
	}, cfg.MCPServers)
}

func TestLoad_SkipsMalformedMCPServerEntries(t *testing.T) {
	t.Setenv("MCP_SERVERS", "github=http://mcp-github:9000, not-an-entry ,=http://missing-name,slack=")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"github": "http://mcp-github:9000"}, cfg.MCPServers)
}

func TestLoad_EmptyMCPServersWhenUnset(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)
}
