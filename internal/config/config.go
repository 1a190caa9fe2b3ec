// Package config loads the gateway's environment-variable-driven
// configuration once at startup (spec.md §6 "Environment"). It follows the
// teacher's own binaries: plain flag + os.Getenv, not a configuration
// framework.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the gateway's full runtime configuration: the core knobs named
// in spec.md §6 plus the domain-stack collaborators SPEC_FULL.md wires in
// (storage, cache, event bus, tracing).
type Config struct {
	// Core (spec.md §6)
	DBPath                 string
	MaxConcurrency         int
	DefaultTaskTimeout     time.Duration
	AbortTimeout           time.Duration
	CheckpointsPerWorkflow int

	// Domain-stack collaborators
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	// PulseRedisAddr, when set, turns on cross-process event fan-out over a
	// Pulse stream on this Redis instance. Empty (the default) runs with a
	// single in-process event bus only.
	PulseRedisAddr string
	OTELEndpoint   string

	// Transport
	HTTPHost string
	HTTPPort string

	// Embedding provider selection
	EmbedProvider    string // "openai" | "bedrock"
	OpenAIAPIKey     string
	OpenAIEmbedModel string
	BedrockModelID   string
	BedrockRegion    string

	// Sandbox
	SandboxImage   string
	SandboxTimeout time.Duration

	// AnthropicAPIKey, when set, upgrades decision-task evaluation from
	// pure static expression evaluation to a Claude-backed fallback for
	// conditions the static evaluator can't resolve deterministically. Empty
	// keeps evaluation fully static (decisioneval.StaticEvaluator only).
	AnthropicAPIKey        string
	AnthropicDecisionModel string

	// MCPServers maps a downstream MCP server name (the part of a
	// "server:tool" identifier before the colon) to the base URL its
	// JSON-RPC endpoint listens on, feeding internal/mcpclient.StaticRegistry.
	MCPServers map[string]string
}

const (
	defaultMaxConcurrency         = 8
	defaultTaskTimeout            = 30 * time.Second
	defaultAbortTimeout           = 5 * time.Second
	defaultCheckpointsPerWorkflow = 5
	defaultSandboxTimeout         = 20 * time.Second
)

// Load reads configuration from the environment, applying the same defaults
// the core falls back to when a variable is unset (spec.md §6 names the
// variables).
func Load() (Config, error) {
	cfg := Config{
		DBPath:                 getEnv("DB_PATH", "./pml-gateway.db"),
		MongoURI:               getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:          getEnv("MONGO_DATABASE", "pml_gateway"),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		PulseRedisAddr:         getEnv("PULSE_REDIS_ADDR", ""),
		OTELEndpoint:           getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		HTTPHost:               getEnv("HTTP_HOST", "localhost"),
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		EmbedProvider:          getEnv("EMBED_PROVIDER", "openai"),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbedModel:       getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		BedrockModelID:         getEnv("BEDROCK_EMBED_MODEL", "amazon.titan-embed-text-v2:0"),
		BedrockRegion:          getEnv("AWS_REGION", "us-east-1"),
		SandboxImage:           getEnv("SANDBOX_IMAGE", "pml-gateway/sandbox:latest"),
		MCPServers:             getEnvServerMap("MCP_SERVERS"),
		AnthropicAPIKey:        getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicDecisionModel: getEnv("ANTHROPIC_DECISION_MODEL", "claude-3-5-haiku-20241022"),
	}

	var err error
	if cfg.MaxConcurrency, err = getEnvInt("MAX_CONCURRENCY", defaultMaxConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.CheckpointsPerWorkflow, err = getEnvInt("CHECKPOINTS_PER_WORKFLOW", defaultCheckpointsPerWorkflow); err != nil {
		return Config{}, err
	}
	if cfg.DefaultTaskTimeout, err = getEnvMillis("DEFAULT_TASK_TIMEOUT_MS", defaultTaskTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AbortTimeout, err = getEnvMillis("ABORT_TIMEOUT_MS", defaultAbortTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SandboxTimeout, err = getEnvMillis("SANDBOX_TIMEOUT_MS", defaultSandboxTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("config: MAX_CONCURRENCY must be positive, got %d", c.MaxConcurrency)
	}
	if c.CheckpointsPerWorkflow <= 0 {
		return fmt.Errorf("config: CHECKPOINTS_PER_WORKFLOW must be positive, got %d", c.CheckpointsPerWorkflow)
	}
	switch c.EmbedProvider {
	case "openai", "bedrock":
	default:
		return fmt.Errorf("config: EMBED_PROVIDER must be one of openai, bedrock, got %q", c.EmbedProvider)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", key, v, err)
	}
	return n, nil
}

// getEnvServerMap parses a "name1=url1,name2=url2" env var into a name->URL
// map. A malformed entry (no "=") is skipped rather than failing startup;
// an unset or empty var yields an empty, non-nil map.
func getEnvServerMap(key string) map[string]string {
	out := map[string]string{}
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return out
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, found := strings.Cut(entry, "=")
		if !found || name == "" || url == "" {
			continue
		}
		out[name] = url
	}
	return out
}

func getEnvMillis(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer number of milliseconds, got %q: %w", key, v, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
