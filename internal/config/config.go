// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.yaroslav/config.yaml)
//  3. Default values (sensible defaults for an on-prem single-GPU deployment)
//
// Main configuration categories:
//   - Inference: Ollama GPU/CPU endpoints, model assignment per role (llm, vlm,
//     embedding, reranker), context window sizes
//   - Agent: tool-call iteration bound, tool and GPU swap timeouts
//   - Tools: base URL of the skills service plus per-tool timeout overrides
//   - Storage: PostgreSQL connection for session persistence (see storage.go)
//   - Serve: listen address, CORS origins, proxy trust, rate limiting
//   - Observability: OTLP trace export (see internal/observability)
//
// Security: sensitive data (passwords) are never logged; the config directory
// uses 0750 permissions. Validation is fail-fast with sentinel errors so
// callers can use errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidInferenceURL indicates an inference endpoint URL is invalid.
	ErrInvalidInferenceURL = errors.New("invalid inference URL")

	// ErrInvalidModelName indicates a model role has no model assigned.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxIterations indicates the tool iteration bound is out of range.
	ErrInvalidMaxIterations = errors.New("invalid max tool iterations")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Model role identifiers used in assignments and by the GPU scheduler.
const (
	RoleLLM       = "llm"
	RoleVLM       = "vlm"
	RoleEmbedding = "embedding"
	RoleReranker  = "reranker"
)

// Default budgets. The 120s tool budget and 90s swap budget match the
// contracts of the vision and retrieval skills.
const (
	DefaultToolTimeoutSeconds = 120
	DefaultSwapTimeoutSeconds = 90
	DefaultMaxToolIterations  = 5
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Inference endpoints. The GPU endpoint hosts the llm/vlm roles (one at a
	// time, arbitrated by internal/gpu); the CPU endpoint hosts embedding and
	// reranker, which never compete for VRAM.
	OllamaGPUURL string `mapstructure:"ollama_gpu_url" json:"ollama_gpu_url"`
	OllamaCPUURL string `mapstructure:"ollama_cpu_url" json:"ollama_cpu_url"`

	// Model assignment per role.
	LLMModel       string `mapstructure:"llm_model" json:"llm_model"`
	VLMModel       string `mapstructure:"vlm_model" json:"vlm_model"`
	EmbeddingModel string `mapstructure:"embedding_model" json:"embedding_model"`
	RerankerModel  string `mapstructure:"reranker_model" json:"reranker_model"`

	// Context window sizes passed on every model load.
	LLMNumCtx int `mapstructure:"llm_num_ctx" json:"llm_num_ctx"`
	VLMNumCtx int `mapstructure:"vlm_num_ctx" json:"vlm_num_ctx"`

	// Agent loop configuration.
	MaxToolIterations  int `mapstructure:"max_tool_iterations" json:"max_tool_iterations"`
	ToolTimeoutSeconds int `mapstructure:"tool_timeout_seconds" json:"tool_timeout_seconds"`
	SwapTimeoutSeconds int `mapstructure:"swap_timeout_seconds" json:"swap_timeout_seconds"`

	// SkillsBaseURL is the base URL of the retrieval/analysis skills service.
	// Tool endpoints are resolved relative to it (e.g. /skills/graph-search).
	SkillsBaseURL string `mapstructure:"skills_base_url" json:"skills_base_url"`

	// ToolTimeoutOverrides maps tool name to a per-tool timeout in seconds,
	// overriding tool_timeout_seconds for that tool only.
	ToolTimeoutOverrides map[string]int `mapstructure:"tool_timeout_overrides" json:"tool_timeout_overrides"`

	// Storage configuration (see storage.go for documentation).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve configuration.
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration.
	Otel OtelConfig `mapstructure:"otel" json:"otel"`
}

// OtelConfig holds OpenTelemetry trace export configuration.
// See internal/observability for the tracer provider setup.
type OtelConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (host:port, no scheme).
	// Empty disables trace export.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev).
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name on exported spans (default: yaroslav).
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".yaroslav")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when present.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Inference defaults (docker-compose service names)
	viper.SetDefault("ollama_gpu_url", "http://ollama-gpu:11434")
	viper.SetDefault("ollama_cpu_url", "http://ollama-cpu:11434")
	viper.SetDefault("llm_model", "qwen3:30b")
	viper.SetDefault("vlm_model", "qwen3-vl:14b")
	viper.SetDefault("embedding_model", "qwen3-embedding")
	viper.SetDefault("reranker_model", "qwen3-reranker")
	viper.SetDefault("llm_num_ctx", 16384)
	viper.SetDefault("vlm_num_ctx", 16384)

	// Agent loop defaults
	viper.SetDefault("max_tool_iterations", DefaultMaxToolIterations)
	viper.SetDefault("tool_timeout_seconds", DefaultToolTimeoutSeconds)
	viper.SetDefault("swap_timeout_seconds", DefaultSwapTimeoutSeconds)

	// Skills service
	viper.SetDefault("skills_base_url", "http://localhost:8000")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "yaroslav")
	viper.SetDefault("postgres_password", "yaroslav_dev_password")
	viper.SetDefault("postgres_db_name", "yaroslav")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Serve defaults
	viper.SetDefault("listen_addr", "127.0.0.1:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// Observability defaults (empty endpoint = export disabled)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.environment", "dev")
	viper.SetDefault("otel.service_name", "yaroslav")
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("ollama_gpu_url", "YAROSLAV_OLLAMA_GPU_URL")
	mustBind("ollama_cpu_url", "YAROSLAV_OLLAMA_CPU_URL")
	mustBind("llm_model", "YAROSLAV_LLM_MODEL")
	mustBind("vlm_model", "YAROSLAV_VLM_MODEL")
	mustBind("skills_base_url", "YAROSLAV_SKILLS_BASE_URL")
	mustBind("max_tool_iterations", "YAROSLAV_MAX_TOOL_ITERATIONS")
	mustBind("listen_addr", "YAROSLAV_LISTEN_ADDR")
	mustBind("cors_origins", "YAROSLAV_CORS_ORIGINS")
	mustBind("trust_proxy", "YAROSLAV_TRUST_PROXY")
	mustBind("rate_burst", "YAROSLAV_RATE_BURST")
	mustBind("postgres_password", "YAROSLAV_POSTGRES_PASSWORD")
	mustBind("otel.endpoint", "YAROSLAV_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked to prevent substring leaks;
// longer secrets keep the first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// ModelForRole returns the assigned model ID for a role, or "" if unknown.
func (c *Config) ModelForRole(role string) string {
	switch role {
	case RoleLLM:
		return c.LLMModel
	case RoleVLM:
		return c.VLMModel
	case RoleEmbedding:
		return c.EmbeddingModel
	case RoleReranker:
		return c.RerankerModel
	default:
		return ""
	}
}
