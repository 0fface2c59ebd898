package config

import (
	"fmt"
	"net/url"
	"slices"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Inference endpoint validation
	for name, raw := range map[string]string{
		"ollama_gpu_url":  c.OllamaGPUURL,
		"ollama_cpu_url":  c.OllamaCPUURL,
		"skills_base_url": c.SkillsBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s must be an absolute http(s) URL, got %q", ErrInvalidInferenceURL, name, raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: %s has unsupported scheme %q", ErrInvalidInferenceURL, name, u.Scheme)
		}
	}

	// 2. Model role assignments (all four roles must be backed by a model)
	for _, role := range []string{RoleLLM, RoleVLM, RoleEmbedding, RoleReranker} {
		if c.ModelForRole(role) == "" {
			return fmt.Errorf("%w: no model assigned for role %q", ErrInvalidModelName, role)
		}
	}

	// 3. Agent loop bounds
	if c.MaxToolIterations < 1 {
		return fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidMaxIterations, c.MaxToolIterations)
	}
	if c.ToolTimeoutSeconds < 1 {
		return fmt.Errorf("%w: tool_timeout_seconds must be >= 1, got %d", ErrInvalidTimeout, c.ToolTimeoutSeconds)
	}
	if c.SwapTimeoutSeconds < 1 {
		return fmt.Errorf("%w: swap_timeout_seconds must be >= 1, got %d", ErrInvalidTimeout, c.SwapTimeoutSeconds)
	}
	for tool, secs := range c.ToolTimeoutOverrides {
		if secs < 1 {
			return fmt.Errorf("%w: tool_timeout_overrides[%s] must be >= 1, got %d", ErrInvalidTimeout, tool, secs)
		}
	}

	// 4. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: must be one of %v, got %q", ErrInvalidPostgresSSLMode, validSSLModes, c.PostgresSSLMode)
	}

	return nil
}
