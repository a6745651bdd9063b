// Package config loads the control plane's startup configuration:
// environment variables first, with defaults, then an optional YAML overlay
// file for values an operator wants to pin outside the environment —
// following the teacher's registry/cmd/registry/main.go convention of
// env-or-default helpers at the entrypoint, layered with a file the same
// way goa.design/clue's own config loaders layer flag/env/file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattzcarey/sandbox-mcp/internal/modelcatalog"
)

// Config is everything cmd/sandbox-mcp needs to wire the service together
// (§6 "Environment" plus the object-store/workflow-engine bindings §6 and
// the DOMAIN STACK section name as required but unspecified in the
// distilled spec).
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listenAddr"`
	// BaseURL is this service's externally reachable origin (used to build
	// webUiUrl and, by default, ContainerProxyURL).
	BaseURL string `yaml:"baseUrl"`
	// ContainerProxyURL is the proxy origin reachable from inside a
	// sandbox. Defaults to BaseURL.
	ContainerProxyURL string `yaml:"containerProxyUrl"`
	// DefaultModel is DEFAULT_MODEL, the model a new session starts with.
	DefaultModel string `yaml:"defaultModel"`

	// AuthToken is the bearer required on the /mcp tool RPC surface.
	AuthToken string `yaml:"authToken"`
	// ProxyJWTSecret signs and verifies proxy tokens (HS256).
	ProxyJWTSecret string `yaml:"proxyJwtSecret"`

	// AnthropicAPIKey/GitHubToken are the real upstream credentials the
	// proxy injects; read fresh per request by the service layer, not
	// cached in this struct beyond startup (§5).
	AnthropicAPIKey  string `yaml:"-"`
	GitHubToken      string `yaml:"-"`
	AnthropicBaseURL string `yaml:"anthropicBaseUrl"`
	GitHubBaseURL    string `yaml:"githubBaseUrl"`

	// ObjectStoreBackend selects the objectstore implementation:
	// "memory" (default, for local/dev), "mongo", or "redis".
	ObjectStoreBackend string `yaml:"objectStoreBackend"`
	MongoURI           string `yaml:"-"`
	MongoDatabase      string `yaml:"mongoDatabase"`
	MongoCollection    string `yaml:"mongoCollection"`
	RedisURL           string `yaml:"-"`

	// WorkflowEngine selects the workflow.Engine implementation: "inmem"
	// (default) or "temporal".
	WorkflowEngine    string `yaml:"workflowEngine"`
	TemporalHostPort  string `yaml:"temporalHostPort"`
	TemporalNamespace string `yaml:"temporalNamespace"`
	TemporalTaskQueue string `yaml:"temporalTaskQueue"`

	// ProxyRateLimitRPS/Burst configure the per-service token bucket.
	ProxyRateLimitRPS   float64 `yaml:"proxyRateLimitRps"`
	ProxyRateLimitBurst int     `yaml:"proxyRateLimitBurst"`

	// SweepInterval/SweepGrace configure the stranded-run reconciliation
	// sweeper (internal/run.Sweeper).
	SweepInterval time.Duration `yaml:"sweepInterval"`
	SweepGrace    time.Duration `yaml:"sweepGrace"`
}

// Load builds a Config from environment variables, then applies an optional
// YAML overlay if configPath is non-empty or CONFIG_FILE is set. Only keys
// present in the YAML document override their env-derived value; a zero
// value set by env and absent from the file survives untouched, since
// yaml.Unmarshal never zeroes a field it doesn't see.
func Load(configPath string) (Config, error) {
	cfg := Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		BaseURL:             envOr("BASE_URL", "http://localhost:8080"),
		ContainerProxyURL:   os.Getenv("CONTAINER_PROXY_URL"),
		DefaultModel:        envOr("DEFAULT_MODEL", string(modelcatalog.Default)),
		AuthToken:           os.Getenv("AUTH_TOKEN"),
		ProxyJWTSecret:      os.Getenv("PROXY_JWT_SECRET"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		AnthropicBaseURL:    envOr("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		GitHubBaseURL:       envOr("GITHUB_BASE_URL", "https://github.com"),
		ObjectStoreBackend:  envOr("OBJECT_STORE_BACKEND", "memory"),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDatabase:       envOr("MONGO_DATABASE", "sandbox_mcp"),
		MongoCollection:     envOr("MONGO_COLLECTION", "objects"),
		RedisURL:            os.Getenv("REDIS_URL"),
		WorkflowEngine:      envOr("WORKFLOW_ENGINE", "inmem"),
		TemporalHostPort:    envOr("TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalNamespace:   envOr("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue:   envOr("TEMPORAL_TASK_QUEUE", "sandbox-mcp"),
		ProxyRateLimitRPS:   envFloatOr("PROXY_RATE_LIMIT_RPS", 10),
		ProxyRateLimitBurst: envIntOr("PROXY_RATE_LIMIT_BURST", 20),
		SweepInterval:       envDurationOr("SWEEP_INTERVAL", 5*time.Minute),
		SweepGrace:          envDurationOr("SWEEP_GRACE", 30*time.Minute),
	}
	if cfg.ContainerProxyURL == "" {
		cfg.ContainerProxyURL = cfg.BaseURL
	}

	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings this service cannot safely run without.
func (c Config) Validate() error {
	if c.AuthToken == "" {
		return fmt.Errorf("config: AUTH_TOKEN is required")
	}
	if c.ProxyJWTSecret == "" {
		return fmt.Errorf("config: PROXY_JWT_SECRET is required")
	}
	switch c.ObjectStoreBackend {
	case "memory", "mongo", "redis":
	default:
		return fmt.Errorf("config: unknown OBJECT_STORE_BACKEND %q", c.ObjectStoreBackend)
	}
	switch c.WorkflowEngine {
	case "inmem", "temporal":
	default:
		return fmt.Errorf("config: unknown WORKFLOW_ENGINE %q", c.WorkflowEngine)
	}
	return nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
