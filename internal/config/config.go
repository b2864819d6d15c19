// Package config loads and validates all runtime configuration for the
// routing engine host.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.example.yaml file in the working directory.
// Environment variables take precedence over the YAML file — the same
// precedence rule the teacher gateway's config package follows.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/summary-router/internal/domain"
)

// Config is the top-level configuration container a host loads once at
// startup and hands to the Router Orchestrator and its collaborators.
type Config struct {
	// Port is the TCP port the HTTP front door listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// Routing is the host-supplied routing configuration, spec.md §3/§6.
	Routing domain.RoutingConfig

	// Gemini mirrors spec.md §6's gemini config block.
	Gemini domain.GeminiConfig

	// Providers holds the per-provider configuration block, keyed by
	// canonical provider id.
	Providers map[domain.ProviderId]domain.ProviderConfig

	// APIKeys holds the resolved provider API keys that back the primary
	// credential.Store — the Credential Resolver's first lookup tier.
	APIKeys map[domain.ProviderId]string

	// CostTracker controls which Tracker implementation a host wires up.
	CostTracker CostTrackerConfig

	// Redis holds the connection URL for the Redis-backed cost tracker.
	// Required only when CostTracker.Mode is "redis".
	Redis RedisConfig

	// CORSOrigins is the list of allowed CORS origins for the front door.
	CORSOrigins []string

	// AppBaseURL is used to construct absolute URLs (e.g. in webhook callbacks).
	AppBaseURL string
}

// CostTrackerConfig selects and sizes the Cost Tracker collaborator.
type CostTrackerConfig struct {
	// Mode selects the backend:
	//   "redis"  — persists cumulative usage via RedisTracker. Requires REDIS_URL.
	//   "memory" — process-local MemoryTracker. Default.
	Mode string

	// CycleCeiling is the maximum total tokens admitted within the current
	// cycle; 0 disables the ceiling.
	CycleCeiling int64
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// providerEnvKey is the per-provider {api key env var, base url env var,
// model env var} triple used to populate Providers/APIKeys from the
// environment, keyed by canonical provider id.
type providerEnvKey struct {
	id          domain.ProviderId
	apiKeyVar   string
	baseURLVar  string
	modelVar    string
}

var providerEnvKeys = []providerEnvKey{
	{id: "openai", apiKeyVar: "OPENAI_API_KEY", baseURLVar: "OPENAI_BASE_URL", modelVar: "OPENAI_MODEL"},
	{id: "anthropic", apiKeyVar: "ANTHROPIC_API_KEY", baseURLVar: "ANTHROPIC_BASE_URL", modelVar: "ANTHROPIC_MODEL"},
	{id: "mistral", apiKeyVar: "MISTRAL_API_KEY", baseURLVar: "MISTRAL_BASE_URL", modelVar: "MISTRAL_MODEL"},
	{id: "gemini", apiKeyVar: "GOOGLE_API_KEY", baseURLVar: "GEMINI_BASE_URL", modelVar: "GEMINI_MODEL"},
	{id: "huggingface", apiKeyVar: "HUGGINGFACE_API_KEY", baseURLVar: "HUGGINGFACE_BASE_URL", modelVar: "HUGGINGFACE_MODEL"},
	{id: "ollama", apiKeyVar: "", baseURLVar: "OLLAMA_BASE_URL", modelVar: "OLLAMA_MODEL"},
}

// Load reads configuration from environment variables and (optionally) from
// config.example.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config.example")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("RETRY_LIMIT", 2)
	v.SetDefault("TIMEOUT_MS", 10_000)
	v.SetDefault("MAX_TOKENS_PER_CALL", 0)
	v.SetDefault("DISABLE_PAID", false)
	v.SetDefault("DRY_RUN", false)

	v.SetDefault("GEMINI_PROJECT_ENV", "VERTEX_PROJECT")
	v.SetDefault("GEMINI_LOCATION_ENV", "VERTEX_LOCATION")
	v.SetDefault("GEMINI_CREDENTIALS_ENV", "VERTEX_CREDENTIALS_PATH")
	v.SetDefault("GEMINI_VERTEX_ENDPOINT_ENV", "VERTEX_ENDPOINT")
	v.SetDefault("GEMINI_DEFAULT_MODEL_FREE", "gemini-1.5-flash")
	v.SetDefault("GEMINI_DEFAULT_MODEL_PAID", "gemini-1.5-pro")

	v.SetDefault("COST_TRACKER_MODE", "memory")
	v.SetDefault("COST_TRACKER_CYCLE_CEILING", 0)

	// ── Build config ──────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Routing: domain.RoutingConfig{
			ProviderOrder:    parseProviderOrder(v.GetString("PROVIDER_ORDER")),
			RetryLimit:       uint32(v.GetInt("RETRY_LIMIT")),
			TimeoutMs:        uint32(v.GetInt("TIMEOUT_MS")),
			DisablePaid:      v.GetBool("DISABLE_PAID"),
			DryRun:           v.GetBool("DRY_RUN"),
			MaxTokensPerCall: uint32(v.GetInt("MAX_TOKENS_PER_CALL")),
		},

		Gemini: domain.GeminiConfig{
			ProjectEnv:        v.GetString("GEMINI_PROJECT_ENV"),
			LocationEnv:       v.GetString("GEMINI_LOCATION_ENV"),
			CredentialsEnv:    v.GetString("GEMINI_CREDENTIALS_ENV"),
			VertexEndpointEnv: v.GetString("GEMINI_VERTEX_ENDPOINT_ENV"),
			DefaultModelFree:  v.GetString("GEMINI_DEFAULT_MODEL_FREE"),
			DefaultModelPaid:  v.GetString("GEMINI_DEFAULT_MODEL_PAID"),
		},

		Providers: make(map[domain.ProviderId]domain.ProviderConfig, len(providerEnvKeys)),
		APIKeys:   make(map[domain.ProviderId]string, len(providerEnvKeys)),

		CostTracker: CostTrackerConfig{
			Mode:         strings.ToLower(v.GetString("COST_TRACKER_MODE")),
			CycleCeiling: v.GetInt64("COST_TRACKER_CYCLE_CEILING"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
		AppBaseURL:  v.GetString("APP_BASE_URL"),
	}

	for _, pk := range providerEnvKeys {
		cfg.Providers[pk.id] = domain.ProviderConfig{
			Model:        v.GetString(pk.modelVar),
			APIUrl:       envOrViper(v, pk.baseURLVar),
			APIKeyEnvVar: pk.apiKeyVar,
		}
		if pk.apiKeyVar != "" {
			if key := v.GetString(pk.apiKeyVar); key != "" {
				cfg.APIKeys[pk.id] = key
			}
		}
	}
	cfg.Providers["vertexai"] = domain.ProviderConfig{
		Model: v.GetString("VERTEX_MODEL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseProviderOrder splits a comma-separated PROVIDER_ORDER env var into
// canonical provider ids. An empty value leaves Routing.ProviderOrder nil,
// meaning no candidates apart from the caller's preference, per spec.md §6.
func parseProviderOrder(raw string) []domain.ProviderId {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]domain.ProviderId, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, domain.ProviderId(p))
		}
	}
	return out
}

func envOrViper(v *viper.Viper, key string) string {
	if key == "" {
		return ""
	}
	return v.GetString(key)
}

// validate checks all semantic constraints that cannot be expressed as
// viper defaults.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	switch c.CostTracker.Mode {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: invalid COST_TRACKER_MODE %q; must be one of: redis, memory", c.CostTracker.Mode)
	}

	if c.CostTracker.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("config: REDIS_URL is required when COST_TRACKER_MODE=redis; set COST_TRACKER_MODE=memory to use the built-in in-process tracker")
	}

	if !c.atLeastOneProviderKey() {
		return fmt.Errorf(
			"config: at least one provider credential is required " +
				"(OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, MISTRAL_API_KEY, " +
				"HUGGINGFACE_API_KEY, VERTEX_PROJECT, or an Ollama endpoint via OLLAMA_BASE_URL)",
		)
	}

	return nil
}

// atLeastOneProviderKey reports whether at least one provider is usable:
// either an API key was resolved, or the key-less ollama provider has a
// base URL configured, or Vertex's project env var points somewhere.
func (c *Config) atLeastOneProviderKey() bool {
	if len(c.APIKeys) > 0 {
		return true
	}
	if p, ok := c.Providers["ollama"]; ok && p.APIUrl != "" {
		return true
	}
	return strings.TrimSpace(os.Getenv(c.Gemini.ProjectEnv)) != ""
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
