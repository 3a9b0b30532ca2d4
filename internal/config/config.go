// Package config provides configuration management for aide.
// It loads settings from environment variables with the AIDE_ prefix,
// optionally overlays a YAML config file, and provides sensible defaults
// for all configuration options.
//
// Precedence: YAML file values (when a file is given) override environment
// variables, which override defaults. Validate reports fatal gaps as
// ConfigurationError; callers treat those as startup failures.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/aide/pkg/types"
)

// Config holds all configuration settings for the aide application.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Provider ProviderConfig
	Memory   MemoryConfig
	Context  ContextConfig
	Agent    AgentConfig
	Backup   BackupConfig
	User     UserConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int     // Server port (default: 6464)
	Host           string  // Server host (default: 127.0.0.1)
	APIToken       string  // Bearer token guarding /api when set; empty disables auth
	RatePerSecond  float64 // Per-client request rate limit (default: 10)
	RateBurst      int     // Per-client burst allowance (default: 20)
	MetricsEnabled bool    // Expose Prometheus /metrics (default: true)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath    string // Path to the data directory for sqlite (default: ./data)
	PostgresDSN string // Connection string when Engine is postgres
}

// ProviderConfig contains LLM provider configuration. Primary and Fallback
// name interchangeable backends; the adapter falls back on provider errors.
type ProviderConfig struct {
	Primary  string // Primary backend: ollama, openai, anthropic (default: ollama)
	Fallback string // Fallback backend, empty disables fallback

	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama completion model (default: qwen2.5:7b)
	OllamaEmbeddingModel string // Ollama embedding model (default: nomic-embed-text)
	OpenAIAPIKey         string // OpenAI API key
	OpenAIModel          string // OpenAI completion model (default: gpt-4o-mini)
	OpenAIEmbeddingModel string // OpenAI embedding model (default: text-embedding-3-small)
	AnthropicAPIKey      string // Anthropic API key
	AnthropicModel       string // Anthropic model (default: claude-haiku-4-5-20251001)

	MaxTokens   int     // Completion token cap per call (default: 1024)
	Temperature float64 // Sampling temperature (default: 0.7)
	TimeoutMs   int     // Per-call timeout in milliseconds (default: 30000)
	MaxRetries  int     // Backoff retry attempts per backend (default: 2)

	RatePerSecond float64 // Client-side request rate toward providers (default: 4)
	RateBurst     int     // Client-side burst allowance (default: 8)
}

// MemoryConfig contains memory store and consolidation configuration.
type MemoryConfig struct {
	RetrievalK           int     // Top-K entries a query returns (default: 8)
	ConsolidationEnabled bool    // Run async consolidation (default: true)
	Workers              int     // Consolidation worker goroutines (default: 4)
	QueueSize            int     // Consolidation queue capacity (default: 256)
	RetryQueueSize       int     // Retry-write queue capacity for failed turn records (default: 128)
	ShutdownTimeout      string  // Drain timeout on shutdown, duration string (default: 30s)
	DecayHalfLife        string  // Half-life of the decay curve, duration string (default: 168h)
	DecayInterval        string  // How often the decay sweep runs, duration string (default: 1h)
	ExpiryAge            string  // Minimum age before ephemeral entries may expire (default: 336h)
	ExpiryScoreFloor     float64 // Decay score below which aged ephemeral entries expire (default: 0.25)
}

// ContextConfig contains context assembly configuration.
type ContextConfig struct {
	TokenBudget      int // Hard cap on assembled window size in estimated tokens (default: 2048)
	RecentTurns      int // How many recent turns assembly considers (default: 10)
	EmbedRecentTurns int // How many recent turns feed the query embedding (default: 3)
}

// AgentConfig contains controller configuration.
type AgentConfig struct {
	TurnTimeoutMs     int     // Per-request timeout in milliseconds (default: 30000)
	ConfidenceFloor   float64 // Minimum capability match confidence for dispatch (default: 0.55)
	ToneNormalization bool    // Post-process capability output with one LLM call (default: false)
	IntentRefinement  bool    // Refine ambiguous keyword intents with one LLM call (default: false)
}

// BackupConfig contains backup configuration.
type BackupConfig struct {
	Enabled         bool   // Enable automatic backups (default: false)
	Interval        string // Backup interval duration (default: 24h)
	Path            string // Path to backup directory (default: ./backups)
	Verify          bool   // Verify backups after creation (default: true)
	RetentionHourly int    // Number of hourly backups to keep (default: 24)
	RetentionDaily  int    // Number of daily backups to keep (default: 7)
}

// UserConfig contains the default user identity for single-user deployments.
type UserConfig struct {
	DefaultUserID string // User ID turns are attributed to when the front end sends none (default: local)
	DisplayName   string // Display name override; empty lets attribution detect one
}

// Provider backend names accepted by ProviderConfig.
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the AIDE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from environment variables and overlays
// the YAML file at path. File values take precedence over environment
// variables for every key the file sets.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var overlay fileConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	overlay.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for fatal gaps. Every failure is a
// *types.ConfigurationError; per the error design these abort startup.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return types.NewConfigurationError("AIDE_POSTGRES_DSN", "required when storage engine is postgres")
		}
	default:
		return types.NewConfigurationError("AIDE_STORAGE_ENGINE", fmt.Sprintf("unknown engine %q (want sqlite or postgres)", c.Storage.Engine))
	}

	if err := c.validateBackend("AIDE_PROVIDER_PRIMARY", c.Provider.Primary); err != nil {
		return err
	}
	if c.Provider.Fallback != "" {
		if c.Provider.Fallback == c.Provider.Primary {
			return types.NewConfigurationError("AIDE_PROVIDER_FALLBACK", "fallback must differ from primary")
		}
		if err := c.validateBackend("AIDE_PROVIDER_FALLBACK", c.Provider.Fallback); err != nil {
			return err
		}
	}

	if c.Context.TokenBudget <= 0 {
		return types.NewConfigurationError("AIDE_CONTEXT_TOKEN_BUDGET", "must be positive")
	}
	if c.Memory.RetrievalK <= 0 {
		return types.NewConfigurationError("AIDE_MEMORY_RETRIEVAL_K", "must be positive")
	}
	if c.Agent.TurnTimeoutMs <= 0 {
		return types.NewConfigurationError("AIDE_TURN_TIMEOUT_MS", "must be positive")
	}
	if c.Agent.ConfidenceFloor < 0 || c.Agent.ConfidenceFloor > 1 {
		return types.NewConfigurationError("AIDE_CONFIDENCE_FLOOR", "must be within [0,1]")
	}

	for key, value := range map[string]string{
		"AIDE_MEMORY_SHUTDOWN_TIMEOUT": c.Memory.ShutdownTimeout,
		"AIDE_DECAY_HALF_LIFE":         c.Memory.DecayHalfLife,
		"AIDE_DECAY_INTERVAL":          c.Memory.DecayInterval,
		"AIDE_MEMORY_EXPIRY_AGE":       c.Memory.ExpiryAge,
		"AIDE_BACKUP_INTERVAL":         c.Backup.Interval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return types.NewConfigurationError(key, fmt.Sprintf("invalid duration %q", value))
		}
	}

	return nil
}

// validateBackend checks one provider backend name and its credentials.
func (c *Config) validateBackend(key, backend string) error {
	switch backend {
	case BackendOllama:
		// Local backend, no credentials.
	case BackendOpenAI:
		if c.Provider.OpenAIAPIKey == "" {
			return types.NewConfigurationError("AIDE_OPENAI_API_KEY", "required when a provider slot is openai")
		}
	case BackendAnthropic:
		if c.Provider.AnthropicAPIKey == "" {
			return types.NewConfigurationError("AIDE_ANTHROPIC_API_KEY", "required when a provider slot is anthropic")
		}
	default:
		return types.NewConfigurationError(key, fmt.Sprintf("unknown backend %q (want ollama, openai, or anthropic)", backend))
	}
	return nil
}

// Duration helpers: these fields are validated in Validate, so parse errors
// here fall back to the documented defaults.

// MemoryShutdownTimeout returns the consolidation drain timeout.
func (c *Config) MemoryShutdownTimeout() time.Duration {
	return parseDurationOr(c.Memory.ShutdownTimeout, 30*time.Second)
}

// DecayHalfLife returns the decay curve half-life.
func (c *Config) DecayHalfLife() time.Duration {
	return parseDurationOr(c.Memory.DecayHalfLife, 168*time.Hour)
}

// DecayInterval returns the decay sweep cadence.
func (c *Config) DecayInterval() time.Duration {
	return parseDurationOr(c.Memory.DecayInterval, time.Hour)
}

// ExpiryAge returns the minimum age before ephemeral entries may expire.
func (c *Config) ExpiryAge() time.Duration {
	return parseDurationOr(c.Memory.ExpiryAge, 336*time.Hour)
}

// BackupInterval returns the backup cadence.
func (c *Config) BackupInterval() time.Duration {
	return parseDurationOr(c.Backup.Interval, 24*time.Hour)
}

// ProviderTimeout returns the per-call provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutMs) * time.Millisecond
}

// TurnTimeout returns the per-request controller timeout.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Agent.TurnTimeoutMs) * time.Millisecond
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults. This is the shared base for LoadConfig and LoadConfigFile.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("AIDE_PORT", 6464),
			Host:           getEnv("AIDE_HOST", "127.0.0.1"),
			APIToken:       getEnv("AIDE_API_TOKEN", ""),
			RatePerSecond:  getEnvFloat("AIDE_RATE_PER_SECOND", 10.0),
			RateBurst:      getEnvInt("AIDE_RATE_BURST", 20),
			MetricsEnabled: getEnvBool("AIDE_METRICS_ENABLED", true),
		},
		Storage: StorageConfig{
			Engine:      getEnv("AIDE_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("AIDE_DATA_PATH", "./data"),
			PostgresDSN: getEnv("AIDE_POSTGRES_DSN", ""),
		},
		Provider: ProviderConfig{
			Primary:              getEnv("AIDE_PROVIDER_PRIMARY", BackendOllama),
			Fallback:             getEnv("AIDE_PROVIDER_FALLBACK", ""),
			OllamaURL:            getEnv("AIDE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("AIDE_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaEmbeddingModel: getEnv("AIDE_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:         getEnv("AIDE_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("AIDE_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIEmbeddingModel: getEnv("AIDE_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			AnthropicAPIKey:      getEnv("AIDE_ANTHROPIC_API_KEY", ""),
			AnthropicModel:       getEnv("AIDE_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			MaxTokens:            getEnvInt("AIDE_PROVIDER_MAX_TOKENS", 1024),
			Temperature:          getEnvFloat("AIDE_PROVIDER_TEMPERATURE", 0.7),
			TimeoutMs:            getEnvInt("AIDE_PROVIDER_TIMEOUT_MS", 30000),
			MaxRetries:           getEnvInt("AIDE_PROVIDER_MAX_RETRIES", 2),
			RatePerSecond:        getEnvFloat("AIDE_PROVIDER_RATE_PER_SECOND", 4.0),
			RateBurst:            getEnvInt("AIDE_PROVIDER_RATE_BURST", 8),
		},
		Memory: MemoryConfig{
			RetrievalK:           getEnvInt("AIDE_MEMORY_RETRIEVAL_K", 8),
			ConsolidationEnabled: getEnvBool("AIDE_CONSOLIDATION_ENABLED", true),
			Workers:              getEnvInt("AIDE_CONSOLIDATION_WORKERS", 4),
			QueueSize:            getEnvInt("AIDE_CONSOLIDATION_QUEUE_SIZE", 256),
			RetryQueueSize:       getEnvInt("AIDE_RETRY_QUEUE_SIZE", 128),
			ShutdownTimeout:      getEnv("AIDE_MEMORY_SHUTDOWN_TIMEOUT", "30s"),
			DecayHalfLife:        getEnv("AIDE_DECAY_HALF_LIFE", "168h"),
			DecayInterval:        getEnv("AIDE_DECAY_INTERVAL", "1h"),
			ExpiryAge:            getEnv("AIDE_MEMORY_EXPIRY_AGE", "336h"),
			ExpiryScoreFloor:     getEnvFloat("AIDE_MEMORY_EXPIRY_FLOOR", 0.25),
		},
		Context: ContextConfig{
			TokenBudget:      getEnvInt("AIDE_CONTEXT_TOKEN_BUDGET", 2048),
			RecentTurns:      getEnvInt("AIDE_CONTEXT_RECENT_TURNS", 10),
			EmbedRecentTurns: getEnvInt("AIDE_CONTEXT_EMBED_TURNS", 3),
		},
		Agent: AgentConfig{
			TurnTimeoutMs:     getEnvInt("AIDE_TURN_TIMEOUT_MS", 30000),
			ConfidenceFloor:   getEnvFloat("AIDE_CONFIDENCE_FLOOR", 0.55),
			ToneNormalization: getEnvBool("AIDE_TONE_NORMALIZATION", false),
			IntentRefinement:  getEnvBool("AIDE_INTENT_REFINEMENT", false),
		},
		Backup: BackupConfig{
			Enabled:         getEnvBool("AIDE_BACKUP_ENABLED", false),
			Interval:        getEnv("AIDE_BACKUP_INTERVAL", "24h"),
			Path:            getEnv("AIDE_BACKUP_PATH", "./backups"),
			Verify:          getEnvBool("AIDE_BACKUP_VERIFY", true),
			RetentionHourly: getEnvInt("AIDE_BACKUP_RETENTION_HOURLY", 24),
			RetentionDaily:  getEnvInt("AIDE_BACKUP_RETENTION_DAILY", 7),
		},
		User: UserConfig{
			DefaultUserID: getEnv("AIDE_USER_ID", "local"),
			DisplayName:   getEnv("AIDE_USER_NAME", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as a float,
// it returns the default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
