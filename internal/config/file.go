package config

// fileConfig mirrors Config with pointer fields so a YAML file only
// overrides the keys it actually sets.
type fileConfig struct {
	Server struct {
		Port          *int     `yaml:"port"`
		Host          *string  `yaml:"host"`
		APIToken      *string  `yaml:"api_token"`
		RatePerSecond *float64 `yaml:"rate_per_second"`
		RateBurst     *int     `yaml:"rate_burst"`
		Metrics       *bool    `yaml:"metrics"`
	} `yaml:"server"`

	Storage struct {
		Engine      *string `yaml:"engine"`
		DataPath    *string `yaml:"data_path"`
		PostgresDSN *string `yaml:"postgres_dsn"`
	} `yaml:"storage"`

	Provider struct {
		Primary              *string  `yaml:"primary"`
		Fallback             *string  `yaml:"fallback"`
		OllamaURL            *string  `yaml:"ollama_url"`
		OllamaModel          *string  `yaml:"ollama_model"`
		OllamaEmbeddingModel *string  `yaml:"ollama_embedding_model"`
		OpenAIAPIKey         *string  `yaml:"openai_api_key"`
		OpenAIModel          *string  `yaml:"openai_model"`
		OpenAIEmbeddingModel *string  `yaml:"openai_embedding_model"`
		AnthropicAPIKey      *string  `yaml:"anthropic_api_key"`
		AnthropicModel       *string  `yaml:"anthropic_model"`
		MaxTokens            *int     `yaml:"max_tokens"`
		Temperature          *float64 `yaml:"temperature"`
		TimeoutMs            *int     `yaml:"timeout_ms"`
		MaxRetries           *int     `yaml:"max_retries"`
	} `yaml:"provider"`

	Memory struct {
		RetrievalK           *int     `yaml:"retrieval_k"`
		ConsolidationEnabled *bool    `yaml:"consolidation_enabled"`
		Workers              *int     `yaml:"workers"`
		QueueSize            *int     `yaml:"queue_size"`
		RetryQueueSize       *int     `yaml:"retry_queue_size"`
		ShutdownTimeout      *string  `yaml:"shutdown_timeout"`
		DecayHalfLife        *string  `yaml:"decay_half_life"`
		DecayInterval        *string  `yaml:"decay_interval"`
		ExpiryAge            *string  `yaml:"expiry_age"`
		ExpiryScoreFloor     *float64 `yaml:"expiry_score_floor"`
	} `yaml:"memory"`

	Context struct {
		TokenBudget      *int `yaml:"token_budget"`
		RecentTurns      *int `yaml:"recent_turns"`
		EmbedRecentTurns *int `yaml:"embed_recent_turns"`
	} `yaml:"context"`

	Agent struct {
		TurnTimeoutMs     *int     `yaml:"turn_timeout_ms"`
		ConfidenceFloor   *float64 `yaml:"confidence_floor"`
		ToneNormalization *bool    `yaml:"tone_normalization"`
		IntentRefinement  *bool    `yaml:"intent_refinement"`
	} `yaml:"agent"`

	Backup struct {
		Enabled         *bool   `yaml:"enabled"`
		Interval        *string `yaml:"interval"`
		Path            *string `yaml:"path"`
		Verify          *bool   `yaml:"verify"`
		RetentionHourly *int    `yaml:"retention_hourly"`
		RetentionDaily  *int    `yaml:"retention_daily"`
	} `yaml:"backup"`

	User struct {
		DefaultUserID *string `yaml:"default_user_id"`
		DisplayName   *string `yaml:"display_name"`
	} `yaml:"user"`
}

// apply overlays every set field onto cfg.
func (f *fileConfig) apply(cfg *Config) {
	setInt(&cfg.Server.Port, f.Server.Port)
	setString(&cfg.Server.Host, f.Server.Host)
	setString(&cfg.Server.APIToken, f.Server.APIToken)
	setFloat(&cfg.Server.RatePerSecond, f.Server.RatePerSecond)
	setInt(&cfg.Server.RateBurst, f.Server.RateBurst)
	setBool(&cfg.Server.MetricsEnabled, f.Server.Metrics)

	setString(&cfg.Storage.Engine, f.Storage.Engine)
	setString(&cfg.Storage.DataPath, f.Storage.DataPath)
	setString(&cfg.Storage.PostgresDSN, f.Storage.PostgresDSN)

	setString(&cfg.Provider.Primary, f.Provider.Primary)
	setString(&cfg.Provider.Fallback, f.Provider.Fallback)
	setString(&cfg.Provider.OllamaURL, f.Provider.OllamaURL)
	setString(&cfg.Provider.OllamaModel, f.Provider.OllamaModel)
	setString(&cfg.Provider.OllamaEmbeddingModel, f.Provider.OllamaEmbeddingModel)
	setString(&cfg.Provider.OpenAIAPIKey, f.Provider.OpenAIAPIKey)
	setString(&cfg.Provider.OpenAIModel, f.Provider.OpenAIModel)
	setString(&cfg.Provider.OpenAIEmbeddingModel, f.Provider.OpenAIEmbeddingModel)
	setString(&cfg.Provider.AnthropicAPIKey, f.Provider.AnthropicAPIKey)
	setString(&cfg.Provider.AnthropicModel, f.Provider.AnthropicModel)
	setInt(&cfg.Provider.MaxTokens, f.Provider.MaxTokens)
	setFloat(&cfg.Provider.Temperature, f.Provider.Temperature)
	setInt(&cfg.Provider.TimeoutMs, f.Provider.TimeoutMs)
	setInt(&cfg.Provider.MaxRetries, f.Provider.MaxRetries)

	setInt(&cfg.Memory.RetrievalK, f.Memory.RetrievalK)
	setBool(&cfg.Memory.ConsolidationEnabled, f.Memory.ConsolidationEnabled)
	setInt(&cfg.Memory.Workers, f.Memory.Workers)
	setInt(&cfg.Memory.QueueSize, f.Memory.QueueSize)
	setInt(&cfg.Memory.RetryQueueSize, f.Memory.RetryQueueSize)
	setString(&cfg.Memory.ShutdownTimeout, f.Memory.ShutdownTimeout)
	setString(&cfg.Memory.DecayHalfLife, f.Memory.DecayHalfLife)
	setString(&cfg.Memory.DecayInterval, f.Memory.DecayInterval)
	setString(&cfg.Memory.ExpiryAge, f.Memory.ExpiryAge)
	setFloat(&cfg.Memory.ExpiryScoreFloor, f.Memory.ExpiryScoreFloor)

	setInt(&cfg.Context.TokenBudget, f.Context.TokenBudget)
	setInt(&cfg.Context.RecentTurns, f.Context.RecentTurns)
	setInt(&cfg.Context.EmbedRecentTurns, f.Context.EmbedRecentTurns)

	setInt(&cfg.Agent.TurnTimeoutMs, f.Agent.TurnTimeoutMs)
	setFloat(&cfg.Agent.ConfidenceFloor, f.Agent.ConfidenceFloor)
	setBool(&cfg.Agent.ToneNormalization, f.Agent.ToneNormalization)
	setBool(&cfg.Agent.IntentRefinement, f.Agent.IntentRefinement)

	setBool(&cfg.Backup.Enabled, f.Backup.Enabled)
	setString(&cfg.Backup.Interval, f.Backup.Interval)
	setString(&cfg.Backup.Path, f.Backup.Path)
	setBool(&cfg.Backup.Verify, f.Backup.Verify)
	setInt(&cfg.Backup.RetentionHourly, f.Backup.RetentionHourly)
	setInt(&cfg.Backup.RetentionDaily, f.Backup.RetentionDaily)

	setString(&cfg.User.DefaultUserID, f.User.DefaultUserID)
	setString(&cfg.User.DisplayName, f.User.DisplayName)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
