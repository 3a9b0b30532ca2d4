package handlers

import (
	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SubmitTurnRequest is the request format for POST /api/turns.
// An empty ConversationID starts a new conversation; the allocated ID comes
// back in the result.
type SubmitTurnRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Input          string `json:"input"`
}

// QueryRequest is the request format for POST /api/query.
type QueryRequest struct {
	Query          string `json:"query"`
	K              int    `json:"k,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Kind           string `json:"kind,omitempty"` // fact, preference, or episode
}

// QueryResponse is the response format for POST /api/query. Results carry
// their score components so clients can explain a ranking.
type QueryResponse struct {
	Query    string              `json:"query"`
	Results  []types.ScoredEntry `json:"results"`
	Fallback bool                `json:"fallback,omitempty"` // true when keyword retrieval served the query
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Engine             string `json:"engine"`
	Turns              int    `json:"turns"`
	Conversations      int    `json:"conversations"`
	MemoryEntries      int    `json:"memory_entries"`
	OpenTasks          int    `json:"open_tasks"`
	ActiveSessions     int    `json:"active_sessions"`
	ConsolidationQueue int    `json:"consolidation_queue"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ConfigResponse is the response format for GET /api/config.
// API keys are masked for security.
type ConfigResponse struct {
	Provider ProviderConfigResponse `json:"provider"`
	Storage  StorageConfigResponse  `json:"storage"`
	Agent    AgentConfigResponse    `json:"agent"`
}

// ProviderConfigResponse contains provider configuration with masked API keys.
type ProviderConfigResponse struct {
	Primary         string `json:"primary"`
	Fallback        string `json:"fallback,omitempty"`
	OllamaURL       string `json:"ollama_url"`
	OllamaModel     string `json:"ollama_model"`
	OpenAIAPIKey    string `json:"openai_api_key"` // Masked
	OpenAIModel     string `json:"openai_model"`
	AnthropicAPIKey string `json:"anthropic_api_key"` // Masked
	AnthropicModel  string `json:"anthropic_model"`
}

// StorageConfigResponse contains storage configuration.
type StorageConfigResponse struct {
	Engine   string `json:"engine"`
	DataPath string `json:"data_path,omitempty"`
}

// AgentConfigResponse contains controller tuning values.
type AgentConfigResponse struct {
	TurnTimeoutMs     int     `json:"turn_timeout_ms"`
	ConfidenceFloor   float64 `json:"confidence_floor"`
	RecentTurns       int     `json:"recent_turns"`
	ToneNormalization bool    `json:"tone_normalization"`
	IntentRefinement  bool    `json:"intent_refinement"`
}

// MaskAPIKey masks an API key for safe display.
// Shows first 7 chars and last 4 chars, hides the middle.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) < 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// ToConfigResponse converts a config.Config to ConfigResponse with masked keys.
func ToConfigResponse(cfg *config.Config) ConfigResponse {
	return ConfigResponse{
		Provider: ProviderConfigResponse{
			Primary:         cfg.Provider.Primary,
			Fallback:        cfg.Provider.Fallback,
			OllamaURL:       cfg.Provider.OllamaURL,
			OllamaModel:     cfg.Provider.OllamaModel,
			OpenAIAPIKey:    MaskAPIKey(cfg.Provider.OpenAIAPIKey),
			OpenAIModel:     cfg.Provider.OpenAIModel,
			AnthropicAPIKey: MaskAPIKey(cfg.Provider.AnthropicAPIKey),
			AnthropicModel:  cfg.Provider.AnthropicModel,
		},
		Storage: StorageConfigResponse{
			Engine:   cfg.Storage.Engine,
			DataPath: cfg.Storage.DataPath,
		},
		Agent: AgentConfigResponse{
			TurnTimeoutMs:     cfg.Agent.TurnTimeoutMs,
			ConfidenceFloor:   cfg.Agent.ConfidenceFloor,
			RecentTurns:       cfg.Context.RecentTurns,
			ToneNormalization: cfg.Agent.ToneNormalization,
			IntentRefinement:  cfg.Agent.IntentRefinement,
		},
	}
}
