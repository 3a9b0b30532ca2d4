package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/services"
	"github.com/scrypster/aide/internal/session"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// apiVersion is reported by the health endpoint.
const apiVersion = "1.0.0"

// TurnSubmitter runs one conversational turn. The agent controller
// implements it.
type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, conversationID, input string) (*types.TurnResult, error)
}

// MemoryQuerier serves relevance-ranked retrieval over consolidated memory.
// The memory store implements it.
type MemoryQuerier interface {
	Query(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error)
	QueryText(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error)
}

// ProfileAccessor reads and updates the acting user's profile.
type ProfileAccessor interface {
	Get(ctx context.Context, userID string) (types.UserProfile, error)
	Update(ctx context.Context, userID string, update services.ProfileUpdate) (types.UserProfile, error)
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	agent    TurnSubmitter
	store    storage.Store
	memory   MemoryQuerier
	profiles ProfileAccessor
	sessions *session.Manager
	hub      *WebSocketHub
	config   *config.Config
	userID   string
}

// NewAPIHandlers creates a new APIHandlers instance. memory and hub may be
// nil: the query endpoint then reports retrieval as unavailable, and turn
// events are not streamed.
func NewAPIHandlers(agent TurnSubmitter, store storage.Store, memory MemoryQuerier, profiles ProfileAccessor, sessions *session.Manager, hub *WebSocketHub, cfg *config.Config) *APIHandlers {
	userID := "local"
	if cfg != nil && cfg.User.DefaultUserID != "" {
		userID = cfg.User.DefaultUserID
	}
	return &APIHandlers{
		agent:    agent,
		store:    store,
		memory:   memory,
		profiles: profiles,
		sessions: sessions,
		hub:      hub,
		config:   cfg,
		userID:   userID,
	}
}

// SubmitTurn handles POST /api/turns - run one conversational turn.
func (h *APIHandlers) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req SubmitTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	result, err := h.agent.SubmitTurn(r.Context(), req.ConversationID, req.Input)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "input is required", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "turn failed", err)
		return
	}

	h.hub.BroadcastTurn(result)

	respondJSON(w, http.StatusOK, result)
}

// ListTurns handles GET /api/turns - list recorded turns with pagination.
// A conversation_id query parameter restricts the listing to one
// conversation; without it all conversations are listed.
func (h *APIHandlers) ListTurns(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)
	conversationID := r.URL.Query().Get("conversation_id")

	result, err := h.store.ListTurns(r.Context(), conversationID, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list turns", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetTurn handles GET /api/turns/{id} - get a single recorded turn.
func (h *APIHandlers) GetTurn(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "turn ID is required", nil)
		return
	}

	turn, err := h.store.GetTurn(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "turn not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get turn", err)
		return
	}

	respondJSON(w, http.StatusOK, turn)
}

// ListMemories handles GET /api/memories - list memory entries with
// pagination and filtering by kind or conversation.
func (h *APIHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)

	filters := types.QueryFilters{
		ConversationID: r.URL.Query().Get("conversation_id"),
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !types.IsValidMemoryKind(types.MemoryKind(kind)) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", kind), nil)
			return
		}
		filters.Kind = types.MemoryKind(kind)
	}

	result, err := h.store.ListEntries(r.Context(), filters, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list memories", err)
		return
	}

	// Embedding vectors are large and useless to clients; strip them from
	// list responses.
	for i := range result.Items {
		result.Items[i].Embedding = nil
	}

	respondJSON(w, http.StatusOK, result)
}

// GetMemory handles GET /api/memories/{id} - get a single memory entry.
func (h *APIHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	entry, err := h.store.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get memory", err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// DeleteMemory handles DELETE /api/memories/{id} - remove a memory entry.
// This is the user-facing forget path; turns are never deleted.
func (h *APIHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	if err := h.store.DeleteEntry(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete memory", err)
		return
	}

	// Return 204 No Content
	w.WriteHeader(http.StatusNoContent)
}

// Query handles POST /api/query - relevance-ranked memory retrieval.
// Embedding retrieval falls back to keyword retrieval when the embedding
// provider is missing or failing.
func (h *APIHandlers) Query(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		respondError(w, http.StatusServiceUnavailable, "memory retrieval is not configured", nil)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}

	filters := types.QueryFilters{ConversationID: req.ConversationID}
	if req.Kind != "" {
		if !types.IsValidMemoryKind(types.MemoryKind(req.Kind)) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", req.Kind), nil)
			return
		}
		filters.Kind = types.MemoryKind(req.Kind)
	}

	resp := QueryResponse{Query: req.Query}
	results, err := h.memory.Query(r.Context(), req.Query, req.K, filters)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid query", err)
			return
		}
		log.Printf("WARNING: embedding retrieval failed, falling back to keyword retrieval: %v", err)
		results, err = h.memory.QueryText(r.Context(), req.Query, req.K, filters)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "query failed", err)
			return
		}
		resp.Fallback = true
	}

	for i := range results {
		results[i].Entry.Embedding = nil
	}
	if results == nil {
		results = []types.ScoredEntry{}
	}
	resp.Results = results

	respondJSON(w, http.StatusOK, resp)
}

// ListTasks handles GET /api/tasks - list the acting user's tasks.
func (h *APIHandlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)

	var status types.TaskStatus
	switch s := r.URL.Query().Get("status"); s {
	case "", string(types.TaskStatusOpen), string(types.TaskStatusCompleted), string(types.TaskStatusCancelled):
		status = types.TaskStatus(s)
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s), nil)
		return
	}

	result, err := h.store.ListTasks(r.Context(), h.userID, status, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tasks", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ListConversations handles GET /api/conversations - the conversations
// currently live in the session registry.
func (h *APIHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sessions.List())
}

// GetProfile handles GET /api/profile - the acting user's effective profile.
func (h *APIHandlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.Get(r.Context(), h.userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load profile", err)
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

// UpdateProfile handles PUT /api/profile - apply a partial preference
// update. Fields absent from the body are left untouched.
func (h *APIHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update services.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	profile, err := h.profiles.Update(r.Context(), h.userID, update)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid profile update", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update profile", err)
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

// Health handles GET /api/health - liveness plus a storage ping.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.HealthCheck(ctx); err != nil {
		log.Printf("WARNING: health check failed: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Version: apiVersion})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: apiVersion})
}

// GetConfig handles GET /api/config - the effective configuration with
// masked API keys.
func (h *APIHandlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ToConfigResponse(h.config))
}

// listOptionsFromQuery builds ListOptions from the standard pagination query
// parameters.
func listOptionsFromQuery(r *http.Request) storage.ListOptions {
	opts := storage.ListOptions{
		Page:      parseInt(r.URL.Query().Get("page"), 1),
		Limit:     parseInt(r.URL.Query().Get("limit"), 20),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: r.URL.Query().Get("sort_order"),
	}
	opts.Normalize()
	return opts
}

// extractID extracts an ID from the request path using Go 1.22+ path values.
func extractID(r *http.Request, key string) string {
	return r.PathValue(key)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing to do but log.
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
