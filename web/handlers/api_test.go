package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/services"
	"github.com/scrypster/aide/internal/session"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of storage.Store for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetTurn(ctx context.Context, id string) (*types.Turn, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Turn), args.Error(1)
}

func (m *MockStore) ListTurns(ctx context.Context, conversationID string, opts storage.ListOptions) (*storage.PaginatedResult[types.Turn], error) {
	args := m.Called(ctx, conversationID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PaginatedResult[types.Turn]), args.Error(1)
}

func (m *MockStore) GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MemoryEntry), args.Error(1)
}

func (m *MockStore) ListEntries(ctx context.Context, filters types.QueryFilters, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryEntry], error) {
	args := m.Called(ctx, filters, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PaginatedResult[types.MemoryEntry]), args.Error(1)
}

func (m *MockStore) DeleteEntry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) ListTasks(ctx context.Context, userID string, status types.TaskStatus, opts storage.ListOptions) (*storage.PaginatedResult[types.Task], error) {
	args := m.Called(ctx, userID, status, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PaginatedResult[types.Task]), args.Error(1)
}

func (m *MockStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) StoreTurn(_ context.Context, _ *types.Turn) error { return nil }

func (m *MockStore) RecentTurns(_ context.Context, _ string, _ int) ([]types.Turn, error) {
	return nil, nil
}

func (m *MockStore) CountTurns(_ context.Context, _ string) (int, error) { return 0, nil }

func (m *MockStore) StoreEntry(_ context.Context, _ *types.MemoryEntry) error { return nil }

func (m *MockStore) SearchByEmbedding(_ context.Context, _ []float32, _ int, _ types.QueryFilters) ([]storage.EntryMatch, error) {
	return nil, nil
}

func (m *MockStore) IncrementAccess(_ context.Context, _ string) error { return nil }

func (m *MockStore) UpdateDecay(_ context.Context, _ string, _ float64, _ time.Time) error {
	return nil
}

func (m *MockStore) ExpireEntries(_ context.Context, _ time.Time, _ float64) (int, error) {
	return 0, nil
}

func (m *MockStore) CountEntries(_ context.Context) (int, error) { return 0, nil }

func (m *MockStore) StoreTask(_ context.Context, _ *types.Task) error { return nil }

func (m *MockStore) GetTask(_ context.Context, _ string) (*types.Task, error) {
	return nil, storage.ErrNotFound
}

func (m *MockStore) GetTaskByDedupeToken(_ context.Context, _ string) (*types.Task, error) {
	return nil, storage.ErrNotFound
}

func (m *MockStore) StoreProfile(_ context.Context, _ *types.UserProfile) error { return nil }

func (m *MockStore) GetProfile(_ context.Context, _ string) (*types.UserProfile, error) {
	return nil, storage.ErrNotFound
}

func (m *MockStore) Stats(_ context.Context) (*storage.Stats, error) { return nil, nil }

func (m *MockStore) Close() error { return nil }

// MockAgent is a mock implementation of TurnSubmitter for testing.
type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) SubmitTurn(ctx context.Context, conversationID, input string) (*types.TurnResult, error) {
	args := m.Called(ctx, conversationID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.TurnResult), args.Error(1)
}

// MockMemoryQuerier is a mock implementation of MemoryQuerier for testing.
type MockMemoryQuerier struct {
	mock.Mock
}

func (m *MockMemoryQuerier) Query(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error) {
	args := m.Called(ctx, queryText, k, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ScoredEntry), args.Error(1)
}

func (m *MockMemoryQuerier) QueryText(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error) {
	args := m.Called(ctx, queryText, k, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ScoredEntry), args.Error(1)
}

// MockProfileAccessor is a mock implementation of ProfileAccessor for testing.
type MockProfileAccessor struct {
	mock.Mock
}

func (m *MockProfileAccessor) Get(ctx context.Context, userID string) (types.UserProfile, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.UserProfile), args.Error(1)
}

func (m *MockProfileAccessor) Update(ctx context.Context, userID string, update services.ProfileUpdate) (types.UserProfile, error) {
	args := m.Called(ctx, userID, update)
	return args.Get(0).(types.UserProfile), args.Error(1)
}

// newTestHandlers wires an APIHandlers over mocks with a fresh session
// registry and a zero config (acting user defaults to "local").
func newTestHandlers(agent TurnSubmitter, store storage.Store, memory MemoryQuerier, profiles ProfileAccessor) *APIHandlers {
	sessions := session.NewManager(store, session.DefaultConfig())
	return NewAPIHandlers(agent, store, memory, profiles, sessions, nil, &config.Config{})
}

// TestAPIHandlers_SubmitTurn tests the turn submission endpoint.
func TestAPIHandlers_SubmitTurn(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		mockSetup      func(*MockAgent)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:        "successful turn",
			requestBody: map[string]interface{}{"input": "remind me to call Alice"},
			mockSetup: func(m *MockAgent) {
				m.On("SubmitTurn", mock.Anything, "", "remind me to call Alice").Return(&types.TurnResult{
					TurnID:         "turn:1",
					ConversationID: "conv:1",
					Response:       "Will do.",
					Intent:         types.IntentTask,
					Capability:     "task_manager",
				}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var result types.TurnResult
				assert.NoError(t, json.Unmarshal(body, &result))
				assert.Equal(t, "turn:1", result.TurnID)
				assert.Equal(t, "Will do.", result.Response)
				assert.Equal(t, "task_manager", result.Capability)
			},
		},
		{
			name: "continues existing conversation",
			requestBody: map[string]interface{}{
				"conversation_id": "conv:42",
				"input":           "thanks",
			},
			mockSetup: func(m *MockAgent) {
				m.On("SubmitTurn", mock.Anything, "conv:42", "thanks").Return(&types.TurnResult{
					TurnID:         "turn:2",
					ConversationID: "conv:42",
					Response:       "Anytime.",
				}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var result types.TurnResult
				assert.NoError(t, json.Unmarshal(body, &result))
				assert.Equal(t, "conv:42", result.ConversationID)
			},
		},
		{
			name:        "blank input",
			requestBody: map[string]interface{}{"input": "   "},
			mockSetup: func(m *MockAgent) {
				m.On("SubmitTurn", mock.Anything, "", "   ").Return(nil,
					fmt.Errorf("%w: turn input is required", storage.ErrInvalidInput))
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "input is required")
			},
		},
		{
			name:        "agent failure",
			requestBody: map[string]interface{}{"input": "hello"},
			mockSetup: func(m *MockAgent) {
				m.On("SubmitTurn", mock.Anything, "", "hello").Return(nil, errors.New("all providers exhausted"))
			},
			expectedStatus: http.StatusInternalServerError,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "turn failed")
			},
		},
		{
			name:        "invalid JSON",
			requestBody: "not json",
			mockSetup: func(m *MockAgent) {
				// No mock setup - should fail parsing
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "parse")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAgent := new(MockAgent)
			tt.mockSetup(mockAgent)

			handlers := newTestHandlers(mockAgent, new(MockStore), nil, nil)

			var body []byte
			if str, ok := tt.requestBody.(string); ok {
				body = []byte(str)
			} else {
				body, _ = json.Marshal(tt.requestBody)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/turns", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handlers.SubmitTurn(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockAgent.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_ListTurns tests the turn listing endpoint with pagination
// and conversation filtering.
func TestAPIHandlers_ListTurns(t *testing.T) {
	tests := []struct {
		name           string
		queryParams    string
		mockSetup      func(*MockStore)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:        "successful list with defaults",
			queryParams: "",
			mockSetup: func(m *MockStore) {
				m.On("ListTurns", mock.Anything, "", mock.MatchedBy(func(opts storage.ListOptions) bool {
					return opts.Page == 1 && opts.Limit == 20
				})).Return(&storage.PaginatedResult[types.Turn]{
					Items:    []types.Turn{{ID: "turn:1", ConversationID: "conv:1", Input: "hi"}},
					Total:    1,
					Page:     1,
					PageSize: 20,
					HasMore:  false,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var result storage.PaginatedResult[types.Turn]
				assert.NoError(t, json.Unmarshal(body, &result))
				assert.Equal(t, 1, result.Total)
				assert.Len(t, result.Items, 1)
				assert.Equal(t, "turn:1", result.Items[0].ID)
			},
		},
		{
			name:        "filter by conversation",
			queryParams: "?conversation_id=conv:42",
			mockSetup: func(m *MockStore) {
				m.On("ListTurns", mock.Anything, "conv:42", mock.Anything).Return(&storage.PaginatedResult[types.Turn]{
					Items:    []types.Turn{{ID: "turn:2", ConversationID: "conv:42"}},
					Total:    1,
					Page:     1,
					PageSize: 20,
					HasMore:  false,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var result storage.PaginatedResult[types.Turn]
				assert.NoError(t, json.Unmarshal(body, &result))
				assert.Equal(t, "conv:42", result.Items[0].ConversationID)
			},
		},
		{
			name:        "pagination parameters",
			queryParams: "?page=2&limit=50",
			mockSetup: func(m *MockStore) {
				m.On("ListTurns", mock.Anything, "", mock.MatchedBy(func(opts storage.ListOptions) bool {
					return opts.Page == 2 && opts.Limit == 50
				})).Return(&storage.PaginatedResult[types.Turn]{
					Items:    []types.Turn{},
					Total:    120,
					Page:     2,
					PageSize: 50,
					HasMore:  true,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var result storage.PaginatedResult[types.Turn]
				assert.NoError(t, json.Unmarshal(body, &result))
				assert.True(t, result.HasMore)
			},
		},
		{
			name:        "store error",
			queryParams: "",
			mockSetup: func(m *MockStore) {
				m.On("ListTurns", mock.Anything, "", mock.Anything).Return(nil, errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(MockStore)
			tt.mockSetup(mockStore)

			handlers := newTestHandlers(nil, mockStore, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/turns"+tt.queryParams, nil)
			rec := httptest.NewRecorder()

			handlers.ListTurns(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockStore.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_GetTurn tests the single turn endpoint.
func TestAPIHandlers_GetTurn(t *testing.T) {
	testTurn := &types.Turn{
		ID:             "turn:abc",
		ConversationID: "conv:1",
		Input:          "what's on my list?",
		Response:       "Two open tasks.",
		Timestamp:      time.Now().UTC(),
	}

	tests := []struct {
		name           string
		turnID         string
		mockSetup      func(*MockStore)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:   "successful get",
			turnID: "turn:abc",
			mockSetup: func(m *MockStore) {
				m.On("GetTurn", mock.Anything, "turn:abc").Return(testTurn, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var turn types.Turn
				assert.NoError(t, json.Unmarshal(body, &turn))
				assert.Equal(t, "turn:abc", turn.ID)
				assert.Equal(t, "Two open tasks.", turn.Response)
			},
		},
		{
			name:   "turn not found",
			turnID: "turn:missing",
			mockSetup: func(m *MockStore) {
				m.On("GetTurn", mock.Anything, "turn:missing").Return(nil, storage.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "not found")
			},
		},
		{
			name:   "missing turn ID",
			turnID: "",
			mockSetup: func(m *MockStore) {
				// No mock setup needed - should fail validation
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "turn ID")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(MockStore)
			tt.mockSetup(mockStore)

			handlers := newTestHandlers(nil, mockStore, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/turns/"+tt.turnID, nil)
			req.SetPathValue("id", tt.turnID)
			rec := httptest.NewRecorder()

			handlers.GetTurn(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockStore.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_ListMemories tests the memory listing endpoint with kind
// filtering and embedding stripping.
func TestAPIHandlers_ListMemories(t *testing.T) {
	tests := []struct {
		name           string
		queryParams    string
		mockSetup      func(*MockStore)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:        "successful list strips embeddings",
			queryParams: "",
			mockSetup: func(m *MockStore) {
				m.On("ListEntries", mock.Anything, mock.Anything, mock.MatchedBy(func(opts storage.ListOptions) bool {
					return opts.Page == 1 && opts.Limit == 20
				})).Return(&storage.PaginatedResult[types.MemoryEntry]{
					Items: []types.MemoryEntry{{
						ID:            "mem:1",
						Content:       "prefers window seats",
						Kind:          types.KindPreference,
						SourceTurnIDs: []string{"turn:1"},
						Embedding:     []float32{0.1, 0.2, 0.3},
					}},
					Total:    1,
					Page:     1,
					PageSize: 20,
					HasMore:  false,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var result storage.PaginatedResult[types.MemoryEntry]
				assert.NoError(t, json.Unmarshal(body, &result))
				assert.Len(t, result.Items, 1)
				assert.Equal(t, "mem:1", result.Items[0].ID)
				assert.Empty(t, result.Items[0].Embedding, "embedding vectors must not be returned in listings")
			},
		},
		{
			name:        "filter by kind",
			queryParams: "?kind=preference",
			mockSetup: func(m *MockStore) {
				m.On("ListEntries", mock.Anything, mock.MatchedBy(func(f types.QueryFilters) bool {
					return f.Kind == types.KindPreference
				}), mock.Anything).Return(&storage.PaginatedResult[types.MemoryEntry]{
					Items:    []types.MemoryEntry{},
					Total:    0,
					Page:     1,
					PageSize: 20,
					HasMore:  false,
				}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "filter by conversation",
			queryParams: "?conversation_id=conv:42",
			mockSetup: func(m *MockStore) {
				m.On("ListEntries", mock.Anything, mock.MatchedBy(func(f types.QueryFilters) bool {
					return f.ConversationID == "conv:42"
				}), mock.Anything).Return(&storage.PaginatedResult[types.MemoryEntry]{
					Items:    []types.MemoryEntry{},
					Total:    0,
					Page:     1,
					PageSize: 20,
					HasMore:  false,
				}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "unknown kind",
			queryParams: "?kind=bogus",
			mockSetup: func(m *MockStore) {
				// No mock setup - should fail validation before hitting the store
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "unknown kind")
			},
		},
		{
			name:        "store error",
			queryParams: "",
			mockSetup: func(m *MockStore) {
				m.On("ListEntries", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(MockStore)
			tt.mockSetup(mockStore)

			handlers := newTestHandlers(nil, mockStore, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/memories"+tt.queryParams, nil)
			rec := httptest.NewRecorder()

			handlers.ListMemories(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockStore.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_GetMemory tests the single memory entry endpoint.
func TestAPIHandlers_GetMemory(t *testing.T) {
	testEntry := &types.MemoryEntry{
		ID:            "mem:abc",
		Content:       "sister's name is Alice",
		Kind:          types.KindFact,
		SourceTurnIDs: []string{"turn:1"},
		Retention:     types.RetentionDurable,
		Importance:    0.8,
	}

	tests := []struct {
		name           string
		memoryID       string
		mockSetup      func(*MockStore)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:     "successful get",
			memoryID: "mem:abc",
			mockSetup: func(m *MockStore) {
				m.On("GetEntry", mock.Anything, "mem:abc").Return(testEntry, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var entry types.MemoryEntry
				assert.NoError(t, json.Unmarshal(body, &entry))
				assert.Equal(t, "mem:abc", entry.ID)
				assert.Equal(t, types.KindFact, entry.Kind)
			},
		},
		{
			name:     "memory not found",
			memoryID: "mem:missing",
			mockSetup: func(m *MockStore) {
				m.On("GetEntry", mock.Anything, "mem:missing").Return(nil, storage.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "not found")
			},
		},
		{
			name:     "missing memory ID",
			memoryID: "",
			mockSetup: func(m *MockStore) {
				// No mock setup needed - should fail validation
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "memory ID")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(MockStore)
			tt.mockSetup(mockStore)

			handlers := newTestHandlers(nil, mockStore, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/memories/"+tt.memoryID, nil)
			req.SetPathValue("id", tt.memoryID)
			rec := httptest.NewRecorder()

			handlers.GetMemory(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockStore.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_DeleteMemory tests the forget endpoint.
func TestAPIHandlers_DeleteMemory(t *testing.T) {
	tests := []struct {
		name           string
		memoryID       string
		mockSetup      func(*MockStore)
		expectedStatus int
	}{
		{
			name:     "successful delete",
			memoryID: "mem:abc",
			mockSetup: func(m *MockStore) {
				m.On("DeleteEntry", mock.Anything, "mem:abc").Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:     "memory not found",
			memoryID: "mem:missing",
			mockSetup: func(m *MockStore) {
				m.On("DeleteEntry", mock.Anything, "mem:missing").Return(storage.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:     "missing memory ID",
			memoryID: "",
			mockSetup: func(m *MockStore) {
				// No mock setup needed - should fail validation
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(MockStore)
			tt.mockSetup(mockStore)

			handlers := newTestHandlers(nil, mockStore, nil, nil)

			req := httptest.NewRequest(http.MethodDelete, "/api/memories/"+tt.memoryID, nil)
			req.SetPathValue("id", tt.memoryID)
			rec := httptest.NewRecorder()

			handlers.DeleteMemory(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			mockStore.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_Query_NotConfigured verifies the query endpoint degrades
// cleanly when no memory store is wired in.
func TestAPIHandlers_Query_NotConfigured(t *testing.T) {
	handlers := newTestHandlers(nil, new(MockStore), nil, nil)

	body := bytes.NewReader([]byte(`{"query":"coffee"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/query", body)
	rec := httptest.NewRecorder()

	handlers.Query(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestAPIHandlers_Query tests relevance-ranked retrieval including the
// keyword fallback path.
func TestAPIHandlers_Query(t *testing.T) {
	scored := []types.ScoredEntry{{
		Entry: types.MemoryEntry{
			ID:            "mem:1",
			Content:       "prefers oat milk",
			Kind:          types.KindPreference,
			SourceTurnIDs: []string{"turn:1"},
			Embedding:     []float32{0.4, 0.5},
		},
		Score:      0.91,
		Components: types.ScoreComponents{Similarity: 0.95, Importance: 0.9, Recency: 1.0},
	}}

	tests := []struct {
		name           string
		requestBody    interface{}
		mockSetup      func(*MockMemoryQuerier)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:        "embedding retrieval succeeds",
			requestBody: map[string]interface{}{"query": "milk preference", "k": 5},
			mockSetup: func(m *MockMemoryQuerier) {
				m.On("Query", mock.Anything, "milk preference", 5, mock.Anything).Return(scored, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var resp QueryResponse
				assert.NoError(t, json.Unmarshal(body, &resp))
				assert.False(t, resp.Fallback)
				assert.Len(t, resp.Results, 1)
				assert.Equal(t, "mem:1", resp.Results[0].Entry.ID)
				assert.InDelta(t, 0.91, resp.Results[0].Score, 0.001)
				assert.Empty(t, resp.Results[0].Entry.Embedding, "embedding vectors must not be returned")
			},
		},
		{
			name:        "falls back to keyword retrieval",
			requestBody: map[string]interface{}{"query": "milk preference"},
			mockSetup: func(m *MockMemoryQuerier) {
				m.On("Query", mock.Anything, "milk preference", 0, mock.Anything).
					Return(nil, errors.New("embedding provider down"))
				m.On("QueryText", mock.Anything, "milk preference", 0, mock.Anything).Return(scored, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var resp QueryResponse
				assert.NoError(t, json.Unmarshal(body, &resp))
				assert.True(t, resp.Fallback, "fallback flag should be set when keyword retrieval served the query")
				assert.Len(t, resp.Results, 1)
			},
		},
		{
			name:        "both retrieval paths fail",
			requestBody: map[string]interface{}{"query": "milk preference"},
			mockSetup: func(m *MockMemoryQuerier) {
				m.On("Query", mock.Anything, "milk preference", 0, mock.Anything).
					Return(nil, errors.New("embedding provider down"))
				m.On("QueryText", mock.Anything, "milk preference", 0, mock.Anything).
					Return(nil, errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:        "kind filter",
			requestBody: map[string]interface{}{"query": "milk", "kind": "preference"},
			mockSetup: func(m *MockMemoryQuerier) {
				m.On("Query", mock.Anything, "milk", 0, mock.MatchedBy(func(f types.QueryFilters) bool {
					return f.Kind == types.KindPreference
				})).Return([]types.ScoredEntry{}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "unknown kind",
			requestBody: map[string]interface{}{"query": "milk", "kind": "bogus"},
			mockSetup: func(m *MockMemoryQuerier) {
				// No mock setup - should fail validation
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "unknown kind")
			},
		},
		{
			name:        "blank query",
			requestBody: map[string]interface{}{"query": "   "},
			mockSetup: func(m *MockMemoryQuerier) {
				// No mock setup - should fail validation
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "query is required")
			},
		},
		{
			name:        "invalid JSON",
			requestBody: "not json",
			mockSetup: func(m *MockMemoryQuerier) {
				// No mock setup - should fail parsing
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockQuerier := new(MockMemoryQuerier)
			tt.mockSetup(mockQuerier)

			handlers := newTestHandlers(nil, new(MockStore), mockQuerier, nil)

			var body []byte
			if str, ok := tt.requestBody.(string); ok {
				body = []byte(str)
			} else {
				body, _ = json.Marshal(tt.requestBody)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handlers.Query(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockQuerier.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_ListTasks tests the task listing endpoint with status
// filtering.
func TestAPIHandlers_ListTasks(t *testing.T) {
	tests := []struct {
		name           string
		queryParams    string
		mockSetup      func(*MockStore)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:        "lists tasks for the acting user",
			queryParams: "",
			mockSetup: func(m *MockStore) {
				m.On("ListTasks", mock.Anything, "local", types.TaskStatus(""), mock.Anything).
					Return(&storage.PaginatedResult[types.Task]{
						Items:    []types.Task{{ID: "task:1", Title: "water the plants", Status: types.TaskStatusOpen}},
						Total:    1,
						Page:     1,
						PageSize: 20,
						HasMore:  false,
					}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var result storage.PaginatedResult[types.Task]
				assert.NoError(t, json.Unmarshal(body, &result))
				assert.Len(t, result.Items, 1)
				assert.Equal(t, "water the plants", result.Items[0].Title)
			},
		},
		{
			name:        "filter by status",
			queryParams: "?status=completed",
			mockSetup: func(m *MockStore) {
				m.On("ListTasks", mock.Anything, "local", types.TaskStatusCompleted, mock.Anything).
					Return(&storage.PaginatedResult[types.Task]{
						Items:    []types.Task{},
						Total:    0,
						Page:     1,
						PageSize: 20,
						HasMore:  false,
					}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "unknown status",
			queryParams: "?status=bogus",
			mockSetup: func(m *MockStore) {
				// No mock setup - should fail validation before hitting the store
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "unknown status")
			},
		},
		{
			name:        "store error",
			queryParams: "",
			mockSetup: func(m *MockStore) {
				m.On("ListTasks", mock.Anything, "local", types.TaskStatus(""), mock.Anything).
					Return(nil, errors.New("db down"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := new(MockStore)
			tt.mockSetup(mockStore)

			handlers := newTestHandlers(nil, mockStore, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/tasks"+tt.queryParams, nil)
			rec := httptest.NewRecorder()

			handlers.ListTasks(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockStore.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_ListConversations verifies the session registry listing.
func TestAPIHandlers_ListConversations(t *testing.T) {
	handlers := newTestHandlers(nil, new(MockStore), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()

	handlers.ListConversations(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var infos []session.Info
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	assert.Empty(t, infos, "a fresh registry should list no conversations")
}

// TestAPIHandlers_GetProfile tests the profile read endpoint.
func TestAPIHandlers_GetProfile(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mockProfiles := new(MockProfileAccessor)
		mockProfiles.On("Get", mock.Anything, "local").Return(types.UserProfile{
			UserID:      "local",
			DisplayName: "Sam",
			Language:    "en",
			Timezone:    "UTC",
			Tone:        types.ToneNeutral,
		}, nil)

		handlers := newTestHandlers(nil, new(MockStore), nil, mockProfiles)

		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		rec := httptest.NewRecorder()

		handlers.GetProfile(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var profile types.UserProfile
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
		assert.Equal(t, "Sam", profile.DisplayName)
		mockProfiles.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockProfiles := new(MockProfileAccessor)
		mockProfiles.On("Get", mock.Anything, "local").Return(types.UserProfile{}, errors.New("db down"))

		handlers := newTestHandlers(nil, new(MockStore), nil, mockProfiles)

		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		rec := httptest.NewRecorder()

		handlers.GetProfile(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		mockProfiles.AssertExpectations(t)
	})
}

// TestAPIHandlers_UpdateProfile tests the partial profile update endpoint.
func TestAPIHandlers_UpdateProfile(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		mockSetup      func(*MockProfileAccessor)
		expectedStatus int
		validateBody   func(*testing.T, []byte)
	}{
		{
			name:        "successful update",
			requestBody: map[string]interface{}{"tone": "friendly"},
			mockSetup: func(m *MockProfileAccessor) {
				m.On("Update", mock.Anything, "local", mock.MatchedBy(func(u services.ProfileUpdate) bool {
					return u.Tone != nil && *u.Tone == "friendly"
				})).Return(types.UserProfile{
					UserID: "local",
					Tone:   types.ToneFriendly,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			validateBody: func(t *testing.T, body []byte) {
				var profile types.UserProfile
				assert.NoError(t, json.Unmarshal(body, &profile))
				assert.Equal(t, types.ToneFriendly, profile.Tone)
			},
		},
		{
			name:        "invalid tone",
			requestBody: map[string]interface{}{"tone": "sarcastic"},
			mockSetup: func(m *MockProfileAccessor) {
				m.On("Update", mock.Anything, "local", mock.Anything).Return(types.UserProfile{},
					fmt.Errorf("%w: unknown tone %q", storage.ErrInvalidInput, "sarcastic"))
			},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, body []byte) {
				var errResp ErrorResponse
				assert.NoError(t, json.Unmarshal(body, &errResp))
				assert.Contains(t, errResp.Error, "invalid profile update")
			},
		},
		{
			name:        "invalid JSON",
			requestBody: "not json",
			mockSetup: func(m *MockProfileAccessor) {
				// No mock setup - should fail parsing
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockProfiles := new(MockProfileAccessor)
			tt.mockSetup(mockProfiles)

			handlers := newTestHandlers(nil, new(MockStore), nil, mockProfiles)

			var body []byte
			if str, ok := tt.requestBody.(string); ok {
				body = []byte(str)
			} else {
				body, _ = json.Marshal(tt.requestBody)
			}

			req := httptest.NewRequest(http.MethodPut, "/api/profile", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handlers.UpdateProfile(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.validateBody != nil {
				tt.validateBody(t, rec.Body.Bytes())
			}
			mockProfiles.AssertExpectations(t)
		})
	}
}

// TestAPIHandlers_Health tests the liveness endpoint against a healthy and a
// failing store.
func TestAPIHandlers_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		mockStore := new(MockStore)
		mockStore.On("HealthCheck", mock.Anything).Return(nil)

		handlers := newTestHandlers(nil, mockStore, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		handlers.Health(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.NotEmpty(t, resp.Version)
	})

	t.Run("degraded", func(t *testing.T) {
		mockStore := new(MockStore)
		mockStore.On("HealthCheck", mock.Anything).Return(errors.New("sqlite ping failed"))

		handlers := newTestHandlers(nil, mockStore, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		handlers.Health(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp HealthResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
	})
}

// TestAPIHandlers_GetConfig verifies the config endpoint masks credentials.
func TestAPIHandlers_GetConfig(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{
			Primary:      "openai",
			OpenAIAPIKey: "sk-proj-abcdefghijklmnopqrstuvwxyz1234567890",
		},
		Storage: config.StorageConfig{Engine: "sqlite"},
	}
	sessions := session.NewManager(new(MockStore), session.DefaultConfig())
	handlers := NewAPIHandlers(nil, new(MockStore), nil, nil, sessions, nil, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()

	handlers.GetConfig(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ConfigResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "openai", resp.Provider.Primary)
	assert.Equal(t, "sk-proj...7890", resp.Provider.OpenAIAPIKey)
	assert.NotContains(t, rec.Body.String(), "abcdefghijklmnop", "raw API key must never appear in the response")
}
