package handlers

import (
	"net/http"

	"github.com/scrypster/aide/internal/storage"
)

// QueueDepthGetter reports jobs waiting for consolidation.
type QueueDepthGetter interface {
	QueueDepth() int
}

// ActiveSessionCounter reports conversations currently tracked by the
// session registry.
type ActiveSessionCounter interface {
	Active() int
}

// StatsHandler handles statistics endpoint requests.
type StatsHandler struct {
	store    storage.Store
	sessions ActiveSessionCounter
	queue    QueueDepthGetter
}

// NewStatsHandler creates a new StatsHandler instance. sessions and queue
// may be nil; the corresponding fields then report zero.
func NewStatsHandler(store storage.Store, sessions ActiveSessionCounter, queue QueueDepthGetter) *StatsHandler {
	return &StatsHandler{
		store:    store,
		sessions: sessions,
		queue:    queue,
	}
}

// GetStats handles GET /api/stats - returns system statistics.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read store stats", err)
		return
	}

	resp := StatsResponse{
		Engine:        stats.Engine,
		Turns:         stats.Turns,
		Conversations: stats.Conversations,
		MemoryEntries: stats.Entries,
		OpenTasks:     stats.OpenTasks,
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.Active()
	}
	if h.queue != nil {
		resp.ConsolidationQueue = h.queue.QueueDepth()
	}

	respondJSON(w, http.StatusOK, resp)
}
