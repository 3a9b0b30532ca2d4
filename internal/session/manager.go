// Package session tracks active conversations. The manager is an in-memory
// registry over the turn store: it hands out conversation IDs, keeps a small
// per-conversation cache of recent turns, and evicts idle conversations on a
// janitor loop. Storage stays the source of truth; losing a cache entry only
// costs a read.
package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// Config holds the session manager tuning knobs.
type Config struct {
	CacheSize       int           // recent turns kept per conversation
	IdleTimeout     time.Duration // inactivity before a conversation is evicted
	JanitorInterval time.Duration // cadence of the eviction sweep
}

// DefaultConfig returns the default session manager configuration.
func DefaultConfig() Config {
	return Config{
		CacheSize:       32,
		IdleTimeout:     2 * time.Hour,
		JanitorInterval: 10 * time.Minute,
	}
}

func (c *Config) normalize() {
	defaults := DefaultConfig()
	if c.CacheSize <= 0 {
		c.CacheSize = defaults.CacheSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = defaults.JanitorInterval
	}
}

// Info is a point-in-time snapshot of one tracked conversation.
type Info struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`
	TurnCount  int       `json:"turn_count"`
}

// conversation is the registry's internal state for one conversation.
type conversation struct {
	info   Info
	recent []types.Turn

	// complete means the cache starts at the conversation's true beginning,
	// so short reads never need storage. Conversations created in-process
	// start complete; ones first seen by ID (after a restart) become
	// complete once a storage read returns fewer turns than asked.
	complete bool
}

// tail returns a copy of the last n cached turns in chronological order.
func (c *conversation) tail(n int) []types.Turn {
	if n > len(c.recent) {
		n = len(c.recent)
	}
	out := make([]types.Turn, n)
	copy(out, c.recent[len(c.recent)-n:])
	return out
}

// Manager is the conversation registry.
type Manager struct {
	store  storage.TurnStore
	config Config

	mu            sync.RWMutex
	conversations map[string]*conversation
}

// NewManager returns a manager over the given turn store.
func NewManager(store storage.TurnStore, cfg Config) *Manager {
	cfg.normalize()
	return &Manager{
		store:         store,
		config:        cfg,
		conversations: make(map[string]*conversation),
	}
}

// Start launches the janitor loop; it runs until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go m.janitor(ctx)
}

func (m *Manager) janitor(ctx context.Context) {
	ticker := time.NewTicker(m.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := m.EvictIdle(time.Now()); evicted > 0 {
				log.Printf("session: evicted %d idle conversations", evicted)
			}
		}
	}
}

// Ensure returns the conversation for the given ID, registering it first if
// needed. An empty ID starts a fresh conversation. The second return reports
// whether this call created the registration.
func (m *Manager) Ensure(conversationID, userID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	if conversationID == "" {
		conversationID = types.NewConversationID()
		conv := &conversation{
			info:     Info{ID: conversationID, UserID: userID, StartedAt: now, LastActive: now},
			complete: true,
		}
		m.conversations[conversationID] = conv
		return conv.info, true
	}

	if conv, ok := m.conversations[conversationID]; ok {
		conv.info.LastActive = now
		if conv.info.UserID == "" {
			conv.info.UserID = userID
		}
		return conv.info, false
	}

	// First sighting of an external ID: prior turns may exist in storage,
	// so the cache is not complete until a read proves otherwise.
	conv := &conversation{
		info: Info{ID: conversationID, UserID: userID, StartedAt: now, LastActive: now},
	}
	m.conversations[conversationID] = conv
	return conv.info, true
}

// RecordTurn appends a committed turn to the conversation's cache, creating
// the registration if the conversation is not yet tracked.
func (m *Manager) RecordTurn(turn *types.Turn) {
	if turn == nil || turn.ConversationID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	conv, ok := m.conversations[turn.ConversationID]
	if !ok {
		conv = &conversation{
			info: Info{ID: turn.ConversationID, UserID: turn.UserID, StartedAt: now},
		}
		m.conversations[turn.ConversationID] = conv
	}

	conv.recent = append(conv.recent, *turn)
	if len(conv.recent) > m.config.CacheSize {
		conv.recent = append(conv.recent[:0:0], conv.recent[len(conv.recent)-m.config.CacheSize:]...)
	}
	conv.info.TurnCount++
	conv.info.LastActive = now
}

// RecentTurns returns up to n latest turns for the conversation in
// chronological order. Cache-covered reads never touch storage; incomplete
// caches fall back to the turn store and warm themselves. When storage is
// unavailable, whatever the cache holds is returned so callers can still
// build a degraded context.
func (m *Manager) RecentTurns(ctx context.Context, conversationID string, n int) ([]types.Turn, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", storage.ErrInvalidInput)
	}
	if n <= 0 {
		n = m.config.CacheSize
	}

	m.mu.RLock()
	conv, ok := m.conversations[conversationID]
	var cached []types.Turn
	covered := false
	if ok {
		covered = conv.complete || len(conv.recent) >= n
		cached = conv.tail(n)
	}
	m.mu.RUnlock()

	if covered {
		return cached, nil
	}

	turns, err := m.store.RecentTurns(ctx, conversationID, n)
	if err != nil {
		if len(cached) > 0 {
			log.Printf("WARNING: session serving cached turns for %s, storage read failed: %v", conversationID, err)
			return cached, nil
		}
		return nil, err
	}

	m.warm(conversationID, turns, len(turns) < n)
	return turns, nil
}

// warm replaces a conversation's cache with turns read from storage.
func (m *Manager) warm(conversationID string, turns []types.Turn, complete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		conv = &conversation{
			info: Info{ID: conversationID, StartedAt: time.Now().UTC()},
		}
		m.conversations[conversationID] = conv
	}

	keep := turns
	if len(keep) > m.config.CacheSize {
		keep = keep[len(keep)-m.config.CacheSize:]
	}
	conv.recent = append(conv.recent[:0:0], keep...)
	if len(turns) > conv.info.TurnCount {
		conv.info.TurnCount = len(turns)
	}
	if complete {
		conv.complete = true
	}
}

// Snapshot returns the tracked state of one conversation.
func (m *Manager) Snapshot(conversationID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return Info{}, false
	}
	return conv.info, true
}

// Active returns the number of tracked conversations.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// List returns snapshots of all tracked conversations, most recently active
// first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.conversations))
	for _, conv := range m.conversations {
		infos = append(infos, conv.info)
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActive.After(infos[j].LastActive)
	})
	return infos
}

// EvictIdle drops conversations whose last activity is older than the idle
// timeout. Returns the number evicted. Eviction only frees cache; the turns
// remain in storage.
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, conv := range m.conversations {
		if now.Sub(conv.info.LastActive) > m.config.IdleTimeout {
			delete(m.conversations, id)
			evicted++
		}
	}
	return evicted
}
