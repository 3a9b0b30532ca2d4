// Package assembler builds the per-request context window: profile
// constraints, relevant memory entries, and recent turns packed greedily
// under a token budget. Assembly is deterministic for a frozen memory
// snapshot, and every candidate it considered is recorded in the window's
// manifest with the reason it was included or left out.
package assembler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/observability"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// Exclusion reasons recorded in the manifest.
const (
	reasonOverBudget      = "exceeds remaining budget"
	reasonBudgetExhausted = "budget exhausted by newer turns"
	reasonRetrievalFailed = "memory retrieval unavailable"
)

// Retriever is the slice of the memory store assembly needs: the embedding
// query path and the keyword fallback used when embedding is unavailable.
type Retriever interface {
	Query(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error)
	QueryText(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error)
}

// Config holds the assembly tuning knobs.
type Config struct {
	TokenBudget      int // hard cap on the assembled window, estimated tokens
	RecentTurns      int // how many recent turns assembly considers
	EmbedRecentTurns int // how many recent turns feed the retrieval query
	RetrievalK       int // memory entries requested from the store
}

// DefaultConfig returns the default assembly configuration.
func DefaultConfig() Config {
	return Config{
		TokenBudget:      2048,
		RecentTurns:      10,
		EmbedRecentTurns: 3,
		RetrievalK:       8,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.TokenBudget <= 0 {
		c.TokenBudget = d.TokenBudget
	}
	if c.RecentTurns <= 0 {
		c.RecentTurns = d.RecentTurns
	}
	if c.EmbedRecentTurns < 0 {
		c.EmbedRecentTurns = d.EmbedRecentTurns
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = d.RetrievalK
	}
}

// Assembler builds context windows. One instance serves all requests; it
// holds no per-request state.
type Assembler struct {
	retriever Retriever
	metrics   *observability.Metrics
	config    Config
}

// New creates an Assembler. retriever may be nil, in which case every
// window is assembled without memories and flagged degraded.
func New(retriever Retriever, metrics *observability.Metrics, cfg Config) *Assembler {
	cfg.normalize()
	return &Assembler{
		retriever: retriever,
		metrics:   metrics,
		config:    cfg,
	}
}

// Assemble builds the context window for one turn. The preamble and the
// current input are always part of the window; ranked memories and then
// recent turns fill whatever budget remains. Items are packed whole or not
// at all, never truncated. Memory retrieval failure degrades the window
// (profile and turns only) instead of failing the turn.
func (a *Assembler) Assemble(ctx context.Context, input string, recentTurns []types.Turn, profile types.UserProfile) (*types.ContextWindow, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: input is required", storage.ErrInvalidInput)
	}

	window := &types.ContextWindow{
		Input:       input,
		TokenBudget: a.config.TokenBudget,
		AssembledAt: time.Now().UTC(),
	}

	// The preamble and the input are non-negotiable: without them there is
	// no turn. They consume budget first.
	window.SystemPreamble = llm.BuildProfilePreamble(&profile)
	preambleTokens := types.EstimateTokens(window.SystemPreamble)
	used := preambleTokens + types.EstimateTokens(input)
	window.Manifest.Included = append(window.Manifest.Included, types.ManifestItem{
		Section: types.ManifestSectionProfile,
		Ref:     "profile",
		Tokens:  preambleTokens,
	})

	if len(recentTurns) > a.config.RecentTurns {
		recentTurns = recentTurns[len(recentTurns)-a.config.RecentTurns:]
	}

	entries, degraded := a.retrieve(ctx, input, recentTurns)
	window.Degraded = degraded
	if degraded {
		window.Manifest.Excluded = append(window.Manifest.Excluded, types.ManifestItem{
			Section: types.ManifestSectionMemory,
			Ref:     "memory",
			Reason:  reasonRetrievalFailed,
		})
	}

	used = a.packMemories(window, entries, used)
	used = a.packTurns(window, recentTurns, used)

	window.TokensUsed = used
	a.metrics.ObserveContextTokens(used)
	return window, nil
}

// retrieve fetches ranked memory entries for the turn. The embedding path
// queries with the input plus the trailing conversation; if it fails the
// keyword fallback queries with the input alone, where term precision
// matters more than context. Both failing degrades the window.
func (a *Assembler) retrieve(ctx context.Context, input string, recentTurns []types.Turn) ([]types.ScoredEntry, bool) {
	if a.retriever == nil {
		return nil, true
	}

	queryText := retrievalQuery(input, recentTurns, a.config.EmbedRecentTurns)
	entries, err := a.retriever.Query(ctx, queryText, a.config.RetrievalK, types.QueryFilters{})
	if err == nil {
		return entries, false
	}
	log.Printf("WARNING: context: embedding retrieval failed, trying keyword search: %v", err)

	entries, err = a.retriever.QueryText(ctx, input, a.config.RetrievalK, types.QueryFilters{})
	if err == nil {
		return entries, false
	}
	log.Printf("WARNING: context: keyword retrieval failed, assembling without memories: %v", err)
	return nil, true
}

// packMemories adds ranked entries that fit the remaining budget. Entries
// are independent of each other, so one oversized entry is skipped and the
// walk continues down the ranking.
func (a *Assembler) packMemories(window *types.ContextWindow, entries []types.ScoredEntry, used int) int {
	for _, scored := range entries {
		item := types.ManifestItem{
			Section: types.ManifestSectionMemory,
			Ref:     scored.Entry.ID,
			Tokens:  memoryCost(scored.Entry),
			Score:   scored.Score,
		}

		if used+item.Tokens > a.config.TokenBudget {
			item.Reason = reasonOverBudget
			window.Manifest.Excluded = append(window.Manifest.Excluded, item)
			continue
		}

		used += item.Tokens
		window.Memories = append(window.Memories, scored)
		window.Manifest.Included = append(window.Manifest.Included, item)
	}
	return used
}

// packTurns adds recent turns newest-first until one no longer fits, then
// stops. The conversation window has to stay contiguous, so no turn is
// skipped in the middle; the packed turns are emitted in chronological
// order.
func (a *Assembler) packTurns(window *types.ContextWindow, recentTurns []types.Turn, used int) int {
	included := 0
	for i := len(recentTurns) - 1; i >= 0; i-- {
		item := types.ManifestItem{
			Section: types.ManifestSectionTurn,
			Ref:     recentTurns[i].ID,
			Tokens:  turnCost(recentTurns[i]),
		}

		if used+item.Tokens > a.config.TokenBudget {
			item.Reason = reasonOverBudget
			window.Manifest.Excluded = append(window.Manifest.Excluded, item)
			for j := i - 1; j >= 0; j-- {
				window.Manifest.Excluded = append(window.Manifest.Excluded, types.ManifestItem{
					Section: types.ManifestSectionTurn,
					Ref:     recentTurns[j].ID,
					Tokens:  turnCost(recentTurns[j]),
					Reason:  reasonBudgetExhausted,
				})
			}
			break
		}

		included++
		used += item.Tokens
		window.Manifest.Included = append(window.Manifest.Included, item)
	}

	window.RecentTurns = append(window.RecentTurns, recentTurns[len(recentTurns)-included:]...)
	return used
}

// memoryCost estimates an entry's token cost as rendered into the prompt.
func memoryCost(entry types.MemoryEntry) int {
	return types.EstimateTokens(fmt.Sprintf("- [%s] %s", entry.Kind, entry.Content))
}

// turnCost estimates a turn's token cost as rendered into the prompt.
func turnCost(turn types.Turn) int {
	return types.EstimateTokens(fmt.Sprintf("user: %s\naide: %s", turn.Input, turn.Response))
}

// retrievalQuery folds the trailing conversation into the query text so
// retrieval sees the same context the user is speaking in. Turns appear
// oldest first with the current input last, mirroring prompt order.
func retrievalQuery(input string, recentTurns []types.Turn, embedTurns int) string {
	if embedTurns > 0 && len(recentTurns) > embedTurns {
		recentTurns = recentTurns[len(recentTurns)-embedTurns:]
	}
	if embedTurns <= 0 {
		recentTurns = nil
	}

	var b strings.Builder
	for _, turn := range recentTurns {
		b.WriteString(turn.Input)
		b.WriteString("\n")
		if turn.Response != "" {
			b.WriteString(turn.Response)
			b.WriteString("\n")
		}
	}
	b.WriteString(input)
	return b.String()
}
