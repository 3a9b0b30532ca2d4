package memory

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

const (
	// defaultHalfLife is the decay half-life used when none is configured (1 week).
	defaultHalfLife = 168 * time.Hour

	// accessBoostFactor scales how strongly repeated access slows decay.
	accessBoostFactor = 0.3

	// decayWriteThreshold is the minimum change required to write back a new score.
	decayWriteThreshold = 0.001

	// sweepPageSize bounds how many entries one sweep iteration loads.
	sweepPageSize = 100
)

// DecayManager computes decay scores for memory entries.
//
// The score is a pure function of entry age and access history:
//
//	score = exp(-λ * age_hours / boost)
//
// where λ = ln(2) / half_life_hours and boost = 1 + 0.3 * ln(1 + access_count).
// Age is always measured from CreatedAt: reading an entry raises its boost,
// which slows future decay, but never resets the clock. Importance is kept
// out of the score because query ranking multiplies it in as its own factor.
type DecayManager struct {
	halfLife time.Duration
}

// NewDecayManager returns a DecayManager with the given half-life.
// A zero or negative half-life falls back to the default of 168 hours.
func NewDecayManager(halfLife time.Duration) *DecayManager {
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	return &DecayManager{halfLife: halfLife}
}

// HalfLife returns the configured half-life.
func (d *DecayManager) HalfLife() time.Duration {
	return d.halfLife
}

// lambda returns the decay constant derived from the configured half-life.
func (d *DecayManager) lambda() float64 {
	return math.Ln2 / d.halfLife.Hours()
}

// Score returns the decay score for entry at the given instant, in [0.0, 1.0].
// An entry with a zero or future CreatedAt scores 1.0.
func (d *DecayManager) Score(entry *types.MemoryEntry, now time.Time) float64 {
	if entry.CreatedAt.IsZero() {
		return 1.0
	}

	hours := now.Sub(entry.CreatedAt).Hours()
	if hours < 0 {
		hours = 0
	}

	boost := 1.0 + accessBoostFactor*math.Log1p(float64(entry.AccessCount))
	score := math.Exp(-d.lambda() * hours / boost)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Apply recomputes entry.DecayScore in place. It returns true when the score
// moved by at least decayWriteThreshold, in which case DecayUpdatedAt is set
// to now; smaller drifts leave the entry untouched so sweeps stay cheap.
func (d *DecayManager) Apply(entry *types.MemoryEntry, now time.Time) bool {
	newScore := d.Score(entry, now)
	if math.Abs(newScore-entry.DecayScore) < decayWriteThreshold {
		return false
	}

	entry.DecayScore = newScore
	entry.DecayUpdatedAt = &now
	return true
}

// Sweep pages through every stored entry, recomputes decay scores, and
// writes back the ones that moved past the threshold. Returns the number of
// entries updated. Individual write failures are logged and skipped so one
// bad row cannot stall the sweep.
func (d *DecayManager) Sweep(ctx context.Context, store storage.MemoryStore, now time.Time) (int, error) {
	updated := 0
	opts := storage.ListOptions{Page: 1, Limit: sweepPageSize, SortBy: "created_at", SortOrder: "asc"}

	for {
		page, err := store.ListEntries(ctx, types.QueryFilters{}, opts)
		if err != nil {
			return updated, err
		}

		for i := range page.Items {
			entry := &page.Items[i]
			if !d.Apply(entry, now) {
				continue
			}
			if err := store.UpdateDecay(ctx, entry.ID, entry.DecayScore, now); err != nil {
				log.Printf("WARNING: failed to write decay score for entry %s: %v", entry.ID, err)
				continue
			}
			updated++
		}

		if !page.HasMore {
			return updated, nil
		}
		opts.Page++
	}
}
