package memory_test

import (
	"math"
	"testing"
	"time"

	"github.com/scrypster/aide/internal/memory"
	"github.com/scrypster/aide/pkg/types"
)

func TestDecayScoreWithinRange(t *testing.T) {
	dm := memory.NewDecayManager(0)
	now := time.Now()

	cases := []struct {
		name string
		age  time.Duration
	}{
		{"just_created", 0},
		{"one_day", 24 * time.Hour},
		{"one_week", 168 * time.Hour},
		{"one_month", 720 * time.Hour},
		{"one_year", 8760 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := &types.MemoryEntry{CreatedAt: now.Add(-tc.age)}
			score := dm.Score(entry, now)
			if score < 0.0 || score > 1.0 {
				t.Errorf("Score = %f, outside [0.0, 1.0]", score)
			}
		})
	}
}

func TestDecayScoreHalvesAtHalfLife(t *testing.T) {
	dm := memory.NewDecayManager(168 * time.Hour)
	now := time.Now()

	entry := &types.MemoryEntry{CreatedAt: now.Add(-168 * time.Hour)}
	score := dm.Score(entry, now)

	if math.Abs(score-0.5) > 1e-6 {
		t.Errorf("Score at one half-life = %f, want 0.5", score)
	}
}

func TestDecayScoreDropsWithAge(t *testing.T) {
	dm := memory.NewDecayManager(0)
	now := time.Now()

	recent := &types.MemoryEntry{CreatedAt: now.Add(-1 * time.Hour)}
	old := &types.MemoryEntry{CreatedAt: now.Add(-720 * time.Hour)}

	if dm.Score(recent, now) <= dm.Score(old, now) {
		t.Error("A recent entry should score higher than an old one")
	}
}

// Access history slows effective decay but never resets the age clock: a
// heavily read entry keeps a higher score than an unread one of the same
// age, yet still sits below a fresh entry.
func TestAccessSlowsDecayWithoutReset(t *testing.T) {
	dm := memory.NewDecayManager(168 * time.Hour)
	now := time.Now()
	createdAt := now.Add(-336 * time.Hour)

	unread := &types.MemoryEntry{CreatedAt: createdAt}
	popular := &types.MemoryEntry{CreatedAt: createdAt, AccessCount: 20}

	unreadScore := dm.Score(unread, now)
	popularScore := dm.Score(popular, now)

	if popularScore <= unreadScore {
		t.Errorf("Accessed entry score %f should exceed unread score %f", popularScore, unreadScore)
	}
	if popularScore >= 0.9 {
		t.Errorf("Accessed entry score %f should stay well below fresh; access must not reset decay", popularScore)
	}

	// The access timestamp itself carries no weight, only the count does.
	recentRead := now.Add(-1 * time.Hour)
	touched := &types.MemoryEntry{CreatedAt: createdAt, LastAccessedAt: &recentRead}
	if math.Abs(dm.Score(touched, now)-unreadScore) > 1e-9 {
		t.Error("LastAccessedAt alone must not change the score")
	}
}

func TestDecayScoreFreshEdgeCases(t *testing.T) {
	dm := memory.NewDecayManager(0)
	now := time.Now()

	future := &types.MemoryEntry{CreatedAt: now.Add(time.Hour)}
	if score := dm.Score(future, now); score != 1.0 {
		t.Errorf("Future CreatedAt score = %f, want 1.0", score)
	}

	unset := &types.MemoryEntry{}
	if score := dm.Score(unset, now); score != 1.0 {
		t.Errorf("Zero CreatedAt score = %f, want 1.0", score)
	}
}

func TestApplyWriteThreshold(t *testing.T) {
	dm := memory.NewDecayManager(168 * time.Hour)
	now := time.Now()

	// Already at the correct score: no write.
	settled := &types.MemoryEntry{CreatedAt: now.Add(-168 * time.Hour), DecayScore: 0.5}
	if dm.Apply(settled, now) {
		t.Error("Apply should skip writes when the score barely moved")
	}
	if settled.DecayUpdatedAt != nil {
		t.Error("DecayUpdatedAt must stay unset when nothing was written")
	}

	// A day of drift crosses the threshold.
	stale := &types.MemoryEntry{CreatedAt: now.Add(-24 * time.Hour), DecayScore: 1.0}
	if !dm.Apply(stale, now) {
		t.Fatal("Apply should write after a day of drift")
	}
	if stale.DecayScore >= 1.0 {
		t.Errorf("DecayScore = %f, want below 1.0", stale.DecayScore)
	}
	if stale.DecayUpdatedAt == nil || !stale.DecayUpdatedAt.Equal(now) {
		t.Error("DecayUpdatedAt should record the update instant")
	}
}

func TestNewDecayManagerDefaults(t *testing.T) {
	if got := memory.NewDecayManager(0).HalfLife(); got != 168*time.Hour {
		t.Errorf("Default half-life = %v, want 168h", got)
	}
	if got := memory.NewDecayManager(-time.Hour).HalfLife(); got != 168*time.Hour {
		t.Errorf("Negative half-life should fall back to default, got %v", got)
	}
	if got := memory.NewDecayManager(24 * time.Hour).HalfLife(); got != 24*time.Hour {
		t.Errorf("Configured half-life = %v, want 24h", got)
	}
}
