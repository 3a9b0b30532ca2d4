package capability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

const analyticsCapabilityName = "analytics"

// StatsSource reports store row counts. Satisfied by storage.Store.
type StatsSource interface {
	Stats(ctx context.Context) (*storage.Stats, error)
}

// ActiveCounter reports how many conversations currently have live session
// state. Satisfied by session.Manager. Optional; nil omits the count.
type ActiveCounter interface {
	Active() int
}

// Analytics answers questions about the assistant's own state from store
// counters. It reads and never writes.
type Analytics struct {
	stats    StatsSource
	sessions ActiveCounter
}

// NewAnalytics creates the analytics capability. sessions may be nil.
func NewAnalytics(stats StatsSource, sessions ActiveCounter) *Analytics {
	return &Analytics{stats: stats, sessions: sessions}
}

// Descriptor describes the capability for the registry.
func (a *Analytics) Descriptor() types.CapabilityDescriptor {
	return types.CapabilityDescriptor{
		Name:        analyticsCapabilityName,
		Description: "Reports conversation, memory, and task counts.",
		SideEffect:  types.SideEffectNone,
		Examples: []string{
			"how many memories do you have about me",
			"how many conversations have we had",
		},
		Match: matchAnalytics,
	}
}

func matchAnalytics(signal types.IntentSignal) float64 {
	if signal.Label == types.IntentAnalytics {
		return signal.Confidence
	}
	if strings.Contains(signal.Text, "how many") &&
		(strings.Contains(signal.Text, "memories") ||
			strings.Contains(signal.Text, "conversations") ||
			strings.Contains(signal.Text, "turns")) {
		return 0.65
	}
	return 0
}

// Handle renders the current counters. The full set goes into Data so
// front ends can chart them without reparsing the prose.
func (a *Analytics) Handle(ctx context.Context, input types.CapabilityInput) (types.CapabilityOutput, error) {
	if a.stats == nil {
		return types.CapabilityOutput{}, types.NewCapabilityError(
			analyticsCapabilityName, types.CapabilityInternal, errors.New("no stats source wired"))
	}

	stats, err := a.stats.Stats(ctx)
	if err != nil {
		return types.CapabilityOutput{}, types.NewCapabilityError(analyticsCapabilityName, types.CapabilityInternal, err)
	}

	data := map[string]string{
		"turns":         strconv.Itoa(stats.Turns),
		"conversations": strconv.Itoa(stats.Conversations),
		"memories":      strconv.Itoa(stats.Entries),
		"open_tasks":    strconv.Itoa(stats.OpenTasks),
	}

	var b strings.Builder
	b.WriteString("Here's where things stand: ")
	fmt.Fprintf(&b, "%d conversations with %d turns, ", stats.Conversations, stats.Turns)
	fmt.Fprintf(&b, "%d memories stored, and %d open task", stats.Entries, stats.OpenTasks)
	if stats.OpenTasks != 1 {
		b.WriteString("s")
	}
	if a.sessions != nil {
		active := a.sessions.Active()
		data["active_sessions"] = strconv.Itoa(active)
		fmt.Fprintf(&b, ". %d session", active)
		if active != 1 {
			b.WriteString("s")
		}
		b.WriteString(" currently active")
	}
	b.WriteString(".")

	return types.CapabilityOutput{
		Response: b.String(),
		Data:     data,
		Applied:  false,
	}, nil
}
