// Package notify bridges consolidation events between aide processes
// through the filesystem. The CLI embeds the orchestration core directly
// over the shared SQLite file, so consolidation it runs never passes
// through the web process; event files under {dataPath}/events/ let the
// web front end pick those up and replay them to its WebSocket clients.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// TypeConsolidationFinished marks an event written after the memory store
// finished consolidating a turn.
const TypeConsolidationFinished = "consolidation_finished"

// Event is the payload written to an event file.
type Event struct {
	Type    string `json:"type"`
	TurnID  string `json:"turn_id"`
	Entries int    `json:"entries,omitempty"`
	Time    int64  `json:"time"`
}

// EventWriter emits event files to a shared directory. It satisfies the
// memory store's event sink, so a process without a WebSocket hub can hand
// it straight to SetEventSink.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events")}
}

// ConsolidationFinished writes a consolidation event file. Safe to call
// concurrently. Write failures are logged, not returned; losing an event
// costs a stale UI at worst.
func (w *EventWriter) ConsolidationFinished(turnID string, entriesCreated int) {
	if turnID == "" {
		return
	}
	evt := Event{
		Type:    TypeConsolidationFinished,
		TurnID:  turnID,
		Entries: entriesCreated,
		Time:    time.Now().UnixNano(),
	}
	if err := w.write(evt); err != nil {
		log.Printf("WARNING: notify: dropping %s event for turn %s: %v", evt.Type, turnID, err)
	}
}

func (w *EventWriter) write(evt Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	data, _ := json.Marshal(evt)
	filename := fmt.Sprintf("%d-%s.event", evt.Time, sanitizeID(evt.TurnID))
	return os.WriteFile(filepath.Join(w.dir, filename), data, 0o600)
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
