package capability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

const taskCapabilityName = "task_manager"

// creationPrefixes are leading phrases stripped from an utterance to get at
// the task title. Longest first so "remind me to" wins over "remind me".
var creationPrefixes = []string{
	"can you remind me to ",
	"please remind me to ",
	"create a task to ",
	"add a task to ",
	"note to self: ",
	"note to self ",
	"don't forget to ",
	"dont forget to ",
	"remind me to ",
	"add a task ",
	"i need to ",
	"i have to ",
	"remind me ",
	"to-do: ",
	"todo: ",
	"todo ",
}

// completionCues mark an utterance as closing out an existing task.
var completionCues = []string{
	"done with",
	"i finished",
	"finished the",
	"i completed",
	"completed the",
	"check off",
	"mark off",
	"cross off",
}

// TaskManager creates, lists, and completes tasks parsed from natural
// utterances. Creation honors the invocation's dedupe token: a controller
// retry carrying the same token returns the original task instead of
// creating a twin.
type TaskManager struct {
	tasks storage.TaskStore
}

// NewTaskManager creates the task capability over the given store.
func NewTaskManager(tasks storage.TaskStore) *TaskManager {
	return &TaskManager{tasks: tasks}
}

// Descriptor describes the capability for the registry.
func (t *TaskManager) Descriptor() types.CapabilityDescriptor {
	return types.CapabilityDescriptor{
		Name:        taskCapabilityName,
		Description: "Creates, lists, and completes tasks and reminders.",
		SideEffect:  types.SideEffectExternalWrite,
		Examples: []string{
			"remind me to call the dentist tomorrow",
			"what are my open tasks",
			"done with the tax return",
		},
		Match: matchTask,
	}
}

func matchTask(signal types.IntentSignal) float64 {
	if signal.Label == types.IntentTask {
		return signal.Confidence
	}
	// Unmistakable task wording still matches when classification labeled
	// the turn as something else.
	if strings.Contains(signal.Text, "remind me") || strings.Contains(signal.Text, "my tasks") {
		return 0.6
	}
	return 0
}

// Handle routes the utterance to list, complete, or create.
func (t *TaskManager) Handle(ctx context.Context, input types.CapabilityInput) (types.CapabilityOutput, error) {
	utterance := strings.TrimSpace(input.Utterance)
	if utterance == "" {
		return types.CapabilityOutput{}, types.NewCapabilityError(
			taskCapabilityName, types.CapabilityInvalidInput, errors.New("empty utterance"))
	}
	lower := strings.ToLower(utterance)

	switch {
	case isListRequest(lower):
		return t.list(ctx, input)
	case isCompletionRequest(lower):
		return t.complete(ctx, input, lower)
	default:
		return t.create(ctx, input, utterance, lower)
	}
}

func isListRequest(lower string) bool {
	if !strings.Contains(lower, "task") && !strings.Contains(lower, "to-do") && !strings.Contains(lower, "todo") {
		return false
	}
	for _, cue := range []string{"list", "show", "what are", "what's on", "whats on", "open"} {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

func isCompletionRequest(lower string) bool {
	for _, cue := range completionCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return strings.Contains(lower, "mark") && strings.Contains(lower, "done")
}

func (t *TaskManager) create(ctx context.Context, input types.CapabilityInput, utterance, lower string) (types.CapabilityOutput, error) {
	if input.DedupeToken != "" {
		existing, err := t.tasks.GetTaskByDedupeToken(ctx, input.DedupeToken)
		if err == nil {
			return types.CapabilityOutput{
				Response: fmt.Sprintf("Already tracking %q.", existing.Title),
				Data:     taskData(existing),
				Applied:  false,
			}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return types.CapabilityOutput{}, types.NewCapabilityError(taskCapabilityName, types.CapabilityInternal, err)
		}
	}

	now := time.Now().In(userLocation(input.Profile.Timezone))
	title, due := extractTask(utterance, lower, now)
	if title == "" {
		return types.CapabilityOutput{}, types.NewCapabilityError(
			taskCapabilityName, types.CapabilityInvalidInput, errors.New("no task description found"))
	}

	task := &types.Task{
		ID:             types.NewTaskID(),
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Title:          title,
		Status:         types.TaskStatusOpen,
		Priority:       parsePriority(lower),
		DueAt:          due,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
		DedupeToken:    input.DedupeToken,
	}
	if err := t.tasks.StoreTask(ctx, task); err != nil {
		return types.CapabilityOutput{}, types.NewCapabilityError(taskCapabilityName, types.CapabilityInternal, err)
	}

	response := fmt.Sprintf("Added %q", title)
	if due != nil {
		response += fmt.Sprintf(", due %s", due.Format("Mon Jan 2 at 15:04"))
	}
	return types.CapabilityOutput{
		Response: response + ".",
		Data:     taskData(task),
		Applied:  true,
	}, nil
}

func (t *TaskManager) list(ctx context.Context, input types.CapabilityInput) (types.CapabilityOutput, error) {
	result, err := t.tasks.ListTasks(ctx, input.UserID, types.TaskStatusOpen, storage.ListOptions{
		Limit:     20,
		SortBy:    "due_at",
		SortOrder: "asc",
	})
	if err != nil {
		return types.CapabilityOutput{}, types.NewCapabilityError(taskCapabilityName, types.CapabilityInternal, err)
	}

	if len(result.Items) == 0 {
		return types.CapabilityOutput{
			Response: "You have no open tasks.",
			Data:     map[string]string{"count": "0"},
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d open task", result.Total)
	if result.Total != 1 {
		b.WriteString("s")
	}
	b.WriteString(":\n")
	for i, task := range result.Items {
		fmt.Fprintf(&b, "%d. %s", i+1, task.Title)
		if task.DueAt != nil {
			fmt.Fprintf(&b, " (due %s)", task.DueAt.Format("Mon Jan 2"))
		}
		if task.Priority != types.TaskPriorityMedium {
			fmt.Fprintf(&b, " [%s]", task.Priority)
		}
		b.WriteString("\n")
	}

	return types.CapabilityOutput{
		Response: strings.TrimRight(b.String(), "\n"),
		Data:     map[string]string{"count": strconv.Itoa(result.Total)},
	}, nil
}

func (t *TaskManager) complete(ctx context.Context, input types.CapabilityInput, lower string) (types.CapabilityOutput, error) {
	result, err := t.tasks.ListTasks(ctx, input.UserID, types.TaskStatusOpen, storage.ListOptions{Limit: 100})
	if err != nil {
		return types.CapabilityOutput{}, types.NewCapabilityError(taskCapabilityName, types.CapabilityInternal, err)
	}

	match := bestTitleMatch(lower, result.Items)
	if match == nil {
		noun := "tasks"
		if result.Total == 1 {
			noun = "task"
		}
		return types.CapabilityOutput{
			Response: fmt.Sprintf("I couldn't find an open task matching that. You have %d open %s.", result.Total, noun),
			Data:     map[string]string{"count": strconv.Itoa(result.Total)},
		}, nil
	}

	now := time.Now().UTC()
	match.Status = types.TaskStatusCompleted
	match.CompletedAt = &now
	match.UpdatedAt = now
	if err := t.tasks.StoreTask(ctx, match); err != nil {
		return types.CapabilityOutput{}, types.NewCapabilityError(taskCapabilityName, types.CapabilityInternal, err)
	}

	return types.CapabilityOutput{
		Response: fmt.Sprintf("Marked %q as completed.", match.Title),
		Data:     taskData(match),
		Applied:  true,
	}, nil
}

// extractTask pulls the title and optional due time out of an utterance.
// The due phrase and any leading creation verb are removed from the title;
// the original casing of what remains is preserved.
func extractTask(utterance, lower string, now time.Time) (string, *time.Time) {
	title := utterance
	var due *time.Time
	if at, phrase, ok := parseDuePhrase(lower, now); ok {
		resolved := at
		due = &resolved
		title = stripDuePhrase(title, lower, phrase)
	}

	lowerTitle := strings.ToLower(title)
	for _, prefix := range creationPrefixes {
		if strings.HasPrefix(lowerTitle, prefix) {
			title = title[len(prefix):]
			break
		}
	}

	title = strings.Join(strings.Fields(title), " ")
	title = strings.TrimRight(title, " .!?,;:")
	return title, due
}

func parsePriority(lower string) types.TaskPriority {
	switch {
	case strings.Contains(lower, "urgent"), strings.Contains(lower, "asap"), strings.Contains(lower, "right away"):
		return types.TaskPriorityUrgent
	case strings.Contains(lower, "important"), strings.Contains(lower, "high priority"):
		return types.TaskPriorityHigh
	case strings.Contains(lower, "low priority"), strings.Contains(lower, "no rush"), strings.Contains(lower, "whenever"):
		return types.TaskPriorityLow
	default:
		return types.TaskPriorityMedium
	}
}

// matchNoise holds words too common to identify a task: completion cues
// and filler that would otherwise match any title containing "the".
var matchNoise = map[string]bool{
	"the": true, "and": true, "with": true, "that": true, "this": true,
	"done": true, "finished": true, "complete": true, "completed": true,
	"mark": true, "check": true, "cross": true, "off": true, "task": true,
}

// bestTitleMatch scores open tasks by how many meaningful title words the
// utterance shares with them and returns the best scorer, or nil when no
// task overlaps at all. Ties keep the first task in listing order.
func bestTitleMatch(lower string, tasks []types.Task) *types.Task {
	utteranceWords := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		w = strings.Trim(w, ".!?,;:'\"")
		if len(w) >= 3 && !matchNoise[w] {
			utteranceWords[w] = true
		}
	}

	var best *types.Task
	bestScore := 0
	for i := range tasks {
		score := 0
		for _, w := range strings.Fields(strings.ToLower(tasks[i].Title)) {
			w = strings.Trim(w, ".!?,;:'\"")
			if len(w) >= 3 && !matchNoise[w] && utteranceWords[w] {
				score++
			}
		}
		if score > bestScore {
			best = &tasks[i]
			bestScore = score
		}
	}
	return best
}

func taskData(task *types.Task) map[string]string {
	data := map[string]string{
		"task_id":  task.ID,
		"title":    task.Title,
		"status":   string(task.Status),
		"priority": string(task.Priority),
	}
	if task.DueAt != nil {
		data["due_at"] = task.DueAt.UTC().Format(time.RFC3339)
	}
	return data
}

// userLocation resolves the profile timezone, falling back to UTC when the
// name is unknown on this system.
func userLocation(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
