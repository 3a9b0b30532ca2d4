// Package agent is the orchestration core: it turns one user utterance into
// one response. Each request runs a small state machine (ContextBuilding,
// Deciding, then Completing or Dispatching, then Persisting) on a per-request
// instance, so concurrent turns share nothing but the stores behind the
// controller's dependencies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/capability"
	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/observability"
	"github.com/scrypster/aide/internal/redact"
	"github.com/scrypster/aide/internal/session"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// State names one phase of the per-request lifecycle.
type State string

const (
	StateIdle            State = "Idle"
	StateContextBuilding State = "ContextBuilding"
	StateDeciding        State = "Deciding"
	StateCompleting      State = "Completing"
	StateDispatching     State = "Dispatching"
	StatePersisting      State = "Persisting"
)

// Dispatch path label values for turns_total.
const (
	pathCompletion = "completion"
	pathCapability = "capability"
)

// apologyResponse is returned when no real response could be produced before
// the deadline or after provider exhaustion.
const apologyResponse = "I'm sorry, I wasn't able to put together a proper answer just now. Please try again in a moment."

// persistTimeout bounds the turn record write. Persisting runs on a context
// detached from the request deadline so a timed-out turn is still recorded.
const persistTimeout = 5 * time.Second

// ContextAssembler builds the per-turn context window.
type ContextAssembler interface {
	Assemble(ctx context.Context, input string, recentTurns []types.Turn, profile types.UserProfile) (*types.ContextWindow, error)
}

// TurnRecorder persists completed turns. The memory store implements it and
// owns the retry-write queue behind it.
type TurnRecorder interface {
	Record(ctx context.Context, turn *types.Turn) (string, error)
}

// ProfileReader resolves the acting user's effective profile.
type ProfileReader interface {
	Get(ctx context.Context, userID string) (types.UserProfile, error)
}

// Config holds the controller tuning knobs.
type Config struct {
	TurnTimeout       time.Duration // hard cap per request
	RecentTurns       int           // turns pulled from the session into context
	DefaultUserID     string        // acting user for every submitted turn
	ToneNormalization bool          // post-process capability output with one provider call
	IntentRefinement  bool          // refine ambiguous keyword intents with one provider call
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:   30 * time.Second,
		RecentTurns:   10,
		DefaultUserID: "local",
	}
}

func (c *Config) normalize() {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 30 * time.Second
	}
	if c.RecentTurns <= 0 {
		c.RecentTurns = 10
	}
	if c.DefaultUserID == "" {
		c.DefaultUserID = "local"
	}
}

// Controller is the long-lived front end of the agent. It is safe for
// concurrent use: SubmitTurn spawns a fresh state machine per request and
// mutable state lives only on that instance.
type Controller struct {
	assembler ContextAssembler
	registry  *capability.Registry
	generator llm.TextGenerator
	recorder  TurnRecorder
	sessions  *session.Manager
	profiles  ProfileReader
	metrics   *observability.Metrics
	config    Config
}

// New wires a Controller. The assembler, generator, recorder, sessions, and
// profiles dependencies are required; registry and metrics may be nil, which
// disables capability dispatch and metrics respectively.
func New(asm ContextAssembler, registry *capability.Registry, generator llm.TextGenerator, recorder TurnRecorder, sessions *session.Manager, profiles ProfileReader, metrics *observability.Metrics, cfg Config) *Controller {
	cfg.normalize()
	return &Controller{
		assembler: asm,
		registry:  registry,
		generator: generator,
		recorder:  recorder,
		sessions:  sessions,
		profiles:  profiles,
		metrics:   metrics,
		config:    cfg,
	}
}

// SubmitTurn runs one utterance through the full lifecycle and returns the
// result exactly once. Every internal failure degrades the response instead
// of surfacing; the only error returned is rejection of blank input.
func (c *Controller) SubmitTurn(ctx context.Context, conversationID, text string) (*types.TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: turn input is required", storage.ErrInvalidInput)
	}

	start := time.Now()
	c.metrics.TurnStarted()
	defer c.metrics.TurnFinished()

	ctx, cancel := context.WithTimeout(ctx, c.config.TurnTimeout)
	defer cancel()

	info, _ := c.sessions.Ensure(conversationID, c.config.DefaultUserID)

	run := &turnRun{
		controller:     c,
		turnID:         types.NewTurnID(),
		conversationID: info.ID,
		userID:         info.UserID,
		input:          text,
		state:          StateIdle,
		path:           pathCompletion,
	}
	result := run.execute(ctx)
	result.Elapsed = time.Since(start)

	outcome := observability.OutcomeCompleted
	if result.Degraded {
		outcome = observability.OutcomeDegraded
	}
	c.metrics.ObserveTurn(outcome, run.path, result.Elapsed)

	return result, nil
}

// turnRun is the per-request state machine instance.
type turnRun struct {
	controller *Controller

	turnID         string
	conversationID string
	userID         string
	input          string

	state      State
	intent     types.IntentSignal
	profile    types.UserProfile
	recent     []types.Turn
	capability string
	path       string
	degraded   bool
}

func (r *turnRun) setState(next State) {
	r.state = next
	log.Printf("Turn %s: %s", r.turnID, next)
}

// execute drives the state machine to completion. It always produces a
// result; failures along the way degrade the response rather than abort.
func (r *turnRun) execute(ctx context.Context) *types.TurnResult {
	window := r.buildContext(ctx)

	r.setState(StateDeciding)
	signal := ScoreIntent(r.input)
	if r.controller.config.IntentRefinement && r.controller.generator != nil && signal.Confidence < refineBelowConfidence {
		signal = r.refineIntent(ctx, signal)
	}
	r.intent = signal
	log.Printf("Turn %s: intent %s (%.2f)", r.turnID, signal.Label, signal.Confidence)

	var matches []types.CapabilityDescriptor
	if r.controller.registry != nil {
		matches = r.controller.registry.Match(signal)
	}

	var response string
	if len(matches) > 0 {
		response = r.dispatch(ctx, matches[0], window)
	} else {
		response = r.complete(ctx, window)
	}

	r.persist(ctx, response)
	r.setState(StateIdle)

	return &types.TurnResult{
		TurnID:         r.turnID,
		ConversationID: r.conversationID,
		Response:       response,
		Intent:         r.intent.Label,
		Capability:     r.capability,
		Degraded:       r.degraded,
		Manifest:       window.Manifest,
	}
}

// buildContext loads the profile and recent turns, then asks the assembler
// for a window. Assembly failure degrades to a recent-turns-only window so
// the turn can still complete.
func (r *turnRun) buildContext(ctx context.Context) *types.ContextWindow {
	r.setState(StateContextBuilding)

	profile, err := r.controller.profiles.Get(ctx, r.userID)
	if err != nil {
		log.Printf("WARNING: Turn %s (%s): profile load failed, using defaults: %v", r.turnID, r.state, err)
		profile = types.DefaultProfile(r.userID)
	}
	r.profile = profile

	recent, err := r.controller.sessions.RecentTurns(ctx, r.conversationID, r.controller.config.RecentTurns)
	if err != nil {
		log.Printf("WARNING: Turn %s (%s): recent turns unavailable: %v", r.turnID, r.state, err)
	}
	r.recent = recent

	window, err := r.controller.assembler.Assemble(ctx, r.input, recent, profile)
	if err != nil {
		var perr *types.PersistenceError
		if !errors.As(err, &perr) {
			err = types.NewPersistenceError("assemble context", err)
		}
		log.Printf("WARNING: Turn %s (%s): %v, continuing with recent turns only", r.turnID, r.state, err)
		r.degraded = true
		return r.recentOnlyWindow()
	}
	if window.Degraded {
		r.degraded = true
	}
	return window
}

// recentOnlyWindow is the degraded context used when assembly fails outright:
// profile preamble plus whatever turns the session cache had, no memories.
func (r *turnRun) recentOnlyWindow() *types.ContextWindow {
	return &types.ContextWindow{
		SystemPreamble: llm.BuildProfilePreamble(&r.profile),
		RecentTurns:    r.recent,
		Input:          r.input,
		AssembledAt:    time.Now().UTC(),
		Degraded:       true,
	}
}

// dispatch invokes the best-matched capability. On any capability error the
// turn falls back to direct completion instead of failing.
func (r *turnRun) dispatch(ctx context.Context, desc types.CapabilityDescriptor, window *types.ContextWindow) string {
	r.setState(StateDispatching)
	log.Printf("Turn %s: dispatching to %s (confidence %.2f)", r.turnID, desc.Name, r.controller.registry.Confidence(desc.Name, r.intent))

	output, err := r.controller.registry.Invoke(ctx, desc.Name, types.CapabilityInput{
		ConversationID: r.conversationID,
		UserID:         r.userID,
		Utterance:      r.input,
		Intent:         r.intent,
		Profile:        r.profile,
	})
	if err != nil {
		log.Printf("WARNING: Turn %s (%s): capability %s failed, falling back to completion: %v", r.turnID, r.state, desc.Name, err)
		return r.complete(ctx, window)
	}

	r.capability = desc.Name
	r.path = pathCapability

	response := output.Response
	if r.controller.config.ToneNormalization && r.controller.generator != nil {
		response = r.normalizeTone(ctx, response)
	}
	return response
}

// normalizeTone rewrites a capability response in the user's preferred tone
// with one provider call. The original text survives any failure.
func (r *turnRun) normalizeTone(ctx context.Context, draft string) string {
	tone := r.profile.Tone
	if tone == "" || tone == types.ToneNeutral {
		return draft
	}

	resp, err := r.controller.generator.Complete(ctx, llm.CompletionRequest{
		Prompt:      llm.ToneNormalizationPrompt(tone, draft),
		Temperature: 0.2,
	})
	if err != nil {
		log.Printf("WARNING: Turn %s (%s): tone normalization failed, keeping original: %v", r.turnID, r.state, err)
		return draft
	}
	normalized := strings.TrimSpace(resp.Text)
	if normalized == "" {
		return draft
	}
	return normalized
}

// complete produces the response via direct provider completion over the
// assembled context. Provider exhaustion or deadline expiry yields the
// apologetic fallback rather than an error.
func (r *turnRun) complete(ctx context.Context, window *types.ContextWindow) string {
	r.setState(StateCompleting)
	r.path = pathCompletion

	resp, err := r.controller.generator.Complete(ctx, llm.CompletionRequest{
		System: llm.BuildTurnSystem(window, &r.profile),
		Prompt: llm.BuildTurnPrompt(window),
	})
	if err != nil {
		log.Printf("WARNING: Turn %s (%s): completion failed: %v", r.turnID, r.state, err)
		r.degraded = true
		return apologyResponse
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		log.Printf("WARNING: Turn %s (%s): provider returned an empty completion", r.turnID, r.state)
		r.degraded = true
		return apologyResponse
	}
	return text
}

// persist records the turn and updates the session cache. The write runs on
// a context detached from the request deadline; a persistence failure is
// logged and queued for retry by the recorder, never surfaced to the caller.
func (r *turnRun) persist(ctx context.Context, response string) {
	r.setState(StatePersisting)

	_, inputFlagged := redact.Mask(r.input)
	_, responseFlagged := redact.Mask(response)

	turn := &types.Turn{
		ID:             r.turnID,
		ConversationID: r.conversationID,
		Timestamp:      time.Now().UTC(),
		Input:          r.input,
		Response:       response,
		Intent:         r.intent.Label,
		Capability:     r.capability,
		UserID:         r.userID,
		Sensitive:      inputFlagged || responseFlagged,
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if _, err := r.controller.recorder.Record(persistCtx, turn); err != nil {
		log.Printf("WARNING: Turn %s (%s): %v", r.turnID, r.state, err)
	}
	r.controller.sessions.RecordTurn(turn)
}
