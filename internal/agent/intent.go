package agent

import (
	"context"
	"log"
	"strings"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/pkg/types"
)

// Intent scoring is keyword-first: deterministic, fast, and good enough for
// the utterances capabilities actually handle. The optional provider-backed
// refinement only runs on ambiguous verdicts, so a dead provider never blocks
// the turn.

const (
	// generalConfidence is the score assigned when nothing matches. It sits
	// below every dispatch floor so unmatched turns go to direct completion.
	generalConfidence = 0.3

	questionConfidence = 0.6

	// refineBelowConfidence marks the ambiguity line: keyword verdicts at or
	// above it stand without a provider call.
	refineBelowConfidence = 0.75
)

type intentRule struct {
	label      string
	confidence float64
	phrases    []string
}

// intentRules are ordered by label then descending confidence. Scoring keeps
// the first rule that beats the running best, so ties resolve to the earlier
// label and results stay deterministic.
var intentRules = []intentRule{
	{types.IntentTask, 0.9, []string{
		"remind me to", "add a task", "create a task", "note to self",
		"don't forget to", "dont forget to", "to-do", "to-dos", "todo", "todos",
	}},
	{types.IntentTask, 0.75, []string{
		"my tasks", "open tasks", "task list", "check off", "mark off",
		"cross off", "i finished", "done with",
	}},
	{types.IntentTask, 0.6, []string{
		"remind me", "i need to", "i have to",
	}},
	{types.IntentCommunication, 0.85, []string{
		"draft an email", "draft a message", "draft a reply", "write an email",
		"write a message", "compose an email", "compose a message",
	}},
	{types.IntentCommunication, 0.65, []string{
		"draft", "compose", "email to", "message to", "reply to",
	}},
	{types.IntentAnalytics, 0.85, []string{
		"how many memories", "how many conversations", "how many tasks",
		"how many turns", "memory stats", "usage stats",
	}},
	{types.IntentAnalytics, 0.6, []string{
		"stats", "statistics",
	}},
	{types.IntentPreference, 0.85, []string{
		"call me", "my name is", "address me as", "my timezone", "set my timezone",
	}},
	{types.IntentPreference, 0.65, []string{
		"be more formal", "be more concise", "be more friendly", "be less",
		"keep it brief", "speak in", "talk to me in", "switch to",
	}},
}

var questionPrefixes = []string{
	"what", "who", "when", "where", "why", "how", "which",
	"is ", "are ", "am ", "do ", "does ", "did ",
	"can ", "could ", "should ", "would ", "will ",
}

// ScoreIntent classifies an utterance into an intent signal using the keyword
// rules above. The returned signal carries the normalized utterance so
// capability predicates match against a stable form.
func ScoreIntent(text string) types.IntentSignal {
	normalized := normalizeUtterance(text)
	signal := types.IntentSignal{
		Text:       normalized,
		Label:      types.IntentGeneral,
		Confidence: generalConfidence,
	}
	if normalized == "" {
		return signal
	}

	bestConf := 0.0
	for _, rule := range intentRules {
		if rule.confidence <= bestConf {
			continue
		}
		for _, phrase := range rule.phrases {
			if hasPhrase(normalized, phrase) {
				signal.Label = rule.label
				signal.Confidence = rule.confidence
				bestConf = rule.confidence
				break
			}
		}
	}
	if bestConf == 0 && looksLikeQuestion(normalized) {
		signal.Label = types.IntentQuestion
		signal.Confidence = questionConfidence
	}
	return signal
}

// normalizeUtterance lowercases and collapses runs of whitespace.
func normalizeUtterance(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func looksLikeQuestion(text string) bool {
	if strings.HasSuffix(text, "?") {
		return true
	}
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// hasPhrase reports whether phrase occurs in text with word boundaries on
// both sides, so "todo" never fires inside "mastodon".
func hasPhrase(text, phrase string) bool {
	for start := 0; start <= len(text)-len(phrase); {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		boundedLeft := i == 0 || !isWordChar(text[i-1])
		boundedRight := end == len(text) || !isWordChar(text[end])
		if boundedLeft && boundedRight {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// refineIntent asks the provider to reclassify an ambiguous keyword verdict.
// Any failure keeps the keyword verdict; refinement is best effort.
func (r *turnRun) refineIntent(ctx context.Context, keyword types.IntentSignal) types.IntentSignal {
	resp, err := r.controller.generator.Complete(ctx, llm.CompletionRequest{
		Prompt:      llm.IntentClassificationPrompt(keyword.Text),
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		log.Printf("WARNING: Turn %s (%s): intent refinement failed, keeping keyword verdict: %v", r.turnID, r.state, err)
		return keyword
	}

	refined, err := llm.ParseIntentResponse(resp.Text)
	if err != nil {
		log.Printf("WARNING: Turn %s (%s): unusable intent classification, keeping keyword verdict: %v", r.turnID, r.state, err)
		return keyword
	}
	refined.Text = keyword.Text
	return refined
}
