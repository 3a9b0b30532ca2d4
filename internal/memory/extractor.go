package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/pkg/types"
)

// Extractor derives memory candidates from a recorded turn.
type Extractor interface {
	Extract(ctx context.Context, turn *types.Turn) ([]llm.ExtractedFact, error)
}

// LLMExtractor derives candidates with one completion call per turn.
type LLMExtractor struct {
	generator llm.TextGenerator
}

// NewLLMExtractor returns an extractor backed by the given text generator.
func NewLLMExtractor(generator llm.TextGenerator) *LLMExtractor {
	return &LLMExtractor{generator: generator}
}

// Extract asks the model for extraction JSON and returns the parsed facts.
// Transport and parse failures return an error so the caller can retry or
// fall back to heuristics.
func (e *LLMExtractor) Extract(ctx context.Context, turn *types.Turn) ([]llm.ExtractedFact, error) {
	req := llm.CompletionRequest{
		Prompt:      llm.MemoryExtractionPrompt(turn.Input, turn.Response),
		Temperature: 0.2,
	}

	resp, err := e.generator.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	facts, err := llm.ParseExtractionResponse(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}
	return facts, nil
}

const (
	// minSentenceLength filters out fragments too short to carry a fact.
	minSentenceLength = 8

	// episodeMinLength is the shortest input worth keeping as an episode
	// when no explicit fact or preference was detected.
	episodeMinLength = 80

	// episodeSnippetMax caps how much of the input and response an episode
	// summary quotes.
	episodeSnippetMax = 160
)

// preferencePrefixes mark first-person statements kept as preferences.
var preferencePrefixes = []string{
	"i prefer", "i like", "i love", "i hate", "i dislike",
	"i always", "i never", "i usually", "call me",
}

// factPrefixes mark self-descriptions kept as facts.
var factPrefixes = []string{
	"i am ", "i'm ", "i work", "i live",
	"my name is", "my birthday", "my email", "my phone",
}

// sensitiveTerms flag content that must be redacted from logs.
var sensitiveTerms = []string{
	"password", "passphrase", "secret", "api key",
	"credit card", "ssn", "social security",
}

// HeuristicExtractor derives candidates from surface patterns in the input.
// It backs consolidation when no provider is configured and when provider
// calls keep failing, so it never returns an error.
type HeuristicExtractor struct{}

// Extract scans the input sentence by sentence for explicit remember
// requests, preferences, and self-descriptions. When nothing matches, a
// sufficiently substantive exchange is kept as a low-importance episode.
func (e *HeuristicExtractor) Extract(_ context.Context, turn *types.Turn) ([]llm.ExtractedFact, error) {
	var facts []llm.ExtractedFact

	for _, sentence := range splitSentences(turn.Input) {
		lower := strings.ToLower(sentence)

		var fact llm.ExtractedFact
		switch {
		case strings.HasPrefix(lower, "remember ") || strings.Contains(lower, "don't forget"):
			fact = llm.ExtractedFact{Content: sentence, Kind: string(types.KindFact), Importance: 0.9}
		case strings.Contains(lower, "my name is"):
			fact = llm.ExtractedFact{Content: sentence, Kind: string(types.KindFact), Importance: 0.85}
		case hasAnyPrefix(lower, preferencePrefixes):
			fact = llm.ExtractedFact{Content: sentence, Kind: string(types.KindPreference), Importance: 0.7}
		case hasAnyPrefix(lower, factPrefixes):
			fact = llm.ExtractedFact{Content: sentence, Kind: string(types.KindFact), Importance: 0.6}
		default:
			continue
		}

		fact.Sensitive = turn.Sensitive || containsAny(lower, sensitiveTerms)
		facts = append(facts, fact)
	}

	if len(facts) == 0 {
		if summary := episodeSummary(turn); summary != "" {
			facts = append(facts, llm.ExtractedFact{
				Content:    summary,
				Kind:       string(types.KindEpisode),
				Importance: 0.3,
				Sensitive:  turn.Sensitive,
			})
		}
	}

	return facts, nil
}

// splitSentences breaks an utterance into sentence-sized chunks. Good enough
// for prefix matching; no attempt at full tokenization.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';' || r == '\n'
	})

	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) >= minSentenceLength {
			sentences = append(sentences, part)
		}
	}
	return sentences
}

// episodeSummary produces a compact record of a substantive exchange, or ""
// when the input is too short to be worth keeping.
func episodeSummary(turn *types.Turn) string {
	input := strings.TrimSpace(turn.Input)
	if len(input) < episodeMinLength {
		return ""
	}

	summary := "User said: " + truncateText(input, episodeSnippetMax)
	if response := strings.TrimSpace(turn.Response); response != "" {
		summary += " Aide replied: " + truncateText(response, episodeSnippetMax)
	}
	return summary
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

var (
	_ Extractor = (*LLMExtractor)(nil)
	_ Extractor = (*HeuristicExtractor)(nil)
)
