// Package llm provides the provider adapter for text completion and
// embeddings. It includes hand-rolled HTTP clients for Ollama, OpenAI, and
// Anthropic behind one normalized interface, retry and fallback across
// backends, strict JSON-only prompt templates, and the parsers that read
// model output back into typed results.
package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/aide/pkg/types"
)

// defaultPreamble anchors the assistant identity when no profile
// instructions override it.
const defaultPreamble = "You are Aide, a personal assistant. Answer using the supplied memory and conversation context. Be direct and concrete. If the context does not contain the answer, say so instead of inventing one."

// toneInstructions maps profile tones to one-line style directives.
var toneInstructions = map[string]string{
	types.ToneNeutral:  "",
	types.ToneFriendly: "Keep a warm, informal register.",
	types.ToneFormal:   "Keep a formal, professional register.",
	types.ToneConcise:  "Answer in as few words as the answer allows.",
}

// BuildProfilePreamble renders the assistant identity plus the user's
// standing constraints. The context assembler stores this as the window's
// system preamble and counts it against the token budget; the degraded turn
// path builds it directly when assembly was skipped.
func BuildProfilePreamble(profile *types.UserProfile) string {
	var b strings.Builder
	b.WriteString(defaultPreamble)

	if profile != nil {
		if profile.DisplayName != "" {
			fmt.Fprintf(&b, "\nThe user is %s.", profile.DisplayName)
		}
		if profile.Language != "" && profile.Language != "en" {
			fmt.Fprintf(&b, "\nAnswer in the language tagged %q unless asked otherwise.", profile.Language)
		}
		if profile.Timezone != "" && profile.Timezone != "UTC" {
			fmt.Fprintf(&b, "\nThe user's timezone is %s.", profile.Timezone)
		}
		if inst := toneInstructions[profile.Tone]; inst != "" {
			b.WriteString("\n")
			b.WriteString(inst)
		}
		if profile.Instructions != "" {
			b.WriteString("\n")
			b.WriteString(profile.Instructions)
		}
	}
	return b.String()
}

// BuildTurnSystem renders the system preamble for a completion turn. An
// assembled window already carries the profile constraints in its preamble
// and wins as-is; otherwise the preamble is built from the profile alone.
func BuildTurnSystem(window *types.ContextWindow, profile *types.UserProfile) string {
	if window != nil && window.SystemPreamble != "" {
		return window.SystemPreamble
	}
	return BuildProfilePreamble(profile)
}

// BuildTurnPrompt renders the assembled context window into the user-side
// prompt body. Section order is fixed: memory, recent turns, current input.
// Empty sections are omitted entirely.
func BuildTurnPrompt(window *types.ContextWindow) string {
	var b strings.Builder

	if len(window.Memories) > 0 {
		b.WriteString("RELEVANT MEMORY:\n")
		for _, m := range window.Memories {
			fmt.Fprintf(&b, "- [%s] %s\n", m.Entry.Kind, m.Entry.Content)
		}
		b.WriteString("\n")
	}

	if len(window.RecentTurns) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		for _, t := range window.RecentTurns {
			fmt.Fprintf(&b, "user: %s\n", t.Input)
			if t.Response != "" {
				fmt.Fprintf(&b, "aide: %s\n", t.Response)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("CURRENT MESSAGE:\n")
	b.WriteString(window.Input)
	return b.String()
}

// MemoryExtractionPrompt generates a strict JSON-only prompt that pulls
// durable facts, preferences, and episode notes out of one exchange.
// The parser skips entries with unknown kinds or out-of-range importance,
// so the prompt pins both hard.
func MemoryExtractionPrompt(input, response string) string {
	return fmt.Sprintf(`TASK: Extract facts worth remembering from one assistant exchange.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

FACT KINDS (ONLY these 3):
- fact: Stable statement about the user or their world
- preference: A like, dislike, or standing instruction
- episode: Something that happened, tied to this conversation

REQUIRED JSON STRUCTURE:
Your response MUST start with { and end with }
Your response MUST have a "facts" key with an array value
Each fact MUST have: content, kind, importance, sensitive

Example structure (EXACT FORMAT REQUIRED):
{
  "facts": [
    {"content":"User's sister is named Alice","kind":"fact","importance":0.7,"sensitive":false},
    {"content":"User prefers short answers","kind":"preference","importance":0.8,"sensitive":false}
  ]
}

RULES:
1. Extract ONLY information stated in the exchange, never inferred biography
2. Skip pleasantries, acknowledgements, and one-off trivia
3. importance 0.0-1.0: how much future conversations need this
4. sensitive true when the content holds contact details, credentials, health, or finances
5. If nothing is worth remembering, return {"facts":[]}
6. No trailing commas, no extra fields, no null values

USER MESSAGE:
%s

ASSISTANT RESPONSE:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"facts":[{"content":"X","kind":"fact","importance":0.5,"sensitive":false}]}`, input, response)
}

// IntentClassificationPrompt generates a strict JSON-only prompt for intent
// refinement. The keyword scorer runs first; this prompt is only consulted
// when its verdict is ambiguous and LLM refinement is enabled.
func IntentClassificationPrompt(utterance string) string {
	labels := strings.Join(types.IntentLabels(), "|")
	return fmt.Sprintf(`TASK: Classify the intent of one user message.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

INTENT LABELS (ONLY these):
- task: Create, complete, list, or change tasks and reminders
- communication: Draft, send, or summarize messages to other people
- analytics: Questions about the user's own stored data or usage
- preference: Statements about how the assistant should behave
- question: A question answerable from memory or general knowledge
- general: Anything else, including small talk

REQUIRED JSON STRUCTURE:
{"intent":"%s","confidence":0.0-1.0}

RULES:
1. Exactly one label from the list
2. confidence reflects how unambiguous the message is
3. No extra fields, no trailing commas

MESSAGE:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"intent":"question","confidence":0.9}`, labels, utterance)
}

// SummarizationPrompt generates a strict JSON-only prompt that condenses a
// run of conversation turns into one episode entry for long-term memory.
func SummarizationPrompt(turns []types.Turn) string {
	var transcript strings.Builder
	for i, t := range turns {
		fmt.Fprintf(&transcript, "user: %s\n", t.Input)
		if t.Response != "" {
			fmt.Fprintf(&transcript, "aide: %s\n", t.Response)
		}
		if i >= 50 { // keep the prompt inside model context limits
			fmt.Fprintf(&transcript, "... and %d more turns\n", len(turns)-50)
			break
		}
	}

	return fmt.Sprintf(`TASK: Summarize a conversation into one memory entry.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

REQUIRED JSON STRUCTURE:
{"summary":"...","importance":0.0-1.0}

RULES:
1. One to three sentences, past tense, concrete
2. Keep names, dates, and decisions; drop filler
3. importance reflects how much future conversations need this summary
4. No extra fields, no trailing commas

CONVERSATION:
%s
RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"summary":"X","importance":0.5}`, transcript.String())
}

// ToneNormalizationPrompt rewrites a drafted response in the profile tone.
// Output is plain text, not JSON; the draft passes through verbatim when the
// model returns nothing usable.
func ToneNormalizationPrompt(tone, draft string) string {
	instruction := toneInstructions[tone]
	if instruction == "" {
		instruction = "Keep a neutral register."
	}
	return fmt.Sprintf(`TASK: Rewrite the draft below without changing its meaning.
STYLE: %s
RULES:
1. Preserve every fact, name, number, and commitment
2. Do not add new information or remove any
3. Respond with the rewritten text only, no preamble

DRAFT:
%s`, instruction, draft)
}
