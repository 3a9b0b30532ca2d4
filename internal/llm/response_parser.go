package llm

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/aide/pkg/types"
)

// ExtractedFact is one memory candidate parsed from an extraction response.
// Kind is a raw string at this stage; the parser validates it against the
// known memory kinds before the fact is returned.
type ExtractedFact struct {
	Content    string  `json:"content"`
	Kind       string  `json:"kind"`
	Importance float64 `json:"importance"`
	Sensitive  bool    `json:"sensitive"`
}

// extractionResponse is the complete memory extraction payload.
type extractionResponse struct {
	Facts []ExtractedFact `json:"facts"`
}

// SummaryResponse is the parsed result of a conversation summarization call.
type SummaryResponse struct {
	Summary    string  `json:"summary"`
	Importance float64 `json:"importance"`
}

// intentResponse is the raw intent refinement payload.
type intentResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// extractJSON extracts the first valid JSON object from a string that may
// contain extra text. This handles cases where models add explanations
// before or after the JSON despite instructions.
func extractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found, return as-is and let the parser fail
	}

	// Find the matching closing brace, skipping braces inside strings.
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // no complete JSON found, return as-is
}

// ParseExtractionResponse parses memory extraction JSON and filters out
// invalid entries. Unknown kinds, out-of-range importance, and empty content
// are skipped rather than failing the whole batch. Only malformed JSON
// itself returns an error.
func ParseExtractionResponse(jsonStr string) ([]ExtractedFact, error) {
	cleanJSON := extractJSON(jsonStr)

	var response extractionResponse
	if err := json.Unmarshal([]byte(cleanJSON), &response); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	var valid []ExtractedFact
	for _, fact := range response.Facts {
		if strings.TrimSpace(fact.Content) == "" {
			continue
		}
		if !types.IsValidMemoryKind(types.MemoryKind(fact.Kind)) {
			log.Printf("response_parser: skipping fact %.40q with unknown kind %q", fact.Content, fact.Kind)
			continue
		}
		if fact.Importance < 0.0 || fact.Importance > 1.0 {
			log.Printf("response_parser: skipping fact %.40q with invalid importance %f", fact.Content, fact.Importance)
			continue
		}
		valid = append(valid, fact)
	}
	return valid, nil
}

// ParseSummaryResponse parses summarization JSON. An empty summary is an
// error; importance outside [0,1] clamps instead of discarding the summary.
func ParseSummaryResponse(jsonStr string) (*SummaryResponse, error) {
	cleanJSON := extractJSON(jsonStr)

	var response SummaryResponse
	if err := json.Unmarshal([]byte(cleanJSON), &response); err != nil {
		return nil, fmt.Errorf("failed to parse summary JSON: %w", err)
	}

	if strings.TrimSpace(response.Summary) == "" {
		return nil, fmt.Errorf("summary response has no summary text")
	}

	if response.Importance < 0.0 {
		response.Importance = 0.0
	}
	if response.Importance > 1.0 {
		response.Importance = 1.0
	}

	return &response, nil
}

// ParseIntentResponse parses intent refinement JSON into an IntentSignal.
// The caller fills in the Text field. Unknown labels and out-of-range
// confidence are errors; the keyword verdict stands when refinement fails.
func ParseIntentResponse(jsonStr string) (types.IntentSignal, error) {
	cleanJSON := extractJSON(jsonStr)

	var response intentResponse
	if err := json.Unmarshal([]byte(cleanJSON), &response); err != nil {
		return types.IntentSignal{}, fmt.Errorf("failed to parse intent JSON: %w", err)
	}

	if !types.IsValidIntent(response.Intent) {
		return types.IntentSignal{}, fmt.Errorf("invalid intent label: %s (must be one of: %s)",
			response.Intent, strings.Join(types.IntentLabels(), ", "))
	}

	if response.Confidence < 0.0 || response.Confidence > 1.0 {
		return types.IntentSignal{}, fmt.Errorf("invalid confidence score: %f (must be 0.0-1.0)", response.Confidence)
	}

	return types.IntentSignal{
		Label:      response.Intent,
		Confidence: response.Confidence,
	}, nil
}
