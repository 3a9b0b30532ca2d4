package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/scrypster/aide/pkg/types"
)

func heuristicFacts(t *testing.T, turn *types.Turn) []string {
	t.Helper()
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	kinds := make([]string, len(facts))
	for i, fact := range facts {
		kinds[i] = fact.Kind
	}
	return kinds
}

func TestHeuristicExtractorPreference(t *testing.T) {
	turn := &types.Turn{Input: "I prefer window seats when flying."}
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(facts) != 1 {
		t.Fatalf("Got %d facts, want 1", len(facts))
	}
	if facts[0].Kind != string(types.KindPreference) {
		t.Errorf("Kind = %s, want preference", facts[0].Kind)
	}
	if facts[0].Importance != 0.7 {
		t.Errorf("Importance = %f, want 0.7", facts[0].Importance)
	}
	if facts[0].Content != "I prefer window seats when flying" {
		t.Errorf("Content = %q", facts[0].Content)
	}
}

func TestHeuristicExtractorRememberRequest(t *testing.T) {
	turn := &types.Turn{Input: "Remember that the garage code changed last month."}
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(facts) != 1 {
		t.Fatalf("Got %d facts, want 1", len(facts))
	}
	if facts[0].Kind != string(types.KindFact) {
		t.Errorf("Kind = %s, want fact", facts[0].Kind)
	}
	if facts[0].Importance != 0.9 {
		t.Errorf("Importance = %f, want 0.9 for an explicit remember request", facts[0].Importance)
	}
}

func TestHeuristicExtractorNameMidSentence(t *testing.T) {
	turn := &types.Turn{Input: "Hey there, my name is Dana by the way."}
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(facts) != 1 || facts[0].Kind != string(types.KindFact) {
		t.Fatalf("Expected one fact, got %v", facts)
	}
}

func TestHeuristicExtractorMultipleSentences(t *testing.T) {
	turn := &types.Turn{Input: "My name is Dana. I prefer tea over coffee."}
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(facts) != 2 {
		t.Fatalf("Got %d facts, want 2", len(facts))
	}
	if facts[0].Kind != string(types.KindFact) || facts[1].Kind != string(types.KindPreference) {
		t.Errorf("Kinds = [%s, %s], want [fact, preference]", facts[0].Kind, facts[1].Kind)
	}
}

func TestHeuristicExtractorFlagsSensitiveContent(t *testing.T) {
	turn := &types.Turn{Input: "Remember that my wifi password is hunter2."}
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(facts) != 1 {
		t.Fatalf("Got %d facts, want 1", len(facts))
	}
	if !facts[0].Sensitive {
		t.Error("A fact mentioning a password must be marked sensitive")
	}
}

func TestHeuristicExtractorSensitiveTurnPropagates(t *testing.T) {
	turn := &types.Turn{Input: "I prefer to keep this between us.", Sensitive: true}
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for _, fact := range facts {
		if !fact.Sensitive {
			t.Errorf("Fact %q not marked sensitive despite a sensitive turn", fact.Content)
		}
	}
}

func TestHeuristicExtractorEpisodeFallback(t *testing.T) {
	turn := &types.Turn{
		Input:    "Can you walk me through how the quarterly budget review works and who signs off on the final numbers once finance has them?",
		Response: "The review starts with department submissions, then finance consolidates and the CFO signs off.",
	}
	facts, err := (&HeuristicExtractor{}).Extract(context.Background(), turn)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(facts) != 1 {
		t.Fatalf("Got %d facts, want 1 episode", len(facts))
	}
	if facts[0].Kind != string(types.KindEpisode) {
		t.Errorf("Kind = %s, want episode", facts[0].Kind)
	}
	if facts[0].Importance != 0.3 {
		t.Errorf("Importance = %f, want 0.3 for episodes", facts[0].Importance)
	}
	if !strings.HasPrefix(facts[0].Content, "User said: ") {
		t.Errorf("Episode content = %q, want the exchange summary", facts[0].Content)
	}
	if !strings.Contains(facts[0].Content, "Aide replied: ") {
		t.Error("Episode should include the response side of the exchange")
	}
}

func TestHeuristicExtractorSkipsSmallTalk(t *testing.T) {
	for _, input := range []string{"thanks!", "ok", "sounds good, see you then"} {
		if kinds := heuristicFacts(t, &types.Turn{Input: input}); len(kinds) != 0 {
			t.Errorf("Input %q produced facts %v, want none", input, kinds)
		}
	}
}

func TestLLMExtractorParsesFacts(t *testing.T) {
	generator := &stubGenerator{
		text: `{"facts":[
			{"content":"User works remotely on Fridays","kind":"fact","importance":0.8,"sensitive":false},
			{"content":"Bad kind is dropped","kind":"rumor","importance":0.5,"sensitive":false}
		]}`,
	}
	extractor := NewLLMExtractor(generator)

	facts, err := extractor.Extract(context.Background(), &types.Turn{Input: "in", Response: "out"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(facts) != 1 {
		t.Fatalf("Got %d facts, want 1 (unknown kinds are filtered)", len(facts))
	}
	if facts[0].Content != "User works remotely on Fridays" {
		t.Errorf("Content = %q", facts[0].Content)
	}
}

func TestLLMExtractorPropagatesErrors(t *testing.T) {
	extractor := NewLLMExtractor(&stubGenerator{err: errors.New("connection refused")})
	if _, err := extractor.Extract(context.Background(), &types.Turn{Input: "in"}); err == nil {
		t.Error("Expected a transport error to propagate")
	}

	malformed := NewLLMExtractor(&stubGenerator{text: "sorry, I cannot help with that"})
	if _, err := malformed.Extract(context.Background(), &types.Turn{Input: "in"}); err == nil {
		t.Error("Expected a parse error for a non-JSON response")
	}
}
