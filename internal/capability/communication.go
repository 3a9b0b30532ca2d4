package capability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/pkg/types"
)

const commCapabilityName = "communication"

var (
	// recipientPattern matches "to Sam", "email Sam", "message Sam about".
	// The name group stops at "about" so the topic is not swallowed.
	recipientPattern = regexp.MustCompile(`\b(?:to|email|text|message)\s+((?:[a-z]+\s?){1,4}?)(?:\s+about\b|\s+that\b|\s+saying\b|$|[.,!?])`)
	topicPattern     = regexp.MustCompile(`\babout\s+(.+?)(?:[.!?]|$)`)
)

// Communication drafts messages and emails from an utterance. It never
// sends anything. When a text generator is available it makes one
// completion call for the draft body; otherwise, or when the provider
// fails, it falls back to a deterministic template.
type Communication struct {
	generator llm.TextGenerator
}

// NewCommunication creates the drafting capability. generator may be nil,
// in which case every draft uses the template path.
func NewCommunication(generator llm.TextGenerator) *Communication {
	return &Communication{generator: generator}
}

// Descriptor describes the capability for the registry.
func (c *Communication) Descriptor() types.CapabilityDescriptor {
	return types.CapabilityDescriptor{
		Name:        commCapabilityName,
		Description: "Drafts messages and emails; never sends them.",
		SideEffect:  types.SideEffectNone,
		Examples: []string{
			"draft an email to Sam about the quarterly report",
			"write a message to my landlord about the leaking faucet",
		},
		Match: matchCommunication,
	}
}

func matchCommunication(signal types.IntentSignal) float64 {
	if signal.Label == types.IntentCommunication {
		return signal.Confidence
	}
	for _, cue := range []string{"draft a", "draft an", "write an email", "write a message", "compose"} {
		if strings.Contains(signal.Text, cue) {
			return 0.6
		}
	}
	return 0
}

// Handle produces a draft. The recipient and topic pulled from the
// utterance are echoed back in Data so front ends can prefill fields.
func (c *Communication) Handle(ctx context.Context, input types.CapabilityInput) (types.CapabilityOutput, error) {
	utterance := strings.TrimSpace(input.Utterance)
	if utterance == "" {
		return types.CapabilityOutput{}, types.NewCapabilityError(
			commCapabilityName, types.CapabilityInvalidInput, errors.New("empty utterance"))
	}
	lower := strings.ToLower(utterance)

	recipient := extractRecipient(lower)
	topic := extractTopic(lower)
	tone := input.Profile.Tone
	if tone == "" {
		tone = types.ToneNeutral
	}

	draft := c.generateDraft(ctx, utterance, recipient, topic, tone)

	data := map[string]string{"kind": messageKind(lower)}
	if recipient != "" {
		data["recipient"] = recipient
	}
	if topic != "" {
		data["topic"] = topic
	}

	return types.CapabilityOutput{
		Response: draft,
		Data:     data,
		Applied:  true,
	}, nil
}

// generateDraft asks the provider for a draft body, falling back to the
// deterministic template when no generator is wired or the call fails.
func (c *Communication) generateDraft(ctx context.Context, utterance, recipient, topic, tone string) string {
	if c.generator == nil {
		return templateDraft(recipient, topic, tone)
	}

	prompt := fmt.Sprintf("Draft the message the user is asking for. Reply with the draft only, no commentary.\n\nRequest: %s", utterance)
	system := fmt.Sprintf("You draft messages on the user's behalf. Write in a %s tone. Do not add a preamble.", tone)
	resp, err := c.generator.Complete(ctx, llm.CompletionRequest{
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		log.Printf("WARNING: draft generation failed, using template: %v", err)
		return templateDraft(recipient, topic, tone)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return templateDraft(recipient, topic, tone)
	}
	return text
}

// templateDraft is the provider-free draft. It is intentionally plain so a
// degraded session still hands the user something editable.
func templateDraft(recipient, topic, tone string) string {
	greeting := "Hi"
	closing := "Best"
	switch tone {
	case types.ToneFormal:
		greeting = "Dear"
		closing = "Kind regards"
	case types.ToneFriendly:
		greeting = "Hey"
		closing = "Cheers"
	}

	who := recipient
	if who == "" {
		who = "there"
	} else {
		who = capitalizeWords(who)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s,\n\n", greeting, who)
	if topic != "" {
		fmt.Fprintf(&b, "I wanted to reach out about %s.\n\n", topic)
	} else {
		b.WriteString("I wanted to reach out.\n\n")
	}
	b.WriteString("[Add your details here.]\n\n")
	fmt.Fprintf(&b, "%s", closing)
	return b.String()
}

func extractRecipient(lower string) string {
	m := recipientPattern.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	// "email to sam" matches at "email" and captures "to sam".
	name = strings.TrimPrefix(name, "to ")
	name = strings.TrimPrefix(name, "for ")
	// Possessives like "my landlord" read fine as recipients, but a bare
	// article is noise.
	switch name {
	case "a", "an", "the", "my", "":
		return ""
	}
	return name
}

func extractTopic(lower string) string {
	m := topicPattern.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func messageKind(lower string) string {
	if strings.Contains(lower, "email") {
		return "email"
	}
	return "message"
}

func capitalizeWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
