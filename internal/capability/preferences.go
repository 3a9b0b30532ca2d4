package capability

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/services"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

const prefsCapabilityName = "preferences"

// ProfileUpdater applies a partial profile update. Satisfied by
// services.ProfileService.
type ProfileUpdater interface {
	Update(ctx context.Context, userID string, update services.ProfileUpdate) (types.UserProfile, error)
}

var (
	displayNamePattern = regexp.MustCompile(`(?i)\b(?:call me|my name is|address me as)\s+([^.,!?]+)`)
	timezonePattern    = regexp.MustCompile(`(?i)\btime ?zone\b(?: is| to|:)?\s+([A-Za-z]+(?:[_/-][A-Za-z_+-]+)*)`)
)

// languageNames maps spoken language names to the tags stored on the
// profile. Ordered so parsing is deterministic when several appear.
var languageNames = []struct {
	name string
	tag  string
}{
	{"english", "en"},
	{"italian", "it"},
	{"german", "de"},
	{"french", "fr"},
	{"spanish", "es"},
	{"portuguese", "pt"},
	{"japanese", "ja"},
	{"chinese", "zh"},
}

// Preferences is the explicit preference-update path and the only
// capability that writes the user profile. Durable changes to name,
// language, timezone, and tone go through here rather than through
// memory consolidation.
type Preferences struct {
	updater ProfileUpdater
}

// NewPreferences creates the preference capability over the profile service.
func NewPreferences(updater ProfileUpdater) *Preferences {
	return &Preferences{updater: updater}
}

// Descriptor describes the capability for the registry.
func (p *Preferences) Descriptor() types.CapabilityDescriptor {
	return types.CapabilityDescriptor{
		Name:        prefsCapabilityName,
		Description: "Updates stored preferences: name, language, timezone, tone.",
		SideEffect:  types.SideEffectStateful,
		Examples: []string{
			"call me Ada from now on",
			"switch to italian",
			"set my timezone to Europe/Rome",
			"be more concise",
		},
		Match: matchPreferences,
	}
}

func matchPreferences(signal types.IntentSignal) float64 {
	if signal.Label == types.IntentPreference {
		return signal.Confidence
	}
	// A parseable preference phrase is a strong signal even when the
	// classifier labeled the turn as something else.
	if parseDisplayName(signal.Text) != "" || parseTone(signal.Text) != "" {
		return 0.6
	}
	if _, found := parseLanguage(signal.Text); found {
		return 0.6
	}
	if _, found := parseTimezone(signal.Text); found {
		return 0.6
	}
	return 0
}

// Handle parses the preference change out of the utterance and persists
// it. An utterance with no recognizable change is an invalid-input error
// so the controller falls back to plain completion.
func (p *Preferences) Handle(ctx context.Context, input types.CapabilityInput) (types.CapabilityOutput, error) {
	utterance := strings.TrimSpace(input.Utterance)
	if utterance == "" {
		return types.CapabilityOutput{}, types.NewCapabilityError(
			prefsCapabilityName, types.CapabilityInvalidInput, errors.New("empty utterance"))
	}
	lower := strings.ToLower(utterance)

	var update services.ProfileUpdate
	var changes []string
	data := map[string]string{}

	if name := parseDisplayName(utterance); name != "" {
		update.DisplayName = &name
		data["display_name"] = name
		changes = append(changes, fmt.Sprintf("I'll call you %s", name))
	}
	if tone := parseTone(lower); tone != "" {
		update.Tone = &tone
		data["tone"] = tone
		changes = append(changes, fmt.Sprintf("tone set to %s", tone))
	}
	if tag, found := parseLanguage(lower); found {
		update.Language = &tag
		data["language"] = tag
		changes = append(changes, fmt.Sprintf("language set to %s", tag))
	}
	if tz, found := parseTimezone(utterance); found {
		if tz == "" {
			return types.CapabilityOutput{}, types.NewCapabilityError(
				prefsCapabilityName, types.CapabilityInvalidInput, errors.New("unrecognized timezone"))
		}
		update.Timezone = &tz
		data["timezone"] = tz
		changes = append(changes, fmt.Sprintf("timezone set to %s", tz))
	}

	if update.IsZero() {
		return types.CapabilityOutput{}, types.NewCapabilityError(
			prefsCapabilityName, types.CapabilityInvalidInput, errors.New("no preference change recognized"))
	}

	if _, err := p.updater.Update(ctx, input.UserID, update); err != nil {
		kind := types.CapabilityInternal
		if errors.Is(err, storage.ErrInvalidInput) {
			kind = types.CapabilityInvalidInput
		}
		return types.CapabilityOutput{}, types.NewCapabilityError(prefsCapabilityName, kind, err)
	}

	return types.CapabilityOutput{
		Response: "Done: " + strings.Join(changes, ", ") + ".",
		Data:     data,
		Applied:  true,
	}, nil
}

// parseDisplayName returns the requested name with original casing, or "".
// Trailing phrases like "from now on" and conjunctions introducing another
// preference are cut off so only the name remains.
func parseDisplayName(text string) string {
	m := displayNamePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	lower := strings.ToLower(name)
	for _, marker := range []string{" from now on", " and ", " but ", " please"} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			name = name[:idx]
			lower = lower[:idx]
		}
	}
	return strings.TrimSpace(name)
}

// parseTone returns a valid tone mentioned alongside a tone cue, or "".
func parseTone(lower string) string {
	hasCue := false
	for _, cue := range []string{"tone", "be more", "be less", "speak", "talk to me", "keep it", "respond"} {
		if strings.Contains(lower, cue) {
			hasCue = true
			break
		}
	}
	if !hasCue {
		return ""
	}
	for _, tone := range types.ValidTones {
		if strings.Contains(lower, tone) {
			return tone
		}
	}
	return ""
}

// parseLanguage returns the tag for the last language name mentioned.
// "switch from english to italian" resolves to "it".
func parseLanguage(lower string) (string, bool) {
	hasCue := false
	for _, cue := range []string{"speak", "language", "reply", "answer", "write", "switch", "talk"} {
		if strings.Contains(lower, cue) {
			hasCue = true
			break
		}
	}
	if !hasCue {
		return "", false
	}

	tag := ""
	best := -1
	for _, lang := range languageNames {
		if idx := strings.LastIndex(lower, lang.name); idx > best {
			best = idx
			tag = lang.tag
		}
	}
	return tag, tag != ""
}

// parseTimezone extracts and canonicalizes an IANA timezone name. found
// reports whether the utterance asked for a timezone change at all; an
// empty name with found true means the zone could not be resolved.
func parseTimezone(text string) (string, bool) {
	m := timezonePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	raw := strings.TrimSpace(m[1])
	if strings.EqualFold(raw, "utc") {
		return "UTC", true
	}
	if _, err := time.LoadLocation(raw); err == nil {
		return raw, true
	}
	// Users type "europe/rome"; zone names want "Europe/Rome".
	canonical := canonicalZone(raw)
	if _, err := time.LoadLocation(canonical); err == nil {
		return canonical, true
	}
	return "", true
}

func canonicalZone(raw string) string {
	segments := strings.Split(raw, "/")
	for i, seg := range segments {
		parts := strings.Split(seg, "_")
		for j, part := range parts {
			if part == "" {
				continue
			}
			parts[j] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
		segments[i] = strings.Join(parts, "_")
	}
	return strings.Join(segments, "/")
}
