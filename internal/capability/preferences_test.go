package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/scrypster/aide/internal/services"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

type stubUpdater struct {
	userID string
	update services.ProfileUpdate
	calls  int
	err    error
}

func (s *stubUpdater) Update(_ context.Context, userID string, update services.ProfileUpdate) (types.UserProfile, error) {
	s.calls++
	s.userID = userID
	s.update = update
	if s.err != nil {
		return types.UserProfile{}, s.err
	}
	return types.UserProfile{UserID: userID}, nil
}

func TestPreferencesSetsDisplayName(t *testing.T) {
	updater := &stubUpdater{}
	p := NewPreferences(updater)

	out, err := p.Handle(context.Background(), types.CapabilityInput{
		UserID:    "u1",
		Utterance: "Call me Ada from now on",
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if updater.update.DisplayName == nil || *updater.update.DisplayName != "Ada" {
		t.Errorf("DisplayName update = %v, want Ada", updater.update.DisplayName)
	}
	if updater.userID != "u1" {
		t.Errorf("userID = %q, want u1", updater.userID)
	}
	if !out.Applied {
		t.Error("Applied = false, want true")
	}
	if !strings.Contains(out.Response, "Ada") {
		t.Errorf("Response = %q, want the new name echoed", out.Response)
	}
	if out.Data["display_name"] != "Ada" {
		t.Errorf(`Data["display_name"] = %q, want "Ada"`, out.Data["display_name"])
	}
}

func TestPreferencesSetsTone(t *testing.T) {
	updater := &stubUpdater{}
	p := NewPreferences(updater)

	_, err := p.Handle(context.Background(), types.CapabilityInput{
		UserID:    "u1",
		Utterance: "please be more concise",
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if updater.update.Tone == nil || *updater.update.Tone != types.ToneConcise {
		t.Errorf("Tone update = %v, want concise", updater.update.Tone)
	}
}

func TestPreferencesSetsLanguage(t *testing.T) {
	updater := &stubUpdater{}
	p := NewPreferences(updater)

	_, err := p.Handle(context.Background(), types.CapabilityInput{
		UserID:    "u1",
		Utterance: "switch to italian",
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if updater.update.Language == nil || *updater.update.Language != "it" {
		t.Errorf("Language update = %v, want it", updater.update.Language)
	}
	if updater.update.Tone != nil || updater.update.DisplayName != nil || updater.update.Timezone != nil {
		t.Error("unrelated fields were updated")
	}
}

func TestPreferencesSetsTimezone(t *testing.T) {
	updater := &stubUpdater{}
	p := NewPreferences(updater)

	_, err := p.Handle(context.Background(), types.CapabilityInput{
		UserID:    "u1",
		Utterance: "set my timezone to UTC",
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if updater.update.Timezone == nil || *updater.update.Timezone != "UTC" {
		t.Errorf("Timezone update = %v, want UTC", updater.update.Timezone)
	}
}

func TestPreferencesCombinesChanges(t *testing.T) {
	updater := &stubUpdater{}
	p := NewPreferences(updater)

	out, err := p.Handle(context.Background(), types.CapabilityInput{
		UserID:    "u1",
		Utterance: "call me Ada and be more formal",
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if updater.update.DisplayName == nil || *updater.update.DisplayName != "Ada" {
		t.Errorf("DisplayName update = %v, want Ada cut before the conjunction", updater.update.DisplayName)
	}
	if updater.update.Tone == nil || *updater.update.Tone != types.ToneFormal {
		t.Errorf("Tone update = %v, want formal", updater.update.Tone)
	}
	if updater.calls != 1 {
		t.Errorf("Update calls = %d, want both changes in one call", updater.calls)
	}
	if !strings.Contains(out.Response, "Ada") || !strings.Contains(out.Response, "formal") {
		t.Errorf("Response = %q, want both changes acknowledged", out.Response)
	}
}

func TestPreferencesNothingRecognized(t *testing.T) {
	updater := &stubUpdater{}
	p := NewPreferences(updater)

	_, err := p.Handle(context.Background(), types.CapabilityInput{
		UserID:    "u1",
		Utterance: "what is the weather like",
	})
	ce, ok := types.IsCapabilityError(err)
	if !ok || ce.Kind != types.CapabilityInvalidInput {
		t.Fatalf("Handle error = %v, want invalid_input CapabilityError", err)
	}
	if updater.calls != 0 {
		t.Errorf("Update calls = %d, want none", updater.calls)
	}
}

func TestPreferencesUpdaterErrorKinds(t *testing.T) {
	invalid := &stubUpdater{err: fmt.Errorf("%w: unknown tone", storage.ErrInvalidInput)}
	p := NewPreferences(invalid)
	_, err := p.Handle(context.Background(), types.CapabilityInput{UserID: "u1", Utterance: "be more formal"})
	if ce, ok := types.IsCapabilityError(err); !ok || ce.Kind != types.CapabilityInvalidInput {
		t.Errorf("validation failure error = %v, want invalid_input kind", err)
	}

	broken := &stubUpdater{err: errors.New("disk full")}
	p = NewPreferences(broken)
	_, err = p.Handle(context.Background(), types.CapabilityInput{UserID: "u1", Utterance: "be more formal"})
	if ce, ok := types.IsCapabilityError(err); !ok || ce.Kind != types.CapabilityInternal {
		t.Errorf("storage failure error = %v, want internal kind", err)
	}
}

func TestMatchPreferences(t *testing.T) {
	if got := matchPreferences(types.IntentSignal{Label: types.IntentPreference, Confidence: 0.8}); got != 0.8 {
		t.Errorf("labeled signal confidence = %v, want 0.8", got)
	}
	if got := matchPreferences(types.IntentSignal{Label: types.IntentGeneral, Text: "call me ada"}); got != 0.6 {
		t.Errorf("name-change confidence = %v, want 0.6", got)
	}
	if got := matchPreferences(types.IntentSignal{Label: types.IntentGeneral, Text: "set my timezone to utc"}); got != 0.6 {
		t.Errorf("timezone confidence = %v, want 0.6", got)
	}
	if got := matchPreferences(types.IntentSignal{Label: types.IntentGeneral, Text: "play some music"}); got != 0 {
		t.Errorf("unrelated confidence = %v, want 0", got)
	}
}

func TestCanonicalZone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"europe/rome", "Europe/Rome"},
		{"america/new_york", "America/New_York"},
		{"Asia/Tokyo", "Asia/Tokyo"},
	}
	for _, tt := range tests {
		if got := canonicalZone(tt.raw); got != tt.want {
			t.Errorf("canonicalZone(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
