package chat

import (
	"errors"
	"strings"
	"testing"

	"kidgate.dev/internal/identity"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		raw  string
		want Mode
		ok   bool
	}{
		{"", ModeGeneral, true},
		{"general", ModeGeneral, true},
		{"study", ModeStudy, true},
		{"creative", ModeCreative, true},
		{"turbo", "", false},
		{"Study", "", false},
	}
	for _, tc := range cases {
		mode, err := ParseMode(tc.raw)
		if tc.ok {
			if err != nil || mode != tc.want {
				t.Errorf("ParseMode(%q) = %q, %v", tc.raw, mode, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseMode(%q) err = %v, want ErrInvalidInput", tc.raw, err)
		}
	}
}

func TestSystemPromptComposition(t *testing.T) {
	subject := &identity.Identity{ID: "kid-1", AgeBracket: identity.AgeUnder5}

	study := SystemPrompt(ModeStudy, subject)
	if !strings.Contains(study, "Study Mode") {
		t.Fatal("study prompt missing mode clause")
	}
	if !strings.Contains(study, "very simple language") {
		t.Fatal("study prompt missing age clause")
	}
	if !strings.Contains(study, "child-safe") {
		t.Fatal("study prompt missing safety clause")
	}

	creative := SystemPrompt(ModeCreative, subject)
	if !strings.Contains(creative, "Creative Companion Mode") {
		t.Fatal("creative prompt missing mode clause")
	}

	// Same inputs, same prompt.
	if SystemPrompt(ModeStudy, subject) != study {
		t.Fatal("prompt not deterministic")
	}

	// Unknown bracket omits the age clause but keeps the rest.
	anon := SystemPrompt(ModeGeneral, nil)
	if strings.Contains(anon, "simple language") {
		t.Fatal("nil subject got an age clause")
	}
	if !strings.Contains(anon, "child-safe") {
		t.Fatal("nil subject missing safety clause")
	}
}
