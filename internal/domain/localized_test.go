package domain_test

import (
	"encoding/json"
	"testing"

	"vlat-exam-service/internal/domain"
)

func TestResolveFallbackChain(t *testing.T) {
	text := domain.LocalizedText{ByLanguage: map[string]string{
		"en": "Which article?",
		"ta": "எந்தப் பிரிவு?",
	}}

	if got := text.Resolve("ta"); got != "எந்தப் பிரிவு?" {
		t.Fatalf("expected Tamil text, got %q", got)
	}
	if got := text.Resolve("fr"); got != "Which article?" {
		t.Fatalf("expected English fallback, got %q", got)
	}

	tamilOnly := domain.LocalizedText{ByLanguage: map[string]string{"ta": "மட்டும்"}}
	if got := tamilOnly.Resolve("en"); got != "மட்டும்" {
		t.Fatalf("expected Tamil fallback, got %q", got)
	}

	other := domain.LocalizedText{ByLanguage: map[string]string{"hi": "b", "de": "a"}}
	if got := other.Resolve("en"); got != "a" {
		t.Fatalf("expected first language by sorted key, got %q", got)
	}
}

func TestResolvePlain(t *testing.T) {
	text := domain.PlainText("Article 17")
	if got := text.Resolve("ta"); got != "Article 17" {
		t.Fatalf("expected plain text regardless of language, got %q", got)
	}
}

func TestUnmarshalBothShapes(t *testing.T) {
	var plain domain.LocalizedText
	if err := json.Unmarshal([]byte(`"Article 17"`), &plain); err != nil {
		t.Fatalf("unmarshal plain: %v", err)
	}
	if plain.Plain != "Article 17" || plain.ByLanguage != nil {
		t.Fatalf("unexpected plain result: %+v", plain)
	}

	var mapped domain.LocalizedText
	if err := json.Unmarshal([]byte(`{"en":"Yes","ta":"ஆம்"}`), &mapped); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	if mapped.ByLanguage["ta"] != "ஆம்" {
		t.Fatalf("unexpected map result: %+v", mapped)
	}

	if err := json.Unmarshal([]byte(`42`), &mapped); err == nil {
		t.Fatal("expected error for non-text shape")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	question := domain.Question{
		ID:     "q1",
		Prompt: domain.LocalizedText{ByLanguage: map[string]string{"en": "Prompt"}},
		Options: []domain.Option{
			{ID: "a", Text: domain.PlainText("Option A")},
		},
		CorrectOptionID: "a",
	}

	data, err := json.Marshal(question)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded domain.Question
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Prompt.Resolve("en") != "Prompt" {
		t.Fatalf("prompt lost in round trip: %+v", decoded.Prompt)
	}
	if decoded.Options[0].Text.Plain != "Option A" {
		t.Fatalf("option text lost in round trip: %+v", decoded.Options[0])
	}
	if decoded.CorrectOptionID != "a" {
		t.Fatalf("correct option lost: %+v", decoded)
	}
}
