package domain

import (
	"encoding/json"
	"sort"
)

// Language codes the catalog ships with. English is the fixed fallback,
// Tamil the secondary one.
const (
	LangEnglish = "en"
	LangTamil   = "ta"
)

// LocalizedText is either a plain string or a per-language map. Question and
// option text in the catalog JSON appears in both shapes, so unmarshalling
// accepts both.
type LocalizedText struct {
	Plain      string
	ByLanguage map[string]string
}

// PlainText builds a single-language text.
func PlainText(s string) LocalizedText {
	return LocalizedText{Plain: s}
}

// Resolve picks the text for lang, falling back to English, then Tamil,
// then the first available language in deterministic order.
func (t LocalizedText) Resolve(lang string) string {
	if t.ByLanguage == nil {
		return t.Plain
	}
	if s, ok := t.ByLanguage[lang]; ok && s != "" {
		return s
	}
	if s, ok := t.ByLanguage[LangEnglish]; ok && s != "" {
		return s
	}
	if s, ok := t.ByLanguage[LangTamil]; ok && s != "" {
		return s
	}
	keys := make([]string, 0, len(t.ByLanguage))
	for k := range t.ByLanguage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if t.ByLanguage[k] != "" {
			return t.ByLanguage[k]
		}
	}
	return ""
}

// IsZero reports whether no text is present in any shape.
func (t LocalizedText) IsZero() bool {
	return t.Plain == "" && len(t.ByLanguage) == 0
}

func (t LocalizedText) MarshalJSON() ([]byte, error) {
	if t.ByLanguage != nil {
		return json.Marshal(t.ByLanguage)
	}
	return json.Marshal(t.Plain)
}

func (t *LocalizedText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Plain = s
		t.ByLanguage = nil
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t.Plain = ""
	t.ByLanguage = m
	return nil
}
