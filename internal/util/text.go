package util

import "strings"

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// QueryTerms lowercases the text and splits it into whitespace-separated
// terms, dropping punctuation-only fragments. Used for lexical overlap
// scoring in the extractive answer fallback.
func QueryTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		term := strings.Trim(field, ".,;:!?\"'()[]")
		if term == "" {
			continue
		}
		terms[term] = struct{}{}
	}
	return terms
}

// SplitSentences splits text into sentences on '.', '!' and '?'
// boundaries. The terminator stays attached to its sentence. Fragments
// that are only whitespace are dropped.
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// TruncateRunes shortens s to at most limit runes, appending an ellipsis
// when anything was cut.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
