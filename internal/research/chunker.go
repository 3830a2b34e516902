package research

import "strings"

// SplitChunks breaks extracted text at the configured granularity.
// Empty spans are dropped; very short fragments are merged forward so
// embeddings are not wasted on connective tissue.
func SplitChunks(text, level string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var parts []string
	switch level {
	case "paragraph":
		parts = strings.Split(text, "\n\n")
	case "phrase":
		parts = splitAny(text, ".!?;:,\n")
	default: // sentence
		parts = splitAny(text, ".!?\n")
	}

	const minRunes = 24
	var out []string
	carry := ""
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if carry != "" {
			p = carry + " " + p
			carry = ""
		}
		if len([]rune(p)) < minRunes {
			carry = p
			continue
		}
		out = append(out, p)
	}
	if carry != "" {
		if len(out) > 0 {
			out[len(out)-1] += " " + carry
		} else {
			out = append(out, carry)
		}
	}
	return out
}

func splitAny(s, seps string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
}

// CountTokens is a whitespace-and-length heuristic: close enough for
// budget arithmetic, which tolerates tokenization rounding.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	runes := len([]rune(text))
	// English prose averages ~4 chars per token; word count alone
	// undercounts for long words and punctuation.
	byRunes := runes / 4
	if byRunes > words {
		return byRunes
	}
	return words
}
