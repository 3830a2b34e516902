package research

import (
	"strings"
	"testing"
)

func TestSplitChunksSentence(t *testing.T) {
	text := "Solar capacity grew forty percent last year. Grid storage lagged behind demand growth. Offshore wind auctions stalled in several markets."
	chunks := SplitChunks(text, "sentence")
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %v", len(chunks), chunks)
	}
	for _, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Fatalf("empty chunk survived")
		}
	}
}

func TestSplitChunksParagraph(t *testing.T) {
	text := "First paragraph with enough words to stand alone as a chunk.\n\nSecond paragraph, also long enough to count as its own chunk."
	chunks := SplitChunks(text, "paragraph")
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(chunks), chunks)
	}
}

func TestSplitChunksMergesShortFragments(t *testing.T) {
	text := "Yes. Indeed. The full explanation of the phenomenon takes considerably more words than the two fragments before it."
	chunks := SplitChunks(text, "sentence")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want short fragments merged into 1: %v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], "Yes") || !strings.Contains(chunks[0], "Indeed") {
		t.Fatalf("fragments lost during merge: %q", chunks[0])
	}
}

func TestSplitChunksEmpty(t *testing.T) {
	if got := SplitChunks("   \n  ", "sentence"); got != nil {
		t.Fatalf("whitespace input should produce no chunks, got %v", got)
	}
}

func TestCountTokens(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Fatalf("empty string = %d tokens, want 0", got)
	}
	short := CountTokens("three small words")
	if short < 3 {
		t.Fatalf("token count %d below word count", short)
	}
	long := CountTokens(strings.Repeat("internationalization ", 10))
	if long <= 10 {
		t.Fatalf("long words should count more than one token each, got %d", long)
	}
}
