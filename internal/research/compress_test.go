package research

import (
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/delver/config"
)

// textOfTokens builds prose that CountTokens measures as exactly n.
func textOfTokens(n int) string {
	return strings.TrimSpace(strings.Repeat("aaa ", n))
}

func testCompressor(tokenBudget int) *Compressor {
	return NewCompressor(testResearchConfig(), config.CompressionConfig{
		TargetRatio: 0.3,
		TokenBudget: tokenBudget,
	}, nil)
}

func TestCompressRejectsInvalidRatio(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	for _, ratio := range []float64{0, -0.5, 1.2} {
		_, err := c.Compress(state, ratio)
		var invalid InvalidRatioError
		if !errors.As(err, &invalid) {
			t.Fatalf("ratio %v: got %v, want InvalidRatioError", ratio, err)
		}
		if invalid.Ratio != ratio {
			t.Fatalf("error carries ratio %v, want %v", invalid.Ratio, ratio)
		}
	}
	if _, err := c.Compress(state, 1.0); err != nil {
		t.Fatalf("ratio 1.0 is valid: %v", err)
	}
}

func TestCompressRespectsBudget(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{{ID: "a", Title: "A", Status: TopicInProgress, embedding: []float32{1, 0}}}

	// Ten chunks of ten tokens each, relevance strictly decreasing.
	var chunks []*Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, &Chunk{
			Text:           textOfTokens(10),
			Embedding:      []float32{1, 0},
			QueryRelevance: 1.0 - float64(i)*0.05,
		})
	}
	state.AppendResult(SearchResult{SourceURL: "https://a.example.com", Chunks: chunks})

	corpus, err := c.Compress(state, 0.4)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if corpus.Tokens != 40 {
		t.Fatalf("corpus tokens = %d, want 40 (100 tokens at ratio 0.4)", corpus.Tokens)
	}
	if len(corpus.Sections) != 1 || len(corpus.Sections[0].Chunks) != 4 {
		t.Fatalf("unexpected section shape: %+v", corpus.Sections)
	}
	// Highest relevance survives.
	if corpus.Sections[0].Chunks[0] != chunks[0] {
		t.Fatalf("top chunk not selected first")
	}
}

func TestCompressAbsoluteTokenCap(t *testing.T) {
	c := testCompressor(25)
	state := NewState("run", "query")
	state.Outline = []*Topic{{ID: "a", Title: "A", Status: TopicInProgress, embedding: []float32{1, 0}}}

	var chunks []*Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, &Chunk{Text: textOfTokens(10), Embedding: []float32{1, 0}, QueryRelevance: 0.9})
	}
	state.AppendResult(SearchResult{SourceURL: "https://a.example.com", Chunks: chunks})

	corpus, err := c.Compress(state, 0.4)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if corpus.Tokens != 20 {
		t.Fatalf("corpus tokens = %d, want 20 under the 25-token cap", corpus.Tokens)
	}
}

func TestCompressSectionsFollowOutlineOrder(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{
		{ID: "a", Title: "First", Status: TopicInProgress, embedding: []float32{1, 0}},
		{ID: "b", Title: "Second", Status: TopicInProgress, embedding: []float32{0, 1}},
	}
	state.AppendResult(SearchResult{SourceURL: "https://x.example.com", Chunks: []*Chunk{
		// Second topic's chunk scores higher, but sections still come
		// out in outline order.
		{Text: textOfTokens(10), Embedding: []float32{0, 1}, QueryRelevance: 0.9},
		{Text: textOfTokens(10), Embedding: []float32{1, 0}, QueryRelevance: 0.2},
	}})

	corpus, err := c.Compress(state, 1.0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(corpus.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(corpus.Sections))
	}
	if corpus.Sections[0].TopicTitle != "First" || corpus.Sections[1].TopicTitle != "Second" {
		t.Fatalf("sections out of outline order: %q then %q", corpus.Sections[0].TopicTitle, corpus.Sections[1].TopicTitle)
	}
}

func TestCompressCompletedTopicAlwaysRepresented(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{
		{ID: "a", Title: "Hungry", Status: TopicInProgress, embedding: []float32{1, 0}},
		{ID: "b", Title: "Finished", Status: TopicCompleted, embedding: []float32{0, 1}},
	}
	state.AppendResult(SearchResult{SourceURL: "https://x.example.com", Chunks: []*Chunk{
		{Text: textOfTokens(20), Embedding: []float32{1, 0}, QueryRelevance: 1.0},
		{Text: textOfTokens(20), Embedding: []float32{1, 0}, QueryRelevance: 0.9},
		{Text: textOfTokens(10), Embedding: []float32{0, 1}, QueryRelevance: 1.0},
	}})

	// Budget 40 of 50: the hungry topic would happily take all of it,
	// but the completed topic keeps its reserved slot.
	corpus, err := c.Compress(state, 0.8)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if corpus.Tokens > 40 {
		t.Fatalf("corpus tokens = %d, exceeds the 40-token budget", corpus.Tokens)
	}
	if len(corpus.Sections) != 2 {
		t.Fatalf("completed topic dropped from corpus: %+v", corpus.Sections)
	}
	last := corpus.Sections[len(corpus.Sections)-1]
	if last.TopicTitle != "Finished" || len(last.Chunks) != 1 {
		t.Fatalf("completed topic must keep at least one chunk: %+v", last)
	}
}

func TestCompressNeverExceedsBudget(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{
		{ID: "a", Title: "Active", Status: TopicInProgress, embedding: []float32{1, 0}},
		{ID: "b", Title: "Finished", Status: TopicCompleted, embedding: []float32{0, 1}},
	}
	// 100 tokens total against a 40-token budget; the completed topic's
	// only chunk is itself bigger than the whole budget.
	state.AppendResult(SearchResult{SourceURL: "https://x.example.com", Chunks: []*Chunk{
		{Text: textOfTokens(40), Embedding: []float32{1, 0}, QueryRelevance: 1.0},
		{Text: textOfTokens(60), Embedding: []float32{0, 1}, QueryRelevance: 1.0},
	}})

	corpus, err := c.Compress(state, 0.4)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if corpus.Tokens > 40 {
		t.Fatalf("corpus tokens = %d, exceeds the 40-token budget", corpus.Tokens)
	}
	var finished *CorpusSection
	for i := range corpus.Sections {
		if corpus.Sections[i].TopicTitle == "Finished" {
			finished = &corpus.Sections[i]
		}
	}
	if finished == nil || len(finished.Chunks) != 1 {
		t.Fatalf("completed topic must survive as a truncated chunk: %+v", corpus.Sections)
	}
	if got := CountTokens(finished.Texts[0]); got == 0 || got > 40 {
		t.Fatalf("truncated chunk is %d tokens, want within (0, 40]", got)
	}
}

func TestCompressAllocatesPerTopicBudgets(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{
		{ID: "a", Title: "Heavy", Status: TopicInProgress, embedding: []float32{1, 0}},
		{ID: "b", Title: "Light", Status: TopicInProgress, embedding: []float32{0, 1}},
	}
	var chunks []*Chunk
	for i := 0; i < 8; i++ {
		chunks = append(chunks, &Chunk{Text: textOfTokens(10), Embedding: []float32{1, 0}, QueryRelevance: 0.9})
	}
	for i := 0; i < 4; i++ {
		chunks = append(chunks, &Chunk{Text: textOfTokens(5), Embedding: []float32{0, 1}, QueryRelevance: 0.9})
	}
	state.AppendResult(SearchResult{SourceURL: "https://x.example.com", Chunks: chunks})

	// 100 tokens at ratio 0.4: the heavy topic gets 32, the light one 8.
	corpus, err := c.Compress(state, 0.4)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if corpus.Tokens > 40 {
		t.Fatalf("corpus tokens = %d, exceeds the 40-token budget", corpus.Tokens)
	}
	if len(corpus.Sections) != 2 {
		t.Fatalf("lighter topic starved out of the corpus: %+v", corpus.Sections)
	}
	if n := len(corpus.Sections[0].Chunks); n != 3 {
		t.Fatalf("heavy topic kept %d chunks, want 3 within its 32-token share", n)
	}
	if n := len(corpus.Sections[1].Chunks); n == 0 {
		t.Fatalf("light topic must keep its share of the budget")
	}
}

func TestCompressTieBreaksOnFetchCycle(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{{ID: "a", Title: "A", Status: TopicInProgress, embedding: []float32{1, 0}}}

	late := &Chunk{Text: textOfTokens(10), Embedding: []float32{1, 0}, QueryRelevance: 0.8}
	early := &Chunk{Text: textOfTokens(10), Embedding: []float32{1, 0}, QueryRelevance: 0.8}
	state.AppendResult(SearchResult{SourceURL: "https://late.example.com", FetchCycle: 5, Chunks: []*Chunk{late}})
	state.AppendResult(SearchResult{SourceURL: "https://early.example.com", FetchCycle: 1, Chunks: []*Chunk{early}})

	corpus, err := c.Compress(state, 1.0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if corpus.Sections[0].Chunks[0] != early {
		t.Fatalf("equal scores should prefer the earlier fetch cycle")
	}
}

func TestCompressSkipsIrrelevantTopics(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{
		{ID: "a", Title: "Kept", Status: TopicInProgress, embedding: []float32{1, 0}},
		{ID: "b", Title: "Retired", Status: TopicIrrelevant, embedding: []float32{0, 1}},
	}
	state.AppendResult(SearchResult{SourceURL: "https://x.example.com", Chunks: []*Chunk{
		// Belongs squarely to the retired topic; with that topic out of
		// the running it matches nothing well enough to keep.
		{Text: textOfTokens(10), Embedding: []float32{0, 1}, QueryRelevance: 0.9},
	}})

	corpus, err := c.Compress(state, 1.0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(corpus.Sections) != 0 {
		t.Fatalf("retired topic material should not be compressed in: %+v", corpus.Sections)
	}
}

func TestCompressRepetitionDecayDemotesChunks(t *testing.T) {
	c := testCompressor(0)
	state := NewState("run", "query")
	state.Outline = []*Topic{{ID: "a", Title: "A", Status: TopicInProgress, embedding: []float32{1, 0}}}

	fresh := &Chunk{Text: textOfTokens(10), Embedding: []float32{1, 0}, QueryRelevance: 0.6}
	stale := &Chunk{Text: textOfTokens(10), Embedding: []float32{1, 0}, QueryRelevance: 0.9, SeenCount: 3}
	state.AppendResult(SearchResult{SourceURL: "https://x.example.com", Chunks: []*Chunk{stale, fresh}})

	// 0.9 * 0.7^3 = 0.309 loses to 0.6 despite the higher raw relevance.
	corpus, err := c.Compress(state, 1.0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if corpus.Sections[0].Chunks[0] != fresh {
		t.Fatalf("repeatedly seen chunk should rank below fresh material")
	}
}
