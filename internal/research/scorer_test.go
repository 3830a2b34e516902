package research

import (
	"errors"
	"math"
	"testing"

	"github.com/mohammad-safakhou/delver/config"
)

func testResearchConfig() config.ResearchConfig {
	return config.ResearchConfig{
		MaxCycles:           10,
		MinCycles:           3,
		QueriesPerCycle:     3,
		SimilarityThreshold: 0.60,
		RepeatDecay:         0.7,
		WeightFloor:         0.05,
		QueryWeight:         0.5,
		ContextWeight:       0.5,
		TopicRelevance:      0.55,
		BelongsThreshold:    0.45,
		MergeSimilarity:     0.85,
		CompletionEvidence:  3,
		IrrelevantAfter:     3,
		PriorityFloor:       0.2,
		EmptyCycleLimit:     3,
		ChunkLevel:          "sentence",
	}
}

func TestWeightDecayLaw(t *testing.T) {
	sc := NewScorer(testResearchConfig(), nil)
	base := 0.9
	prev := math.Inf(1)
	for n := 0; n <= 5; n++ {
		w := sc.Weight(base, n)
		want := base * math.Pow(0.7, float64(n))
		if math.Abs(w-want) > 1e-12 {
			t.Fatalf("Weight(%v, %d) = %v, want %v", base, n, w, want)
		}
		if w >= prev {
			t.Fatalf("weight not strictly decreasing at n=%d: %v >= %v", n, w, prev)
		}
		prev = w
	}
}

func TestWeightFloor(t *testing.T) {
	sc := NewScorer(testResearchConfig(), nil)
	if !sc.Keep(0.05) {
		t.Fatalf("weight exactly at floor should be kept")
	}
	if sc.Keep(0.049) {
		t.Fatalf("weight below floor should be dropped")
	}
	// 0.9 * 0.7^8 ~ 0.0519, 0.9 * 0.7^9 ~ 0.0363
	if !sc.Keep(sc.Weight(0.9, 8)) {
		t.Fatalf("eighth repeat of a strong chunk should still clear the floor")
	}
	if sc.Keep(sc.Weight(0.9, 9)) {
		t.Fatalf("ninth repeat should fall below the floor")
	}
}

func TestScoreBlendsWeights(t *testing.T) {
	sc := NewScorer(testResearchConfig(), nil)
	chunk := &Chunk{Embedding: []float32{1, 0}}
	query := []float32{1, 0}
	context := []float32{0, 1}

	got, err := sc.Score(chunk, query, context, 0.5, 0.5)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("equal-weight blend of sims 1 and 0 should be 0.5, got %v", got)
	}
	if chunk.QueryRelevance != 1 {
		t.Fatalf("QueryRelevance = %v, want 1", chunk.QueryRelevance)
	}
	if chunk.ContextRelevance != 0 {
		t.Fatalf("ContextRelevance = %v, want 0", chunk.ContextRelevance)
	}

	got, err = sc.Score(chunk, query, context, 1, 0)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("query-only blend should be 1, got %v", got)
	}
}

func TestScoreRejectsInvalidWeights(t *testing.T) {
	sc := NewScorer(testResearchConfig(), nil)
	chunk := &Chunk{Embedding: []float32{1, 0}}

	cases := []struct{ wq, wc float64 }{
		{0, 0},
		{-0.1, 0.5},
		{0.5, -0.1},
	}
	for _, c := range cases {
		_, err := sc.Score(chunk, []float32{1, 0}, nil, c.wq, c.wc)
		var weightErr ErrInvalidWeights
		if !errors.As(err, &weightErr) {
			t.Fatalf("Score(wq=%v, wc=%v) error = %v, want ErrInvalidWeights", c.wq, c.wc, err)
		}
	}
}

func TestClassifyRepetition(t *testing.T) {
	sc := NewScorer(testResearchConfig(), nil)
	state := NewState("run", "query")

	first := &Chunk{Text: "solar capacity grew forty percent", Embedding: []float32{1, 0, 0}, Source: 0}
	if rep := sc.ClassifyRepetition(state, first, ContentHash(first.Text)); rep != Novel {
		t.Fatalf("first occurrence = %v, want Novel", rep)
	}

	exact := &Chunk{Text: first.Text, Embedding: []float32{1, 0, 0}, Source: 1}
	if rep := sc.ClassifyRepetition(state, exact, ContentHash(exact.Text)); rep != ExactDuplicate {
		t.Fatalf("identical text = %v, want ExactDuplicate", rep)
	}
	if first.SeenCount != 1 {
		t.Fatalf("canonical SeenCount = %d after exact repeat, want 1", first.SeenCount)
	}

	near := &Chunk{Text: "solar capacity grew about forty percent", Embedding: []float32{0.99, 0.1, 0}, Source: 1}
	if rep := sc.ClassifyRepetition(state, near, ContentHash(near.Text)); rep != NearDuplicate {
		t.Fatalf("similar text from another source = %v, want NearDuplicate", rep)
	}
	if first.SeenCount != 2 {
		t.Fatalf("canonical SeenCount = %d after near repeat, want 2", first.SeenCount)
	}

	// Similar content from the SAME source is not a cross-source repeat.
	sameSource := &Chunk{Text: "solar capacity grew roughly forty percent", Embedding: []float32{0.98, 0.15, 0}, Source: 0}
	if rep := sc.ClassifyRepetition(state, sameSource, ContentHash(sameSource.Text)); rep != Novel {
		t.Fatalf("similar text from same source = %v, want Novel", rep)
	}

	unrelated := &Chunk{Text: "wind turbines in the north sea", Embedding: []float32{0, 1, 0}, Source: 2}
	if rep := sc.ClassifyRepetition(state, unrelated, ContentHash(unrelated.Text)); rep != Novel {
		t.Fatalf("unrelated text = %v, want Novel", rep)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("Cosine of identical vectors = %v, want 1", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Fatalf("Cosine of orthogonal vectors = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Fatalf("Cosine of opposite vectors = %v, want -1", got)
	}
	if got := Cosine(nil, []float32{1}); got != 0 {
		t.Fatalf("Cosine with empty vector = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("Cosine with mismatched dims = %v, want 0", got)
	}
}

func TestVectorHelpers(t *testing.T) {
	mean := MeanVector([][]float32{{1, 0}, {0, 1}})
	if math.Abs(float64(mean[0])-0.5) > 1e-6 || math.Abs(float64(mean[1])-0.5) > 1e-6 {
		t.Fatalf("MeanVector = %v, want [0.5 0.5]", mean)
	}

	norm := Normalize([]float32{3, 4})
	if math.Abs(float64(norm[0])-0.6) > 1e-6 || math.Abs(float64(norm[1])-0.8) > 1e-6 {
		t.Fatalf("Normalize([3 4]) = %v, want [0.6 0.8]", norm)
	}
	if Normalize([]float32{0, 0}) != nil {
		t.Fatalf("Normalize of zero vector should be nil")
	}

	diff := SubVectors([]float32{1, 1}, []float32{0.5, 0.25})
	if diff[0] != 0.5 || diff[1] != 0.75 {
		t.Fatalf("SubVectors = %v, want [0.5 0.75]", diff)
	}
	if SubVectors([]float32{1}, []float32{1, 2}) != nil {
		t.Fatalf("SubVectors with mismatched dims should be nil")
	}
}
