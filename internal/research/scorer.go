package research

import (
	"log"
	"math"

	"github.com/mohammad-safakhou/delver/config"
)

// Scorer computes composite relevance for chunks and classifies
// repetition against the run's canonical chunk records.
type Scorer struct {
	cfg    config.ResearchConfig
	logger *log.Logger
}

// NewScorer creates a scorer with the run's tuning knobs.
func NewScorer(cfg config.ResearchConfig, logger *log.Logger) *Scorer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCORER] ", log.LstdFlags)
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score blends query and context similarity with the given weights.
// The weights need not sum to 1 but must both be >= 0 and not both 0.
func (sc *Scorer) Score(chunk *Chunk, queryEmb, contextEmb []float32, weightQuery, weightContext float64) (float64, error) {
	if weightQuery < 0 || weightContext < 0 || (weightQuery == 0 && weightContext == 0) {
		return 0, ErrInvalidWeights{QueryWeight: weightQuery, ContextWeight: weightContext}
	}
	qs := Cosine(chunk.Embedding, queryEmb)
	chunk.QueryRelevance = qs
	cs := 0.0
	if len(contextEmb) > 0 {
		cs = Cosine(chunk.Embedding, contextEmb)
		chunk.ContextRelevance = cs
	}
	total := weightQuery + weightContext
	return (qs*weightQuery + cs*weightContext) / total, nil
}

// ClassifyRepetition decides whether a chunk is novel, a near
// duplicate or an exact duplicate of previously seen content. Near
// duplicates are matched by embedding similarity against canonical
// chunks from other sources; the matched canonical record's SeenCount
// is incremented as a side effect.
func (sc *Scorer) ClassifyRepetition(state *State, chunk *Chunk, contentHash string) Repetition {
	if canon, ok := state.Canonical(contentHash); ok {
		if canon != chunk {
			canon.SeenCount++
			chunk.SeenCount = canon.SeenCount
		}
		return ExactDuplicate
	}
	threshold := sc.cfg.SimilarityThreshold
	if len(chunk.Embedding) > 0 {
		for _, canon := range state.CanonicalChunks() {
			if canon.Source == chunk.Source {
				continue
			}
			if Cosine(chunk.Embedding, canon.Embedding) >= threshold {
				canon.SeenCount++
				chunk.SeenCount = canon.SeenCount
				return NearDuplicate
			}
		}
	}
	state.RecordCanonical(contentHash, chunk)
	return Novel
}

// Weight applies the geometric repetition decay: base * decay^seen.
// Repeats are kept but progressively discounted until they fall below
// the floor, at which point Keep reports false and the chunk is dropped.
func (sc *Scorer) Weight(base float64, seenCount int) float64 {
	return base * math.Pow(sc.cfg.RepeatDecay, float64(seenCount))
}

// Keep reports whether a decayed weight is still above the floor.
func (sc *Scorer) Keep(weight float64) bool {
	return weight >= sc.cfg.WeightFloor
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// empty vectors score zero rather than erroring; a missing embedding is
// a skip condition, not a failure.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MeanVector averages a set of equal-length vectors.
func MeanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vecs {
		if len(v) != dim {
			continue
		}
		for i := range v {
			sum[i] += float64(v[i])
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}

// Normalize scales a vector to unit length. Near-zero vectors return nil.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// SubVectors computes a-b elementwise.
func SubVectors(a, b []float32) []float32 {
	if len(a) != len(b) {
		return nil
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
