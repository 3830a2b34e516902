package research

import (
	"log"
	"math"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/delver/config"
)

// Compressor reduces the accumulated evidence to a token-bounded corpus
// for synthesis. Chunks are grouped under their best-matching topic and
// ranked by relevance decayed by repetition, so the corpus favors fresh
// on-topic material over restated boilerplate.
type Compressor struct {
	cfg    config.ResearchConfig
	comp   config.CompressionConfig
	logger *log.Logger
}

// NewCompressor creates a compressor.
func NewCompressor(cfg config.ResearchConfig, comp config.CompressionConfig, logger *log.Logger) *Compressor {
	if logger == nil {
		logger = log.New(log.Writer(), "[COMPRESS] ", log.LstdFlags)
	}
	return &Compressor{cfg: cfg, comp: comp, logger: logger}
}

// rankedChunk is a chunk with its selection score, size and fetch cycle.
type rankedChunk struct {
	chunk  *Chunk
	score  float64
	cycle  int
	tokens int
}

// Compress selects chunks per topic until the compressed corpus fits
// targetRatio of the full corpus and the absolute token budget. The
// budget is split across topics in proportion to their candidate mass,
// so a chunk-heavy topic cannot starve the ones behind it, and every
// completed topic is floored at one chunk, truncated if that is what
// it takes to stay inside the budget. Sections come out in outline
// order, chunks within a section by score with earlier fetch cycles
// breaking ties. The corpus never exceeds the budget.
func (c *Compressor) Compress(state *State, targetRatio float64) (CompressedCorpus, error) {
	if targetRatio <= 0 || targetRatio > 1 {
		return CompressedCorpus{}, InvalidRatioError{Ratio: targetRatio}
	}

	byTopic := make(map[string][]rankedChunk)
	totalTokens := 0
	for _, r := range state.Results {
		for _, ch := range r.Chunks {
			tokens := CountTokens(ch.Text)
			totalTokens += tokens
			t := c.bestTopicFor(state, ch)
			if t == nil {
				continue
			}
			weight := ch.QueryRelevance * math.Pow(c.cfg.RepeatDecay, float64(ch.SeenCount))
			byTopic[t.ID] = append(byTopic[t.ID], rankedChunk{chunk: ch, score: weight, cycle: r.FetchCycle, tokens: tokens})
		}
	}

	budget := int(float64(totalTokens) * targetRatio)
	if c.comp.TokenBudget > 0 && budget > c.comp.TokenBudget {
		budget = c.comp.TokenBudget
	}

	candidateTotal := 0
	for id, ranked := range byTopic {
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].cycle < ranked[j].cycle
		})
		byTopic[id] = ranked
		for _, rc := range ranked {
			candidateTotal += rc.tokens
		}
	}
	if candidateTotal == 0 || budget <= 0 {
		c.logger.Printf("nothing to compress (candidates %d, budget %d)", candidateTotal, budget)
		return CompressedCorpus{}, nil
	}

	shares := c.topicShares(state, byTopic, candidateTotal, budget)

	var corpus CompressedCorpus
	for _, t := range state.Outline {
		if t.Status == TopicIrrelevant {
			continue
		}
		ranked := byTopic[t.ID]
		if len(ranked) == 0 {
			continue
		}
		topicBudget := shares[t.ID]
		section := CorpusSection{TopicID: t.ID, TopicTitle: t.Title}
		for _, rc := range ranked {
			if rc.tokens > topicBudget {
				// A completed topic must not go dark; keep a truncated
				// head of its top chunk inside the allowance.
				if t.Status == TopicCompleted && len(section.Chunks) == 0 && topicBudget > 0 {
					head := truncateTokens(rc.chunk.Text, topicBudget)
					section.Chunks = append(section.Chunks, rc.chunk)
					section.Texts = append(section.Texts, head)
					section.Tokens += CountTokens(head)
				}
				break
			}
			section.Chunks = append(section.Chunks, rc.chunk)
			section.Texts = append(section.Texts, rc.chunk.Text)
			section.Tokens += rc.tokens
			topicBudget -= rc.tokens
		}
		if len(section.Chunks) > 0 {
			corpus.Sections = append(corpus.Sections, section)
			corpus.Tokens += section.Tokens
		}
	}

	c.logger.Printf("compressed %d tokens to %d (budget %d, ratio %.2f)", totalTokens, corpus.Tokens, budget, targetRatio)
	return corpus, nil
}

// topicShares splits the token budget across topics in proportion to
// their candidate token mass. Completed topics reserve room for their
// top chunk first so a heavier neighbour earlier in the outline can
// never push them out entirely. Shares always sum to at most budget.
func (c *Compressor) topicShares(state *State, byTopic map[string][]rankedChunk, candidateTotal, budget int) map[string]int {
	shares := make(map[string]int, len(byTopic))
	remaining := budget
	for _, t := range state.Outline {
		ranked := byTopic[t.ID]
		if t.Status != TopicCompleted || len(ranked) == 0 {
			continue
		}
		floor := ranked[0].tokens
		if floor > remaining {
			floor = remaining
		}
		shares[t.ID] = floor
		remaining -= floor
	}
	for _, t := range state.Outline {
		ranked := byTopic[t.ID]
		if t.Status == TopicIrrelevant || len(ranked) == 0 {
			continue
		}
		mass := 0
		for _, rc := range ranked {
			mass += rc.tokens
		}
		shares[t.ID] += remaining * mass / candidateTotal
	}
	return shares
}

// bestTopicFor attributes a chunk to its most similar non-irrelevant
// topic above the relevance threshold.
func (c *Compressor) bestTopicFor(state *State, ch *Chunk) *Topic {
	var best *Topic
	bestSim := -1.0
	for _, t := range state.Outline {
		if t.Status == TopicIrrelevant || len(t.embedding) == 0 {
			continue
		}
		if sim := Cosine(ch.Embedding, t.embedding); sim > bestSim {
			best, bestSim = t, sim
		}
	}
	if best == nil || bestSim < c.cfg.TopicRelevance {
		return nil
	}
	return best
}

// truncateTokens cuts text down to an allowance of n under CountTokens.
func truncateTokens(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	out := strings.Join(words, " ")
	for CountTokens(out) > n && len(words) > 1 {
		words = words[:len(words)-1]
		out = strings.Join(words, " ")
	}
	if CountTokens(out) > n {
		out = string([]rune(out)[:4*n])
	}
	return out
}
