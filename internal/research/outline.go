package research

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/utils"
)

// ScoredChunk carries a chunk through a cycle with its decayed
// contribution weight and repetition class.
type ScoredChunk struct {
	Chunk      *Chunk
	Weight     float64
	Repetition Repetition
}

// OutlineManager owns the topic lifecycle. All outline mutation goes
// through it; the controller never touches topic status directly.
type OutlineManager struct {
	cfg    config.ResearchConfig
	llm    CompletionProvider
	embed  EmbeddingProvider
	logger *log.Logger
}

// NewOutlineManager creates an outline manager.
func NewOutlineManager(cfg config.ResearchConfig, llm CompletionProvider, embed EmbeddingProvider, logger *log.Logger) *OutlineManager {
	if logger == nil {
		logger = log.New(log.Writer(), "[OUTLINE] ", log.LstdFlags)
	}
	return &OutlineManager{cfg: cfg, llm: llm, embed: embed, logger: logger}
}

// Seed populates the outline from a drafted outline document. Topics
// and their subtopics become a flat topic list; duplicates merge on
// create.
func (m *OutlineManager) Seed(ctx context.Context, state *State, items []OutlineItem) error {
	var titles []string
	for _, item := range items {
		titles = append(titles, item.Topic)
		titles = append(titles, item.Subtopics...)
	}
	embeddings := m.embedTitles(ctx, titles)
	i := 0
	for _, item := range items {
		m.addTopic(state, item.Topic, "", embeddings[i])
		i++
		for _, sub := range item.Subtopics {
			m.addTopic(state, sub, "under "+item.Topic, embeddings[i])
			i++
		}
	}
	if len(state.Outline) == 0 {
		return fmt.Errorf("outline seeding produced no topics")
	}
	return nil
}

// embedTitles embeds a batch of titles, returning a nil vector per
// title on provider failure (embedding loss degrades merge checks to
// normalized-title equality, it never fails seeding).
func (m *OutlineManager) embedTitles(ctx context.Context, titles []string) [][]float32 {
	out := make([][]float32, len(titles))
	if len(titles) == 0 {
		return out
	}
	vecs, err := m.embed.CreateEmbedding(ctx, titles)
	if err != nil || len(vecs) != len(titles) {
		m.logger.Printf("title embedding failed (%v); merge checks fall back to exact titles", err)
		return out
	}
	copy(out, vecs)
	return out
}

// addTopic inserts a topic unless an active topic already covers it
// (identical normalized title, or embedding similarity inside the
// merge band). Returns the canonical topic and whether it was created.
func (m *OutlineManager) addTopic(state *State, title, description string, embedding []float32) (*Topic, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, false
	}
	norm := NormalizeTitle(title)
	for _, t := range state.Outline {
		if t.Status == TopicIrrelevant {
			continue
		}
		if NormalizeTitle(t.Title) == norm {
			return t, false
		}
		if len(embedding) > 0 && len(t.embedding) > 0 && Cosine(embedding, t.embedding) >= m.cfg.MergeSimilarity {
			return t, false
		}
	}
	t := &Topic{
		ID:             uuid.NewString(),
		Title:          title,
		Description:    description,
		Status:         TopicPending,
		DiscoveryCycle: state.Cycle,
		Priority:       1.0,
		embedding:      embedding,
	}
	state.Outline = append(state.Outline, t)
	return t, true
}

// IngestCycleResults attributes scored chunks to topics and advances
// topic lifecycles: enough distinct supporting sources completes a
// topic; sustained silence with a decayed priority retires it.
func (m *OutlineManager) IngestCycleResults(state *State, scored []ScoredChunk) OutlineDelta {
	var delta OutlineDelta
	gained := make(map[string]bool)

	for _, sc := range scored {
		best, sim := m.bestTopic(state, sc.Chunk)
		if best == nil || sim < m.cfg.TopicRelevance {
			continue
		}
		if best.Status.Terminal() {
			continue
		}
		if !containsRef(best.Evidence, sc.Chunk.Source) {
			best.Evidence = append(best.Evidence, sc.Chunk.Source)
		}
		if best.Status == TopicPending {
			best.Status = TopicInProgress
		}
		gained[best.ID] = true
	}

	for _, t := range state.Outline {
		if t.Status.Terminal() {
			continue
		}
		if gained[t.ID] {
			t.quietCycles = 0
		} else {
			t.quietCycles++
		}
		m.refreshPriority(state, t)

		if len(t.Evidence) >= m.cfg.CompletionEvidence {
			t.Status = TopicCompleted
			delta.Completed = append(delta.Completed, t.Title)
			continue
		}
		if t.quietCycles >= m.cfg.IrrelevantAfter && t.Priority < m.cfg.PriorityFloor {
			t.Status = TopicIrrelevant
			delta.Irrelevant = append(delta.Irrelevant, t.Title)
		}
	}
	return delta
}

// bestTopic returns the most similar topic for a chunk and the score.
func (m *OutlineManager) bestTopic(state *State, c *Chunk) (*Topic, float64) {
	var best *Topic
	bestSim := -1.0
	for _, t := range state.Outline {
		if len(t.embedding) == 0 {
			continue
		}
		if sim := Cosine(c.Embedding, t.embedding); sim > bestSim {
			best, bestSim = t, sim
		}
	}
	return best, bestSim
}

// refreshPriority recomputes the composite ranking signal: discovery
// recency, evidence gap and alignment with the preference vector, each
// in [0,1], averaged, then decayed geometrically for every consecutive
// cycle the topic gained nothing. Without the quiet decay a topic with
// zero evidence could never fall below the retirement floor.
func (m *OutlineManager) refreshPriority(state *State, t *Topic) {
	age := state.Cycle - t.DiscoveryCycle
	if age < 0 {
		age = 0
	}
	recency := 1.0 / float64(1+age)

	gap := 1.0
	if m.cfg.CompletionEvidence > 0 {
		gap = 1.0 - float64(len(t.Evidence))/float64(m.cfg.CompletionEvidence)
		if gap < 0 {
			gap = 0
		}
	}

	align := 0.5
	if len(state.Preference) > 0 && len(t.embedding) > 0 {
		align = (Cosine(t.embedding, state.Preference) + 1) / 2
	}

	t.Priority = (recency + gap + align) / 3 * math.Pow(m.cfg.RepeatDecay, float64(t.quietCycles))
}

// DiscoverTopics seeds new outline entries from chunks that are
// relevant to the overall context yet belong to no existing topic.
// Naming goes through one LLM call per candidate; a failed call skips
// that candidate, never the cycle.
func (m *OutlineManager) DiscoverTopics(ctx context.Context, state *State, scored []ScoredChunk) []string {
	var discovered []string
	for _, sc := range scored {
		if sc.Repetition != Novel {
			continue
		}
		if sc.Chunk.ContextRelevance < m.cfg.TopicRelevance {
			continue
		}
		_, sim := m.bestTopic(state, sc.Chunk)
		if sim >= m.cfg.BelongsThreshold {
			continue
		}
		title, desc, err := m.nameTopic(ctx, state.UserQuery, sc.Chunk.Text)
		if err != nil {
			m.logger.Printf("topic naming skipped: %v", err)
			continue
		}
		vec := m.embedTitles(ctx, []string{title})[0]
		if t, created := m.addTopic(state, title, desc, vec); created {
			discovered = append(discovered, t.Title)
		}
	}
	return discovered
}

func (m *OutlineManager) nameTopic(ctx context.Context, userQuery, excerpt string) (string, string, error) {
	system := `You name research sub-topics. Given a research query and a text excerpt that does not fit any current topic, produce a short sub-topic title covering the excerpt.
Respond ONLY with JSON: {"title": "...", "description": "..."}`
	user := fmt.Sprintf("Research query: %q\n\nExcerpt:\n%s", userQuery, utils.Truncate(excerpt, 1200))
	resp, err := m.llm.Complete(ctx, system, user)
	if err != nil {
		return "", "", err
	}
	return ParseTopicTitle(resp)
}

func containsRef(refs []SourceRef, ref SourceRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
