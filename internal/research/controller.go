package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/telemetry"
	"github.com/mohammad-safakhou/delver/utils"
)

// Deps are the collaborators a controller needs. LLM, Embeddings,
// Search and Extractor are required; SynthesisLLM falls back to LLM,
// a nil Feedback disables the interactive phase and a nil Telemetry
// disables instrumentation.
type Deps struct {
	LLM          CompletionProvider
	SynthesisLLM CompletionProvider
	Embeddings   EmbeddingProvider
	Search       SearchProvider
	Extractor    Extractor
	Feedback     FeedbackSource
	Telemetry    *telemetry.Telemetry
	Logger       *log.Logger
}

// Controller drives one research run through the phase machine:
// seeding, optional outline feedback, bounded research cycles,
// compression and synthesis. All state mutation happens on the
// controller goroutine; workers only fetch.
type Controller struct {
	cfg      config.ResearchConfig
	comp     config.CompressionConfig
	perQuery int

	llm      CompletionProvider
	embed    EmbeddingProvider
	search   SearchProvider
	extract  Extractor
	feedback FeedbackSource

	scorer     *Scorer
	outline    *OutlineManager
	queries    *QueryGenerator
	compressor *Compressor
	synth      *Synthesizer

	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewController wires a controller from config and collaborators.
func NewController(cfg *config.Config, deps Deps) (*Controller, error) {
	if deps.LLM == nil || deps.Embeddings == nil || deps.Search == nil || deps.Extractor == nil {
		return nil, errors.New("controller requires llm, embeddings, search and extractor")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	synthLLM := deps.SynthesisLLM
	if synthLLM == nil {
		synthLLM = deps.LLM
	}
	perQuery := cfg.Search.ResultsPerQuery
	if perQuery < 1 {
		perQuery = 3
	}
	return &Controller{
		cfg:        cfg.Research,
		comp:       cfg.Compression,
		perQuery:   perQuery,
		llm:        deps.LLM,
		embed:      deps.Embeddings,
		search:     deps.Search,
		extract:    deps.Extractor,
		feedback:   deps.Feedback,
		scorer:     NewScorer(cfg.Research, logger),
		outline:    NewOutlineManager(cfg.Research, deps.LLM, deps.Embeddings, logger),
		queries:    NewQueryGenerator(cfg.Research, deps.LLM, logger),
		compressor: NewCompressor(cfg.Research, cfg.Compression, logger),
		synth:      NewSynthesizer(synthLLM, logger),
		telemetry:  deps.Telemetry,
		logger:     logger,
	}, nil
}

// Run executes a full research run and returns the terminal snapshot.
// The context bounds the whole run; cancellation surfaces as an error
// with whatever phase the run was in.
func (c *Controller) Run(ctx context.Context, runID, userQuery string) (Snapshot, error) {
	userQuery = strings.TrimSpace(userQuery)
	if userQuery == "" {
		return Snapshot{}, errors.New("empty research query")
	}
	state := NewState(runID, userQuery)
	c.logger.Printf("run %s started: %q", runID, userQuery)

	if err := c.seed(ctx, state); err != nil {
		return Snapshot{}, fmt.Errorf("seeding: %w", err)
	}

	if err := c.awaitFeedback(ctx, state); err != nil {
		return Snapshot{}, fmt.Errorf("feedback: %w", err)
	}

	if err := c.cycle(ctx, state); err != nil {
		return Snapshot{}, fmt.Errorf("cycling: %w", err)
	}

	state.Phase = PhaseCompressing
	corpus, err := c.compressor.Compress(state, c.comp.TargetRatio)
	if err != nil {
		return Snapshot{}, fmt.Errorf("compression: %w", err)
	}
	c.telemetry.RecordCompression(corpus.Tokens)

	report := c.synth.Report(ctx, state, corpus)
	state.Phase = PhaseTerminal
	snap := state.Snapshot(corpus, report)
	c.logger.Printf("run %s finished: %d cycles, %d sources, %d corpus tokens",
		runID, snap.Cycles, len(snap.Sources), corpus.Tokens)
	return snap, nil
}

// seed runs the opening search wave and drafts the outline from what it
// finds. The run aborts only if the outline cannot be drafted at all.
func (c *Controller) seed(ctx context.Context, state *State) error {
	if vecs, err := c.embed.CreateEmbedding(ctx, []string{state.UserQuery}); err == nil && len(vecs) == 1 {
		state.QueryEmbedding = vecs[0]
	} else if err != nil {
		c.logger.Printf("query embedding failed: %v", err)
	}

	seedQueries := c.queries.SeedQueries(ctx, state.UserQuery)
	results := c.fanOut(ctx, state, seedQueries)
	scored := c.ingestResults(ctx, state, seedQueries, results)

	items, err := c.draftOutline(ctx, state)
	if err != nil {
		return err
	}
	if err := c.outline.Seed(ctx, state, items); err != nil {
		return err
	}
	c.refreshContextEmbedding(state)

	// Seed-wave chunks count as evidence for the freshly drafted topics.
	c.outline.IngestCycleResults(state, scored)
	if err := state.CheckInvariants(c.cfg.MaxCycles); err != nil {
		return err
	}
	c.logger.Printf("outline seeded with %d topics", len(state.Outline))
	return nil
}

// draftOutline asks the model for a topic outline grounded in the seed
// wave's page titles and leading text.
func (c *Controller) draftOutline(ctx context.Context, state *State) ([]OutlineItem, error) {
	var findings []string
	for _, r := range state.Results {
		lead := utils.Truncate(r.RawContent, 400)
		findings = append(findings, fmt.Sprintf("- %s: %s", r.Title, lead))
		if len(findings) >= 12 {
			break
		}
	}
	system := `You are a research planner. Draft a structured outline of topics to investigate for the research query, grounded in the initial findings.
Respond ONLY with JSON: {"outline": [{"topic": "...", "subtopics": ["...", "..."]}]}`
	user := fmt.Sprintf("Research query: %q\n\nInitial findings:\n%s", state.UserQuery, strings.Join(findings, "\n"))
	resp, err := c.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return ParseOutline(resp)
}

// awaitFeedback runs the interactive outline review loop. Invalid index
// commands are reported and re-asked rather than killing the run; the
// phase ends on Continue or a dead feedback channel.
func (c *Controller) awaitFeedback(ctx context.Context, state *State) error {
	if c.feedback == nil || !c.cfg.Interactive {
		return nil
	}
	state.Phase = PhaseAwaitingFeedback
	for {
		fb, err := c.feedback.Ask(ctx, state.Outline)
		if err != nil {
			c.logger.Printf("feedback channel closed, continuing: %v", err)
			return nil
		}
		if _, ok := fb.(Continue); ok {
			return nil
		}
		delta, err := c.outline.ApplyFeedback(ctx, state, fb)
		if err != nil {
			var idxErr InvalidIndexError
			if errors.As(err, &idxErr) {
				c.logger.Printf("rejected feedback: %v", err)
				continue
			}
			return err
		}
		c.refreshContextEmbedding(state)
		if err := state.CheckInvariants(c.cfg.MaxCycles); err != nil {
			return err
		}
		if len(delta.Removed) > 0 || len(delta.Discovered) > 0 {
			c.logger.Printf("outline updated: removed %d, added %d", len(delta.Removed), len(delta.Discovered))
		}
	}
}

// cycle runs the bounded research loop. The cycle counter increments
// here and nowhere else.
func (c *Controller) cycle(ctx context.Context, state *State) error {
	state.Phase = PhaseCycling
	emptyCycles := 0

	for state.Cycle < c.cfg.MaxCycles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if state.Cycle >= c.cfg.MinCycles && state.AllTerminal() {
			c.logger.Printf("all topics terminal after cycle %d", state.Cycle)
			return nil
		}

		state.Cycle++
		started := time.Now()

		queries := c.queries.Generate(state)
		if len(queries) == 0 {
			c.logger.Printf("no queries producible at cycle %d", state.Cycle)
			return nil
		}
		for range queries {
			c.telemetry.RecordQuery()
		}

		results := c.fanOut(ctx, state, queries)
		scored := c.ingestResults(ctx, state, queries, results)

		delta := c.outline.IngestCycleResults(state, scored)
		discovered := c.outline.DiscoverTopics(ctx, state, scored)
		c.analyzeCycle(ctx, state, scored)
		c.refreshContextEmbedding(state)
		if err := state.CheckInvariants(c.cfg.MaxCycles); err != nil {
			return err
		}

		c.telemetry.RecordCycle(time.Since(started), len(state.ActiveTopics()))
		c.logger.Printf("cycle %d: %d queries, %d kept chunks, completed %d, retired %d, discovered %d",
			state.Cycle, len(queries), len(scored), len(delta.Completed), len(delta.Irrelevant), len(discovered))

		if len(scored) == 0 {
			emptyCycles++
			// A dead search backend must not burn the whole cycle
			// budget; this cutoff overrides the minimum-cycle floor.
			if emptyCycles >= c.cfg.EmptyCycleLimit {
				c.logger.Printf("%d consecutive empty cycles, compressing early", emptyCycles)
				return nil
			}
		} else {
			emptyCycles = 0
		}
	}
	return nil
}

// queryResults pairs one query's fetched pages with its slot so the
// join preserves query order.
type queryResults struct {
	index   int
	results []SearchResult
}

// fanOut executes the cycle's queries concurrently, one worker per
// query under the per-query timeout, and joins before returning. State
// is not touched here; workers only produce candidate results.
func (c *Controller) fanOut(ctx context.Context, state *State, queries []Query) [][]SearchResult {
	out := make([][]SearchResult, len(queries))
	ch := make(chan queryResults, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			ch <- queryResults{index: i, results: c.runQuery(ctx, state.Cycle, q)}
		}(i, q)
	}
	wg.Wait()
	close(ch)
	for qr := range ch {
		out[qr.index] = qr.results
	}
	return out
}

// runQuery searches and fetches for one query. Every failure degrades
// to fewer results; a query never fails the cycle.
func (c *Controller) runQuery(ctx context.Context, cycle int, q Query) []SearchResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PerQueryTimeout)
	defer cancel()

	hits, err := c.search.Discover(ctx, q.Text, c.perQuery)
	if err != nil {
		c.logger.Printf("search failed for %q: %v", q.Text, err)
		return nil
	}
	var out []SearchResult
	for _, h := range hits {
		title, text, err := c.extract.Extract(ctx, h.URL)
		c.telemetry.RecordFetch(err == nil && text != "")
		if err != nil || strings.TrimSpace(text) == "" {
			if err != nil {
				c.logger.Printf("fetch failed for %s: %v", h.URL, err)
			}
			// The snippet is thin but better than dropping the hit.
			if strings.TrimSpace(h.Snippet) == "" {
				continue
			}
			title, text = h.Title, h.Snippet
		}
		if title == "" {
			title = h.Title
		}
		out = append(out, SearchResult{
			QueryText:   q.Text,
			SourceURL:   h.URL,
			Title:       title,
			RawContent:  text,
			FetchCycle:  cycle,
			ContentHash: ContentHash(text),
			FetchedAt:   time.Now(),
		})
	}
	return out
}

// ingestResults is the sequential post-join phase: page-level
// deduplication, chunking, embedding, scoring and repetition decay.
// Only chunks whose decayed weight clears the floor survive.
func (c *Controller) ingestResults(ctx context.Context, state *State, queries []Query, perQuery [][]SearchResult) []ScoredChunk {
	queryEmbeds := c.embedQueries(ctx, state, queries)

	var scored []ScoredChunk
	for qi := range queries {
		for _, r := range perQuery[qi] {
			if state.SeenPage(r.ContentHash) {
				continue
			}
			texts := SplitChunks(r.RawContent, c.cfg.ChunkLevel)
			if len(texts) == 0 {
				continue
			}
			chunks := make([]*Chunk, len(texts))
			for i, txt := range texts {
				chunks[i] = &Chunk{Text: txt}
			}
			if vecs, err := c.embed.CreateEmbedding(ctx, texts); err == nil && len(vecs) == len(texts) {
				for i := range chunks {
					chunks[i].Embedding = vecs[i]
				}
			} else if err != nil {
				c.logger.Printf("chunk embedding failed for %s: %v", r.SourceURL, err)
			}

			r.Chunks = chunks
			state.AppendResult(r)
			state.MarkPage(r.ContentHash)

			for _, chunk := range chunks {
				base, err := c.scorer.Score(chunk, queryEmbeds[qi], state.OutlineEmbedding, c.cfg.QueryWeight, c.cfg.ContextWeight)
				if err != nil {
					c.logger.Printf("scoring failed: %v", err)
					continue
				}
				rep := c.scorer.ClassifyRepetition(state, chunk, ContentHash(chunk.Text))
				c.telemetry.RecordChunk(rep.String())
				weight := c.scorer.Weight(base, chunk.SeenCount)
				if !c.scorer.Keep(weight) {
					continue
				}
				scored = append(scored, ScoredChunk{Chunk: chunk, Weight: weight, Repetition: rep})
			}
		}
	}
	return scored
}

// embedQueries embeds the cycle's query texts in one batch, falling
// back to the run query embedding per slot on failure.
func (c *Controller) embedQueries(ctx context.Context, state *State, queries []Query) [][]float32 {
	out := make([][]float32, len(queries))
	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
		out[i] = state.QueryEmbedding
	}
	vecs, err := c.embed.CreateEmbedding(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		c.logger.Printf("query embedding failed: %v", err)
		return out
	}
	copy(out, vecs)
	return out
}

// analyzeCycle asks the model to read the cycle's new evidence and
// suggest topics the outline is missing. The suggestions are advisory;
// lifecycle transitions stay evidence-driven.
func (c *Controller) analyzeCycle(ctx context.Context, state *State, scored []ScoredChunk) {
	if len(scored) == 0 {
		return
	}
	var excerpts []string
	for _, sc := range scored {
		if sc.Repetition != Novel {
			continue
		}
		excerpts = append(excerpts, "- "+utils.Truncate(sc.Chunk.Text, 300))
		if len(excerpts) >= 10 {
			break
		}
	}
	if len(excerpts) == 0 {
		return
	}
	var titles []string
	for _, t := range state.Outline {
		titles = append(titles, fmt.Sprintf("%s (%s)", t.Title, t.Status))
	}
	system := `You review one cycle of research findings against the current outline.
Respond ONLY with JSON: {"completed_topics": [], "partial_topics": [], "irrelevant_topics": [], "new_topics": ["..."], "analysis": "..."}`
	user := fmt.Sprintf("Research query: %q\nOutline:\n%s\n\nNew findings:\n%s",
		state.UserQuery, strings.Join(titles, "\n"), strings.Join(excerpts, "\n"))
	resp, err := c.llm.Complete(ctx, system, user)
	if err != nil {
		c.logger.Printf("cycle analysis skipped: %v", err)
		return
	}
	analysis, err := ParseCycleAnalysis(resp)
	if err != nil {
		c.logger.Printf("cycle analysis unparseable: %v", err)
		return
	}
	if analysis.Analysis != "" {
		c.logger.Printf("cycle %d analysis: %s", state.Cycle, analysis.Analysis)
	}
	for _, title := range analysis.New {
		vec := c.outline.embedTitles(ctx, []string{title})[0]
		c.outline.addTopic(state, title, "", vec)
	}
}

// refreshContextEmbedding recomputes the outline context vector as the
// normalized mean of active topic embeddings, blended with the query
// embedding so context relevance never detaches from the user's intent.
func (c *Controller) refreshContextEmbedding(state *State) {
	var vecs [][]float32
	if len(state.QueryEmbedding) > 0 {
		vecs = append(vecs, state.QueryEmbedding)
	}
	for _, t := range state.ActiveTopics() {
		if len(t.embedding) > 0 {
			vecs = append(vecs, t.embedding)
		}
	}
	if mean := Normalize(MeanVector(vecs)); mean != nil {
		state.OutlineEmbedding = mean
	}
}
