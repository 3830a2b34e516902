package research

import (
	"context"
	"testing"
)

func TestGenerateRanksByPriority(t *testing.T) {
	cfg := testResearchConfig()
	cfg.QueriesPerCycle = 2
	g := NewQueryGenerator(cfg, failingLLM{}, nil)
	state := NewState("run", "solar growth")
	state.Outline = []*Topic{
		{ID: "low", Title: "Low", Status: TopicPending, Priority: 0.2},
		{ID: "high", Title: "High", Status: TopicPending, Priority: 0.9},
		{ID: "mid", Title: "Mid", Status: TopicInProgress, Priority: 0.5},
		{ID: "done", Title: "Done", Status: TopicCompleted, Priority: 1.0},
	}

	queries := g.Generate(state)
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(queries))
	}
	if queries[0].TopicID != "high" || queries[1].TopicID != "mid" {
		t.Fatalf("ranking wrong: %+v", queries)
	}
	for _, q := range queries {
		if q.Text == "" {
			t.Fatalf("empty query text")
		}
	}
}

func TestGenerateNeverRepeatsQueryPerTopic(t *testing.T) {
	cfg := testResearchConfig()
	cfg.QueriesPerCycle = 1
	g := NewQueryGenerator(cfg, failingLLM{}, nil)
	state := NewState("run", "solar growth")
	state.Outline = []*Topic{{ID: "t", Title: "Grid storage", Status: TopicPending, Priority: 1}}

	seen := map[string]bool{}
	for cycle := 0; cycle < len(gapHints); cycle++ {
		queries := g.Generate(state)
		if len(queries) != 1 {
			t.Fatalf("cycle %d: got %d queries, want 1", cycle, len(queries))
		}
		if seen[queries[0].Text] {
			t.Fatalf("cycle %d reissued query %q", cycle, queries[0].Text)
		}
		seen[queries[0].Text] = true
	}

	// Every hint variant consumed: the topic goes quiet rather than
	// repeating itself.
	if queries := g.Generate(state); len(queries) != 0 {
		t.Fatalf("exhausted topic still produced %v", queries)
	}
}

func TestGenerateFallbackBelowMinCycles(t *testing.T) {
	cfg := testResearchConfig()
	g := NewQueryGenerator(cfg, failingLLM{}, nil)
	state := NewState("run", "solar growth")
	state.Cycle = 1
	state.Outline = []*Topic{{ID: "a", Title: "A", Status: TopicCompleted}}

	queries := g.Generate(state)
	if len(queries) == 0 {
		t.Fatalf("terminal outline below the cycle floor must still produce queries")
	}
	for _, q := range queries {
		if q.TopicID != "" {
			t.Fatalf("fallback query bound to a topic: %+v", q)
		}
	}

	// At or past the floor the generator may stop.
	state.Cycle = cfg.MinCycles
	if queries := g.Generate(state); len(queries) != 0 {
		t.Fatalf("terminal outline at the floor should produce no queries, got %v", queries)
	}
}

func TestSeedQueriesFallsBackWithoutLLM(t *testing.T) {
	g := NewQueryGenerator(testResearchConfig(), failingLLM{}, nil)
	queries := g.SeedQueries(context.Background(), "solar growth")
	if len(queries) == 0 {
		t.Fatalf("seed queries must not be empty even without a model")
	}
	for _, q := range queries {
		if q.Text == "" {
			t.Fatalf("empty seed query")
		}
	}
}

func TestSeedQueriesParsesModelOutput(t *testing.T) {
	llm := scriptedLLM{responses: map[string]string{
		"generating effective search queries": `{"queries": ["solar overview", "solar statistics 2026"]}`,
	}}
	g := NewQueryGenerator(testResearchConfig(), llm, nil)
	queries := g.SeedQueries(context.Background(), "solar growth")
	if len(queries) != 2 || queries[0].Text != "solar overview" {
		t.Fatalf("unexpected seed queries: %+v", queries)
	}
}
