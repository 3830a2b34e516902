package research

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/delver/config"
)

// QueryGenerator plans at most K search queries per cycle from the
// current outline, and seeds the very first broad query set.
type QueryGenerator struct {
	cfg    config.ResearchConfig
	llm    CompletionProvider
	logger *log.Logger
}

// NewQueryGenerator creates a query generator.
func NewQueryGenerator(cfg config.ResearchConfig, llm CompletionProvider, logger *log.Logger) *QueryGenerator {
	if logger == nil {
		logger = log.New(log.Writer(), "[QUERIES] ", log.LstdFlags)
	}
	return &QueryGenerator{cfg: cfg, llm: llm, logger: logger}
}

// SeedQueries asks the model for the opening query set: half broad to
// delineate the topic, half specific. A failed call falls back to
// template queries so seeding always produces work.
func (g *QueryGenerator) SeedQueries(ctx context.Context, userQuery string) []Query {
	system := fmt.Sprintf(`You are a research assistant generating effective search queries.
The user has submitted a research query: %q.
Generate 6 initial search queries: half broad, to identify and define the main topic, half specific, to find detailed information.
Respond ONLY with JSON: {"queries": ["...", "..."]}`, userQuery)
	resp, err := g.llm.Complete(ctx, system, "Generate initial search queries for: "+userQuery)
	if err == nil {
		if queries, perr := ParseQueryList(resp); perr == nil {
			out := make([]Query, 0, len(queries))
			for _, q := range queries {
				out = append(out, Query{Text: q})
			}
			return out
		} else {
			g.logger.Printf("seed query parsing failed, using fallback: %v", perr)
		}
	} else {
		g.logger.Printf("seed query generation failed, using fallback: %v", err)
	}
	return []Query{
		{Text: "information about " + userQuery},
		{Text: userQuery + " overview"},
		{Text: userQuery + " details"},
	}
}

// gapHints is the ladder of gap-filling suffixes: early evidence wants
// an overview, later evidence wants specifics. Cycling through the
// ladder also guarantees a topic never re-issues a byte-identical
// query string.
var gapHints = []string{
	"overview",
	"key facts and evidence",
	"detailed analysis",
	"recent developments",
	"criticism and limitations",
	"case studies and examples",
}

// Generate ranks active topics by priority and produces one query per
// top topic, each combining the topic title with a hint for the aspect
// that still lacks evidence. If every topic is terminal but the cycle
// floor has not been reached, it falls back to broad queries from the
// original user query to keep the run live.
func (g *QueryGenerator) Generate(state *State) []Query {
	k := g.cfg.QueriesPerCycle
	active := state.ActiveTopics()

	if len(active) == 0 {
		if state.Cycle < g.cfg.MinCycles {
			return g.broadFallback(state, k)
		}
		return nil
	}

	ranked := make([]*Topic, len(active))
	copy(ranked, active)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		return ranked[i].DiscoveryCycle < ranked[j].DiscoveryCycle
	})

	var out []Query
	for _, t := range ranked {
		if len(out) >= k {
			break
		}
		q, ok := g.queryForTopic(state, t)
		if !ok {
			continue
		}
		state.MarkIssued(t.ID, q)
		out = append(out, Query{Text: q, TopicID: t.ID})
	}
	return out
}

// queryForTopic picks the first unissued hint variant for a topic. The
// hint starts at the topic's evidence depth so queries progress from
// broad to specific as evidence accumulates.
func (g *QueryGenerator) queryForTopic(state *State, t *Topic) (string, bool) {
	start := len(t.Evidence)
	if start >= len(gapHints) {
		start = len(gapHints) - 1
	}
	base := strings.TrimSpace(state.UserQuery + " " + t.Title)
	for i := 0; i < len(gapHints); i++ {
		hint := gapHints[(start+i)%len(gapHints)]
		q := base + " " + hint
		if !state.WasIssued(t.ID, q) {
			return q, true
		}
	}
	// Every hint variant exhausted for this topic.
	return "", false
}

// broadFallback regenerates wide queries from the user query itself to
// satisfy the minimum-cycle floor after the outline went terminal.
func (g *QueryGenerator) broadFallback(state *State, k int) []Query {
	templates := []string{
		"%s broader context",
		"%s related research",
		"%s open questions",
		"%s future outlook",
		"%s historical background",
	}
	var out []Query
	for _, tpl := range templates {
		if len(out) >= k {
			break
		}
		q := fmt.Sprintf(tpl, state.UserQuery)
		if state.WasIssued("", q) {
			continue
		}
		state.MarkIssued("", q)
		out = append(out, Query{Text: q})
	}
	return out
}
