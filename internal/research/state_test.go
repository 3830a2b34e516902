package research

import (
	"strings"
	"testing"
)

func TestContentHash(t *testing.T) {
	a := ContentHash("some content")
	b := ContentHash("  some content \n")
	if a != b {
		t.Fatalf("hash should ignore surrounding whitespace")
	}
	if a == ContentHash("other content") {
		t.Fatalf("different content should not collide")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestAppendResultAssignsRefs(t *testing.T) {
	state := NewState("run", "query")
	chunks := []*Chunk{{Text: "a"}, {Text: "b"}}
	ref := state.AppendResult(SearchResult{SourceURL: "https://example.com", Chunks: chunks})
	if ref != 0 {
		t.Fatalf("first ref = %d, want 0", ref)
	}
	for _, c := range chunks {
		if c.Source != ref {
			t.Fatalf("chunk source = %d, want %d", c.Source, ref)
		}
	}
	if _, ok := state.Result(ref); !ok {
		t.Fatalf("ref should resolve")
	}
	if _, ok := state.Result(SourceRef(5)); ok {
		t.Fatalf("out-of-range ref should not resolve")
	}
}

func TestIssuedQueries(t *testing.T) {
	state := NewState("run", "query")
	if state.WasIssued("t1", "solar overview") {
		t.Fatalf("unissued query reported as issued")
	}
	state.MarkIssued("t1", "solar overview")
	if !state.WasIssued("t1", "solar overview") {
		t.Fatalf("issued query not recorded")
	}
	if state.WasIssued("t2", "solar overview") {
		t.Fatalf("issue record leaked across topics")
	}
}

func TestPageDeduplication(t *testing.T) {
	state := NewState("run", "query")
	hash := ContentHash("page body")
	if state.SeenPage(hash) {
		t.Fatalf("fresh page reported as seen")
	}
	state.MarkPage(hash)
	if !state.SeenPage(hash) {
		t.Fatalf("marked page not reported as seen")
	}
}

func TestCheckInvariantsDuplicateTitles(t *testing.T) {
	state := NewState("run", "query")
	state.Outline = []*Topic{
		{ID: "a", Title: "Solar Growth", Status: TopicPending},
		{ID: "b", Title: "  solar   growth ", Status: TopicInProgress},
	}
	err := state.CheckInvariants(10)
	if err == nil {
		t.Fatalf("duplicate active titles should violate invariants")
	}
	if !strings.Contains(err.Error(), "duplicate active topic title") {
		t.Fatalf("unexpected error: %v", err)
	}

	// An irrelevant duplicate is allowed.
	state.Outline[1].Status = TopicIrrelevant
	if err := state.CheckInvariants(10); err != nil {
		t.Fatalf("irrelevant duplicate should pass: %v", err)
	}
}

func TestCheckInvariantsCycleBound(t *testing.T) {
	state := NewState("run", "query")
	state.Cycle = 11
	if err := state.CheckInvariants(10); err == nil {
		t.Fatalf("cycle beyond maximum should violate invariants")
	}
	state.Cycle = 10
	if err := state.CheckInvariants(10); err != nil {
		t.Fatalf("cycle at maximum should pass: %v", err)
	}
}

func TestAllTerminal(t *testing.T) {
	state := NewState("run", "query")
	if state.AllTerminal() {
		t.Fatalf("empty outline must not count as terminal")
	}
	state.Outline = []*Topic{
		{ID: "a", Title: "A", Status: TopicCompleted},
		{ID: "b", Title: "B", Status: TopicInProgress},
	}
	if state.AllTerminal() {
		t.Fatalf("in-progress topic should block terminal")
	}
	state.Outline[1].Status = TopicIrrelevant
	if !state.AllTerminal() {
		t.Fatalf("completed+irrelevant outline should be terminal")
	}
}

func TestSnapshotProjection(t *testing.T) {
	state := NewState("run-1", "solar growth")
	state.Cycle = 4
	state.Outline = []*Topic{{ID: "a", Title: "A", Status: TopicCompleted}}
	state.AppendResult(SearchResult{QueryText: "q", SourceURL: "https://example.com", Title: "Example", FetchCycle: 2})

	snap := state.Snapshot(CompressedCorpus{Tokens: 42}, "# Report")
	if snap.RunID != "run-1" || snap.Cycles != 4 {
		t.Fatalf("unexpected header: %+v", snap)
	}
	if len(snap.Outline) != 1 || snap.Outline[0].Title != "A" {
		t.Fatalf("unexpected outline projection: %+v", snap.Outline)
	}
	if len(snap.Sources) != 1 || snap.Sources[0].URL != "https://example.com" || snap.Sources[0].Cycle != 2 {
		t.Fatalf("unexpected sources projection: %+v", snap.Sources)
	}
	if snap.Report != "# Report" || snap.Corpus.Tokens != 42 {
		t.Fatalf("report/corpus not carried")
	}
	if snap.EndedAt.Before(snap.StartedAt) {
		t.Fatalf("EndedAt before StartedAt")
	}
}
