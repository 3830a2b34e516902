package research

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"prose wrapped", "Sure, here you go:\n{\"a\":1}\nHope that helps!", `{"a":1}`},
		{"code fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"nested objects", `{"a":{"b":{"c":1}}}`, `{"a":{"b":{"c":1}}}`},
		{"braces in strings", `{"a":"closing } inside"}`, `{"a":"closing } inside"}`},
		{"escaped quotes", `{"a":"say \"hi\" {now}"}`, `{"a":"say \"hi\" {now}"}`},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`},
	}
	for _, c := range cases {
		got, err := ExtractJSON(c.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %q, want %q", c.name, got, c.want)
		}
	}

	for _, bad := range []string{"", "no json here", "{\"unterminated\":", "}{", "}"} {
		if _, err := ExtractJSON(bad); err == nil {
			t.Fatalf("ExtractJSON(%q) should fail", bad)
		}
	}
}

func TestParseQueryList(t *testing.T) {
	queries, err := ParseQueryList(`The queries are: {"queries": ["solar growth 2025", "  ", "grid storage"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 2 || queries[0] != "solar growth 2025" || queries[1] != "grid storage" {
		t.Fatalf("unexpected queries: %v", queries)
	}

	_, err = ParseQueryList(`{"queries": []}`)
	var perr ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("empty list error = %v, want ParseError", err)
	}

	if _, err := ParseQueryList("not json at all"); err == nil {
		t.Fatalf("expected error for non-JSON input")
	}
}

func TestParseOutline(t *testing.T) {
	items, err := ParseOutline(`{"outline": [
		{"topic": "Solar adoption", "subtopics": ["Residential", "Utility scale"]},
		{"topic": "", "subtopics": ["orphan"]},
		{"topic": "Grid storage"}
	]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (empty topic dropped)", len(items))
	}
	if items[0].Topic != "Solar adoption" || len(items[0].Subtopics) != 2 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Topic != "Grid storage" || len(items[1].Subtopics) != 0 {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestParseCycleAnalysis(t *testing.T) {
	got, err := ParseCycleAnalysis(`Looking at the evidence: {"completed_topics": ["a"], "partial_topics": ["b"], "irrelevant_topics": [], "new_topics": ["c", "d"], "analysis": "steady progress"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Completed) != 1 || len(got.New) != 2 || got.Analysis != "steady progress" {
		t.Fatalf("unexpected analysis: %+v", got)
	}
}

func TestParseFeedbackSelection(t *testing.T) {
	sel, err := ParseFeedbackSelection(`{"keep": [0, 2], "remove": [1]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel.Keep) != 2 || len(sel.Remove) != 1 || sel.Remove[0] != 1 {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}

func TestParseTopicTitle(t *testing.T) {
	title, desc, err := ParseTopicTitle(`{"title": " Offshore wind ", "description": "turbines at sea"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Offshore wind" || desc != "turbines at sea" {
		t.Fatalf("got %q / %q", title, desc)
	}

	if _, _, err := ParseTopicTitle(`{"title": "  "}`); err == nil {
		t.Fatalf("empty title should fail")
	}
}
