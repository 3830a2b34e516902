package crossref

import "testing"

const sampleWorks = `{
  "message": {
    "items": [
      {
        "title": ["Grid-scale storage economics"],
        "URL": "https://doi.org/10.0000/example.1",
        "abstract": "<jats:p>Storage costs fell <jats:italic>sharply</jats:italic> after 2020.</jats:p>",
        "container-title": ["Journal of Energy"]
      },
      {
        "title": ["Battery recycling"],
        "URL": "https://doi.org/10.0000/example.2",
        "container-title": ["Nature Energy"]
      },
      {
        "title": ["A third paper"],
        "URL": "https://doi.org/10.0000/example.3"
      }
    ]
  }
}`

func TestParseWorks(t *testing.T) {
	results, err := parseWorks([]byte(sampleWorks), 2)
	if err != nil {
		t.Fatalf("parseWorks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (capped)", len(results))
	}
	first := results[0]
	if first.Title != "Grid-scale storage economics" || first.URL != "https://doi.org/10.0000/example.1" {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if first.Snippet != "Storage costs fell sharply after 2020." {
		t.Fatalf("JATS markup not stripped: %q", first.Snippet)
	}
	// No abstract deposited; the venue stands in as the snippet.
	if results[1].Snippet != "Nature Energy" {
		t.Fatalf("container-title fallback not used: %q", results[1].Snippet)
	}
}

func TestParseWorksRejectsMalformedJSON(t *testing.T) {
	if _, err := parseWorks([]byte(`{"message":`), 3); err == nil {
		t.Fatalf("expected error for truncated response")
	}
}
