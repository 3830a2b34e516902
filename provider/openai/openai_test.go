package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/delver/config"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := config.LLMConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		EmbeddingModel: "text-embedding-3-small",
		EmbeddingCache: 16,
	}
	c, err := New(cfg, "gpt-4o-mini", 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCreateEmbeddingHonorsIndexField(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Vectors come back in reverse order; index is authoritative.
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{2}},
				{"index": 0, "embedding": []float32{1}},
			},
			"usage": map[string]int64{"prompt_tokens": 4},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	vecs, err := c.CreateEmbedding(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("CreateEmbedding: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 1 || len(vecs[1]) != 1 {
		t.Fatalf("unexpected vector shape: %v", vecs)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vectors assigned by position instead of index: %v", vecs)
	}

	// Both vectors were cached under the right text; a repeat lookup
	// stays off the network.
	again, err := c.CreateEmbedding(context.Background(), []string{"second"})
	if err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if again[0][0] != 2 {
		t.Fatalf("cache holds the wrong vector: %v", again)
	}
	if calls != 1 {
		t.Fatalf("expected one API call, got %d", calls)
	}
}

func TestCreateEmbeddingRejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 5, "embedding": []float32{1}},
			},
			"usage": map[string]int64{"prompt_tokens": 2},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if _, err := c.CreateEmbedding(context.Background(), []string{"only"}); err == nil {
		t.Fatalf("expected error for index outside the batch")
	}
}
