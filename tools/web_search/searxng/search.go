package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/delver/tools/web_search/models"
	"github.com/mohammad-safakhou/delver/utils"
)

// Search queries a self-hosted SearXNG instance, the keyless default
// backend for local development.
type Search struct {
	Endpoint string // e.g. http://localhost:8888/search
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	url := fmt.Sprintf("%s?q=%s&format=json", s.Endpoint, utils.UrlQuery(q))
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}
	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []models.Result
	for i, r := range raw.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
