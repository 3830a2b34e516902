package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/delver/tools/web_search/models"
	"github.com/mohammad-safakhou/delver/utils"
)

// Search queries the Crossref REST API, a keyless academic backend
// covering published journal articles and books. The snippet is the
// abstract when the publisher deposits one, otherwise the venue.
type Search struct{}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://api.crossref.org/swagger-ui/index.html
	url := fmt.Sprintf("https://api.crossref.org/works?query=%s&rows=%d", utils.UrlQuery(q), k)
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
		return nil, fmt.Errorf("crossref search returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseWorks(body, k)
}

// parseWorks decodes the works envelope into search results.
func parseWorks(body []byte, k int) ([]models.Result, error) {
	var raw struct {
		Message struct {
			Items []struct {
				Title          []string `json:"title"`
				URL            string   `json:"URL"`
				Abstract       string   `json:"abstract"`
				ContainerTitle []string `json:"container-title"`
			} `json:"items"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("crossref works: %w", err)
	}
	var out []models.Result
	for i, it := range raw.Message.Items {
		if i >= k {
			break
		}
		title := ""
		if len(it.Title) > 0 {
			title = it.Title[0]
		}
		snippet := stripMarkup(it.Abstract)
		if snippet == "" && len(it.ContainerTitle) > 0 {
			snippet = it.ContainerTitle[0]
		}
		out = append(out, models.Result{Title: title, URL: it.URL, Snippet: snippet})
	}
	return out, nil
}

// Deposited abstracts arrive as JATS XML fragments.
var markupPattern = regexp.MustCompile(`<[^>]+>`)

func stripMarkup(s string) string {
	return strings.Join(strings.Fields(markupPattern.ReplaceAllString(s, " ")), " ")
}
