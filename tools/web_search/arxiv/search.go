package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/delver/tools/web_search/models"
	"github.com/mohammad-safakhou/delver/utils"
)

// Search queries the arXiv Atom API, a keyless academic backend for
// preprints. Best for technical and scientific queries; the snippet is
// the paper abstract.
type Search struct{}

type feed struct {
	Entries []entry `xml:"entry"`
}

type entry struct {
	ID      string `xml:"id"`
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Links   []link `xml:"link"`
}

type link struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://info.arxiv.org/help/api/user-manual.html
	url := fmt.Sprintf("https://export.arxiv.org/api/query?search_query=all:%s&start=0&max_results=%d", utils.UrlQuery(q), k)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv search returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseFeed(body, k)
}

// parseFeed decodes an Atom feed into search results. Titles and
// abstracts come back hard-wrapped; whitespace is collapsed.
func parseFeed(body []byte, k int) ([]models.Result, error) {
	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("arxiv feed: %w", err)
	}
	var out []models.Result
	for i, e := range f.Entries {
		if i >= k {
			break
		}
		href := e.ID
		for _, l := range e.Links {
			if l.Rel == "alternate" && l.Href != "" {
				href = l.Href
				break
			}
		}
		out = append(out, models.Result{
			Title:   collapse(e.Title),
			URL:     href,
			Snippet: collapse(e.Summary),
		})
	}
	return out, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
