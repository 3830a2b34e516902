package web_search

import (
	"context"

	"github.com/mohammad-safakhou/delver/tools/web_search/arxiv"
	"github.com/mohammad-safakhou/delver/tools/web_search/brave"
	"github.com/mohammad-safakhou/delver/tools/web_search/crossref"
	"github.com/mohammad-safakhou/delver/tools/web_search/models"
	"github.com/mohammad-safakhou/delver/tools/web_search/searxng"
	"github.com/mohammad-safakhou/delver/tools/web_search/serper"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider   Provider = "serper"
	BraveProvider    Provider = "brave"
	SearxngProvider  Provider = "searxng"
	ArxivProvider    Provider = "arxiv"
	CrossrefProvider Provider = "crossref"
)

var ErrUnsupportedProvider = &Error{"unsupported provider"}

// NewWebSearcher selects a search backend. endpoint is only used by
// searxng; apiKey only by the hosted providers. The academic backends
// (arxiv, crossref) need neither.
func NewWebSearcher(provider Provider, apiKey, endpoint string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	case SearxngProvider:
		return searxng.Search{Endpoint: endpoint}, nil
	case ArxivProvider:
		return arxiv.Search{}, nil
	case CrossrefProvider:
		return crossref.Search{}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
