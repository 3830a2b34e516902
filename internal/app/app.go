package app

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/telemetry"
	openai_provider "github.com/mohammad-safakhou/delver/provider/openai"
	"github.com/mohammad-safakhou/delver/tools/web_fetch"
	"github.com/mohammad-safakhou/delver/tools/web_search"
)

// searchAdapter bridges the web_search tool to the core search contract.
type searchAdapter struct {
	searcher web_search.WebSearcher
}

func (a searchAdapter) Discover(ctx context.Context, query string, k int) ([]research.SearchHit, error) {
	results, err := a.searcher.Discover(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]research.SearchHit, 0, len(results))
	for _, r := range results {
		out = append(out, research.SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}

// fetchAdapter bridges the web_fetch tool to the core extractor contract.
type fetchAdapter struct {
	fetcher web_fetch.WebFetcher
}

func (a fetchAdapter) Extract(ctx context.Context, url string) (string, string, error) {
	result, err := a.fetcher.Exec(ctx, url)
	if err != nil {
		return "", "", err
	}
	if result.Status >= 400 {
		return "", "", fmt.Errorf("fetch of %s returned status %d", url, result.Status)
	}
	return result.Title, result.Text, nil
}

// App bundles the wired collaborators of one process.
type App struct {
	Config     *config.Config
	Telemetry  *telemetry.Telemetry
	Controller *research.Controller
	LLM        research.CompletionProvider
	Embeddings research.EmbeddingProvider
	Logger     *log.Logger
}

// New wires providers, tools and the controller from config. feedback
// may be nil to run non-interactively regardless of config.
func New(cfg *config.Config, feedback research.FeedbackSource) (*App, error) {
	logger := log.New(log.Writer(), "[DELVER] ", log.LstdFlags)
	tel := telemetry.New(cfg.Telemetry)

	llm, err := openai_provider.New(cfg.LLM, cfg.LLM.ResearchModel, cfg.LLM.Temperature, tel)
	if err != nil {
		return nil, fmt.Errorf("creating llm provider: %w", err)
	}
	var synthLLM research.CompletionProvider
	if cfg.LLM.SynthesisModel != "" && cfg.LLM.SynthesisModel != cfg.LLM.ResearchModel {
		s, err := openai_provider.New(cfg.LLM, cfg.LLM.SynthesisModel, cfg.LLM.SynthesisTemp, tel)
		if err != nil {
			return nil, fmt.Errorf("creating synthesis provider: %w", err)
		}
		synthLLM = s
	}

	searcher, err := newSearcher(cfg.Search)
	if err != nil {
		return nil, err
	}
	fetcher, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Fetch.Fetcher), cfg.Fetch.Timeout, cfg.Fetch.MaxChars)
	if err != nil {
		return nil, fmt.Errorf("creating fetcher: %w", err)
	}

	controller, err := research.NewController(cfg, research.Deps{
		LLM:          llm,
		SynthesisLLM: synthLLM,
		Embeddings:   llm,
		Search:       searchAdapter{searcher: searcher},
		Extractor:    fetchAdapter{fetcher: fetcher},
		Feedback:     feedback,
		Telemetry:    tel,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Telemetry:  tel,
		Controller: controller,
		LLM:        llm,
		Embeddings: llm,
		Logger:     logger,
	}, nil
}

func newSearcher(cfg config.SearchConfig) (web_search.WebSearcher, error) {
	var apiKey string
	switch web_search.Provider(cfg.Provider) {
	case web_search.BraveProvider:
		apiKey = cfg.BraveAPIKey
	case web_search.SerperProvider:
		apiKey = cfg.SerperAPIKey
	}
	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Provider), apiKey, cfg.SearxURL)
	if err != nil {
		return nil, fmt.Errorf("creating searcher %q: %w", cfg.Provider, err)
	}
	return searcher, nil
}
