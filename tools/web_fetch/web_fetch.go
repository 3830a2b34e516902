package web_fetch

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/delver/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/delver/tools/web_fetch/models"
	"github.com/mohammad-safakhou/delver/tools/web_fetch/readability"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	// ChromedpFetcherType renders javascript-heavy pages in headless
	// Chrome before extraction. Slower; needs a Chrome binary.
	ChromedpFetcherType FetcherType = "chromedp"
	// ReadabilityFetcherType does a plain HTTP GET plus article
	// extraction. The default: fast and dependency-free at runtime.
	ReadabilityFetcherType FetcherType = "readability"
)

type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case ReadabilityFetcherType:
		return &readability.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, &Error{"unsupported fetcher type"}
	}
}
