package research

import (
	"context"
	"fmt"
	"time"
)

// TopicStatus is the lifecycle state of a research topic.
type TopicStatus string

const (
	TopicPending    TopicStatus = "pending"
	TopicInProgress TopicStatus = "in_progress"
	TopicCompleted  TopicStatus = "completed"
	TopicIrrelevant TopicStatus = "irrelevant"
)

// Terminal reports whether the status admits no further transitions.
func (s TopicStatus) Terminal() bool {
	return s == TopicCompleted || s == TopicIrrelevant
}

// Topic is a single entry in the research outline. Topics are created by
// the outline manager and mutated only through it; they are never deleted,
// only marked irrelevant.
type Topic struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	Status         TopicStatus `json:"status"`
	DiscoveryCycle int         `json:"discovery_cycle"`
	Evidence       []SourceRef `json:"evidence,omitempty"`
	Priority       float64     `json:"priority"`

	embedding   []float32
	quietCycles int
}

// SourceRef indexes into ResearchState.Results.
type SourceRef int

// SearchResult is one fetched page of content. Immutable once appended
// to the run state.
type SearchResult struct {
	QueryText   string    `json:"query_text"`
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title"`
	RawContent  string    `json:"raw_content"`
	Chunks      []*Chunk  `json:"-"`
	FetchCycle  int       `json:"fetch_cycle"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Chunk is a bounded span of extracted text with its embedding and
// relevance scores. SeenCount tracks near-duplicate resurfacing across
// cycles and drives the repetition decay.
type Chunk struct {
	Text             string    `json:"text"`
	Embedding        []float32 `json:"-"`
	Source           SourceRef `json:"source"`
	QueryRelevance   float64   `json:"query_relevance"`
	ContextRelevance float64   `json:"context_relevance"`
	SeenCount        int       `json:"seen_count"`
}

// Query is a single search request planned for a cycle.
type Query struct {
	Text    string `json:"text"`
	TopicID string `json:"topic_id,omitempty"`
}

// SearchHit is the raw answer from a search provider.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// OutlineDelta records what one outline mutation changed.
type OutlineDelta struct {
	Completed  []string `json:"completed,omitempty"`
	Irrelevant []string `json:"irrelevant,omitempty"`
	Discovered []string `json:"discovered,omitempty"`
	Kept       []string `json:"kept,omitempty"`
	Removed    []string `json:"removed,omitempty"`
}

// Repetition classifies how a chunk relates to previously seen content.
type Repetition int

const (
	Novel Repetition = iota
	NearDuplicate
	ExactDuplicate
)

func (r Repetition) String() string {
	switch r {
	case NearDuplicate:
		return "near_duplicate"
	case ExactDuplicate:
		return "exact_duplicate"
	default:
		return "novel"
	}
}

// Feedback is the tagged union delivered by the interactive channel.
// Raw command strings are decoded once at the boundary and never passed
// around internally.
type Feedback interface{ isFeedback() }

// KeepList keeps exactly the listed 1-based outline items.
type KeepList struct{ Indices []int }

// RemoveList removes exactly the listed 1-based outline items.
type RemoveList struct{ Indices []int }

// NaturalLanguage is free-form steering text, converted into a
// preference direction vector for the rest of the run.
type NaturalLanguage struct{ Text string }

// Continue accepts the outline as-is.
type Continue struct{}

func (KeepList) isFeedback()        {}
func (RemoveList) isFeedback()      {}
func (NaturalLanguage) isFeedback() {}
func (Continue) isFeedback()        {}

// FeedbackSource supplies one round of outline feedback during the
// AwaitingFeedback phase. A nil source disables the phase entirely.
type FeedbackSource interface {
	Ask(ctx context.Context, outline []*Topic) (Feedback, error)
}

// CompressedCorpus is the bounded evidence set handed to synthesis.
type CompressedCorpus struct {
	Sections []CorpusSection `json:"sections"`
	Tokens   int             `json:"tokens"`
}

// CorpusSection groups the retained chunks of one topic, in outline order.
type CorpusSection struct {
	TopicID    string   `json:"topic_id"`
	TopicTitle string   `json:"topic_title"`
	Chunks     []*Chunk `json:"-"`
	Texts      []string `json:"texts"`
	Tokens     int      `json:"tokens"`
}

// CompletionProvider is the LLM completion boundary. Implementations
// return the raw model text; parsing happens behind parser.go.
type CompletionProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// EmbeddingProvider is the embedding boundary. Vectors must be
// deterministic for identical input within a run.
type EmbeddingProvider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchProvider is the abstract search backend contract. Errors are
// surfaced by the caller as empty result sets, never as run failures.
type SearchProvider interface {
	Discover(ctx context.Context, query string, k int) ([]SearchHit, error)
}

// Extractor reduces a URL to plain text with caps applied by the
// implementation, not the core.
type Extractor interface {
	Extract(ctx context.Context, url string) (title, text string, err error)
}

// ErrInvalidWeights is returned by the scorer when both blend weights
// are zero (or either is negative).
type ErrInvalidWeights struct {
	QueryWeight   float64
	ContextWeight float64
}

func (e ErrInvalidWeights) Error() string {
	return fmt.Sprintf("invalid score weights: query=%.3f context=%.3f (both must be >= 0, at least one > 0)", e.QueryWeight, e.ContextWeight)
}

// InvalidRatioError is returned by Compress for a ratio outside (0,1].
type InvalidRatioError struct{ Ratio float64 }

func (e InvalidRatioError) Error() string {
	return fmt.Sprintf("invalid compression ratio %.3f: must be in (0,1]", e.Ratio)
}

// InvalidIndexError is returned by feedback application when an index
// falls outside the outline. Indices are never silently clamped.
type InvalidIndexError struct {
	Index int
	Min   int
	Max   int
}

func (e InvalidIndexError) Error() string {
	return fmt.Sprintf("index %d out of range: valid range %d-%d", e.Index, e.Min, e.Max)
}

// ParseError wraps a failure to extract structure from LLM output.
type ParseError struct {
	What string
	Err  error
}

func (e ParseError) Error() string { return fmt.Sprintf("parsing %s: %v", e.What, e.Err) }
func (e ParseError) Unwrap() error { return e.Err }

// StateInvariantError indicates a controller bug (duplicate active
// titles, cycle overflow). It is fatal by design, never recovered.
type StateInvariantError struct{ Detail string }

func (e StateInvariantError) Error() string { return "state invariant violated: " + e.Detail }
