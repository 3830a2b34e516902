package research

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Phase is the controller's position in the run state machine.
type Phase string

const (
	PhaseSeeding          Phase = "seeding"
	PhaseAwaitingFeedback Phase = "awaiting_feedback"
	PhaseCycling          Phase = "cycling"
	PhaseCompressing      Phase = "compressing"
	PhaseTerminal         Phase = "terminal"
)

// State is the process-wide mutable state of one research run. It is
// created at run start, threaded through every component call and
// discarded at run end; there are no ambient globals. Results and
// fingerprints are append-only and written only from the controller's
// sequential post-join phase, so concurrent readers are safe.
type State struct {
	RunID     string
	UserQuery string
	Phase     Phase
	Cycle     int

	Outline []*Topic
	Results []SearchResult

	QueryEmbedding   []float32
	OutlineEmbedding []float32
	Preference       []float32

	fingerprints map[string]int // content hash -> canonical chunk index
	canonical    []*Chunk
	pages        map[string]struct{}            // page-level content hashes
	issued       map[string]map[string]struct{} // topic id -> issued query texts

	StartedAt time.Time
}

// NewState initialises the run state for a user query.
func NewState(runID, userQuery string) *State {
	return &State{
		RunID:        runID,
		UserQuery:    userQuery,
		Phase:        PhaseSeeding,
		Cycle:        0,
		fingerprints: make(map[string]int),
		pages:        make(map[string]struct{}),
		issued:       make(map[string]map[string]struct{}),
		StartedAt:    time.Now(),
	}
}

// ContentHash fingerprints raw content for exact-duplicate detection.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// AppendResult adds a fetched result to the arena and returns its ref.
func (s *State) AppendResult(r SearchResult) SourceRef {
	ref := SourceRef(len(s.Results))
	for _, c := range r.Chunks {
		c.Source = ref
	}
	s.Results = append(s.Results, r)
	return ref
}

// Result resolves a SourceRef; the ref must come from AppendResult.
func (s *State) Result(ref SourceRef) (SearchResult, bool) {
	if ref < 0 || int(ref) >= len(s.Results) {
		return SearchResult{}, false
	}
	return s.Results[ref], true
}

// SeenFingerprint reports whether a content hash was recorded before.
func (s *State) SeenFingerprint(hash string) bool {
	_, ok := s.fingerprints[hash]
	return ok
}

// RecordCanonical registers the first occurrence of a chunk's content;
// later near-duplicates increment SeenCount on this record.
func (s *State) RecordCanonical(hash string, c *Chunk) {
	if _, ok := s.fingerprints[hash]; ok {
		return
	}
	s.fingerprints[hash] = len(s.canonical)
	s.canonical = append(s.canonical, c)
}

// Canonical returns the canonical chunk for a hash, if recorded.
func (s *State) Canonical(hash string) (*Chunk, bool) {
	idx, ok := s.fingerprints[hash]
	if !ok {
		return nil, false
	}
	return s.canonical[idx], true
}

// CanonicalChunks exposes the canonical chunk records for similarity
// comparison. Read-only for callers.
func (s *State) CanonicalChunks() []*Chunk { return s.canonical }

// MarkPage records a fetched page's content hash for whole-page
// deduplication across cycles.
func (s *State) MarkPage(hash string) {
	s.pages[hash] = struct{}{}
}

// SeenPage reports whether an identical page was already ingested.
func (s *State) SeenPage(hash string) bool {
	_, ok := s.pages[hash]
	return ok
}

// MarkIssued records that a query string was issued for a topic.
func (s *State) MarkIssued(topicID, query string) {
	set, ok := s.issued[topicID]
	if !ok {
		set = make(map[string]struct{})
		s.issued[topicID] = set
	}
	set[query] = struct{}{}
}

// WasIssued reports whether the exact query string was already issued
// for the topic.
func (s *State) WasIssued(topicID, query string) bool {
	set, ok := s.issued[topicID]
	if !ok {
		return false
	}
	_, ok = set[query]
	return ok
}

// ActiveTopics returns outline entries that still accept evidence.
func (s *State) ActiveTopics() []*Topic {
	var out []*Topic
	for _, t := range s.Outline {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out
}

// AllTerminal reports whether every topic is completed or irrelevant.
func (s *State) AllTerminal() bool {
	for _, t := range s.Outline {
		if !t.Status.Terminal() {
			return false
		}
	}
	return len(s.Outline) > 0
}

// CheckInvariants asserts the structural invariants that only a
// controller bug can break. It is called after every mutation phase.
func (s *State) CheckInvariants(maxCycles int) error {
	if s.Cycle > maxCycles {
		return StateInvariantError{Detail: "cycle number exceeds maximum"}
	}
	seen := make(map[string]string)
	for _, t := range s.Outline {
		if t.Status == TopicIrrelevant {
			continue
		}
		key := NormalizeTitle(t.Title)
		if prev, ok := seen[key]; ok && prev != t.ID {
			return StateInvariantError{Detail: "duplicate active topic title: " + t.Title}
		}
		seen[key] = t.ID
	}
	for _, r := range s.Results {
		for _, c := range r.Chunks {
			if _, ok := s.Result(c.Source); !ok {
				return StateInvariantError{Detail: "chunk source ref does not resolve"}
			}
		}
	}
	return nil
}

// NormalizeTitle canonicalises a topic title for the merge invariant.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(title))), " ")
}

// Snapshot is the read-only terminal view handed to persistence and
// export layers. The core never writes it anywhere itself.
type Snapshot struct {
	RunID     string           `json:"run_id"`
	UserQuery string           `json:"user_query"`
	Cycles    int              `json:"cycles"`
	Outline   []Topic          `json:"outline"`
	Sources   []SourceRecord   `json:"sources"`
	Corpus    CompressedCorpus `json:"corpus"`
	Report    string           `json:"report"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}

// SourceRecord is the exportable projection of a SearchResult.
type SourceRecord struct {
	QueryText string    `json:"query_text"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Cycle     int       `json:"cycle"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Snapshot materialises the exportable view of the run.
func (s *State) Snapshot(corpus CompressedCorpus, report string) Snapshot {
	snap := Snapshot{
		RunID:     s.RunID,
		UserQuery: s.UserQuery,
		Cycles:    s.Cycle,
		Corpus:    corpus,
		Report:    report,
		StartedAt: s.StartedAt,
		EndedAt:   time.Now(),
	}
	for _, t := range s.Outline {
		snap.Outline = append(snap.Outline, *t)
	}
	for _, r := range s.Results {
		snap.Sources = append(snap.Sources, SourceRecord{
			QueryText: r.QueryText,
			URL:       r.SourceURL,
			Title:     r.Title,
			Cycle:     r.FetchCycle,
			FetchedAt: r.FetchedAt,
		})
	}
	return snap
}
