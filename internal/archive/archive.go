package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
)

// Archive is the long-term knowledge store: finished runs are indexed
// in bleve for retrieval and cached whole in redis for fast reload.
// Questions over past research go through Ask.
type Archive struct {
	index  bleve.Index
	client *redis.Client
	llm    research.CompletionProvider
	topK   int
	logger *log.Logger
}

// Doc is one indexed evidence unit from a finished run.
type Doc struct {
	RunID     string `json:"run_id"`
	UserQuery string `json:"user_query"`
	Topic     string `json:"topic"`
	Text      string `json:"text"`
}

const snapshotTTL = 30 * 24 * time.Hour

// New opens (or creates) the bleve index and connects redis. A dead
// redis degrades to index-only operation.
func New(cfg config.StorageConfig, llm research.CompletionProvider, logger *log.Logger) (*Archive, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[ARCHIVE] ", log.LstdFlags)
	}
	index, err := bleve.Open(cfg.Archive.IndexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(cfg.Archive.IndexPath, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening archive index: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Printf("redis unavailable, snapshot cache disabled: %v", err)
		client = nil
	}

	topK := cfg.Archive.TopK
	if topK <= 0 {
		topK = 6
	}
	return &Archive{index: index, client: client, llm: llm, topK: topK, logger: logger}, nil
}

func (a *Archive) Close() error {
	if a.client != nil {
		a.client.Close()
	}
	return a.index.Close()
}

// IndexSnapshot stores a finished run: every retained corpus chunk
// becomes a searchable doc and the full snapshot is cached in redis.
func (a *Archive) IndexSnapshot(ctx context.Context, snap research.Snapshot) error {
	batch := a.index.NewBatch()
	for _, section := range snap.Corpus.Sections {
		for i, text := range section.Texts {
			doc := Doc{
				RunID:     snap.RunID,
				UserQuery: snap.UserQuery,
				Topic:     section.TopicTitle,
				Text:      text,
			}
			id := fmt.Sprintf("%s/%s/%d", snap.RunID, section.TopicID, i)
			if err := batch.Index(id, doc); err != nil {
				return err
			}
		}
	}
	if err := a.index.Batch(batch); err != nil {
		return fmt.Errorf("indexing run %s: %w", snap.RunID, err)
	}

	if a.client != nil {
		body, err := json.Marshal(snap)
		if err == nil {
			if err := a.client.Set(ctx, snapshotKey(snap.RunID), body, snapshotTTL).Err(); err != nil {
				a.logger.Printf("caching snapshot %s failed: %v", snap.RunID, err)
			}
		}
	}
	a.logger.Printf("archived run %s (%d sections)", snap.RunID, len(snap.Corpus.Sections))
	return nil
}

// CachedSnapshot loads a snapshot from the redis cache, if present.
func (a *Archive) CachedSnapshot(ctx context.Context, runID string) (research.Snapshot, bool) {
	if a.client == nil {
		return research.Snapshot{}, false
	}
	body, err := a.client.Get(ctx, snapshotKey(runID)).Bytes()
	if err != nil {
		return research.Snapshot{}, false
	}
	var snap research.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return research.Snapshot{}, false
	}
	return snap, true
}

// Search queries the archive index and returns the top matching docs.
func (a *Archive) Search(ctx context.Context, query string, k int) ([]Doc, error) {
	if k <= 0 {
		k = a.topK
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), k, 0, false)
	req.Fields = []string{"run_id", "user_query", "topic", "text"}
	result, err := a.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	var out []Doc
	for _, hit := range result.Hits {
		out = append(out, Doc{
			RunID:     str(hit.Fields["run_id"]),
			UserQuery: str(hit.Fields["user_query"]),
			Topic:     str(hit.Fields["topic"]),
			Text:      str(hit.Fields["text"]),
		})
	}
	return out, nil
}

// Ask answers a question from the archived evidence: retrieve the top
// matching chunks, then let the model answer strictly from them.
func (a *Archive) Ask(ctx context.Context, question string) (string, []Doc, error) {
	docs, err := a.Search(ctx, question, a.topK)
	if err != nil {
		return "", nil, err
	}
	if len(docs) == 0 {
		return "No archived research matches that question.", nil, nil
	}

	var evidence []string
	for _, d := range docs {
		evidence = append(evidence, fmt.Sprintf("[%s / %s]\n%s", d.UserQuery, d.Topic, d.Text))
	}
	system := `You answer questions using only the archived research excerpts provided. If the excerpts do not contain the answer, say so. Cite the topic names you drew from.`
	user := fmt.Sprintf("Question: %s\n\nArchived excerpts:\n\n%s", question, strings.Join(evidence, "\n\n---\n\n"))
	answer, err := a.llm.Complete(ctx, system, user)
	if err != nil {
		return "", docs, fmt.Errorf("answering from archive: %w", err)
	}
	return strings.TrimSpace(answer), docs, nil
}

func snapshotKey(runID string) string { return "delver:run:" + runID }

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
