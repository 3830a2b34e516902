package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
)

// Store persists run snapshots in Postgres. The snapshot body is kept
// as a jsonb document; the columns queried by the API are promoted.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("run not found")

// New opens a connection from config and verifies it.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// RunSummary is the listing projection of a stored run.
type RunSummary struct {
	ID        string    `json:"id"`
	UserQuery string    `json:"user_query"`
	Cycles    int       `json:"cycles"`
	Topics    int       `json:"topics"`
	Sources   int       `json:"sources"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// SaveRun stores a terminal snapshot. Re-saving the same run id
// replaces the previous record.
func (s *Store) SaveRun(ctx context.Context, snap research.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, user_query, cycles, topics, sources, snapshot, report, started_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			cycles = EXCLUDED.cycles,
			topics = EXCLUDED.topics,
			sources = EXCLUDED.sources,
			snapshot = EXCLUDED.snapshot,
			report = EXCLUDED.report,
			ended_at = EXCLUDED.ended_at`,
		snap.RunID, snap.UserQuery, snap.Cycles, len(snap.Outline), len(snap.Sources),
		body, snap.Report, snap.StartedAt, snap.EndedAt)
	return err
}

// GetRun loads one stored snapshot by id.
func (s *Store) GetRun(ctx context.Context, id string) (research.Snapshot, error) {
	var body []byte
	err := s.DB.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE id=$1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return research.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return research.Snapshot{}, err
	}
	var snap research.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return research.Snapshot{}, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return snap, nil
}

// GetReport loads only the report text for a run.
func (s *Store) GetReport(ctx context.Context, id string) (string, error) {
	var report string
	err := s.DB.QueryRowContext(ctx, `SELECT report FROM runs WHERE id=$1`, id).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return report, err
}

// ListRuns returns run summaries, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_query, cycles, topics, sources, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.UserQuery, &r.Cycles, &r.Topics, &r.Sources, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a stored run.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
