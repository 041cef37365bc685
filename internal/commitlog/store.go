package commitlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/postgres"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS index_commits (
		id           BIGSERIAL PRIMARY KEY,
		kind         TEXT NOT NULL,
		generation   BIGINT NOT NULL,
		segment_id   BIGINT,
		added        INTEGER NOT NULL,
		deleted      INTEGER NOT NULL,
		segments     INTEGER NOT NULL,
		documents    INTEGER NOT NULL,
		duration_ms  BIGINT NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS index_commits_generation_idx ON index_commits (generation DESC)`,
}

// Store persists commit events in the index_commits table. It is a Sink.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "commit-store"),
	}
}

// Migrate creates the commit log table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.Migrate(ctx, migrations...); err != nil {
		return fmt.Errorf("migrating commit log: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, event Event) error {
	var segmentID any
	if event.SegmentID != 0 {
		segmentID = int64(event.SegmentID)
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO index_commits
		(kind, generation, segment_id, added, deleted, segments, documents, duration_ms, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(event.Kind), int64(event.Generation), segmentID, event.Added, event.Deleted,
		event.Segments, event.Documents, event.DurationMs, event.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("recording commit %d: %w", event.Generation, err)
	}
	s.logger.Debug("commit recorded", "generation", event.Generation, "kind", event.Kind)
	return nil
}

// Recent returns the last limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT kind, generation, COALESCE(segment_id, 0), added, deleted, segments, documents, duration_ms, committed_at
		FROM index_commits ORDER BY generation DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e               Event
			kind            string
			generation, seg int64
		)
		if err := rows.Scan(&kind, &generation, &seg, &e.Added, &e.Deleted,
			&e.Segments, &e.Documents, &e.DurationMs, &e.CommittedAt); err != nil {
			return nil, fmt.Errorf("scanning commit row: %w", err)
		}
		e.Kind = Kind(kind)
		e.Generation = uint64(generation)
		e.SegmentID = uint64(seg)
		events = append(events, e)
	}
	return events, rows.Err()
}
