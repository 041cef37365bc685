// Package commitlog records every published commit and merge: in memory for
// the stats endpoint, in PostgreSQL for history, and on Kafka for
// downstream consumers.
package commitlog

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
)

type Kind string

const (
	KindCommit Kind = "commit"
	KindMerge  Kind = "merge"
)

// Event describes one published generation.
type Event struct {
	Kind        Kind      `json:"kind"`
	Generation  uint64    `json:"generation"`
	SegmentID   uint64    `json:"segment_id,omitempty"`
	Added       int       `json:"added"`
	Deleted     int       `json:"deleted"`
	Segments    int       `json:"segments"`
	Documents   int       `json:"documents"`
	DurationMs  int64     `json:"duration_ms"`
	CommittedAt time.Time `json:"committed_at"`
}

func FromOutcome(o indexer.CommitOutcome) Event {
	kind := KindCommit
	if o.Merged {
		kind = KindMerge
	}
	return Event{
		Kind:        kind,
		Generation:  o.Generation,
		SegmentID:   o.SegmentID,
		Added:       o.Added,
		Deleted:     o.Deleted,
		Segments:    o.Segments,
		Documents:   o.Documents,
		DurationMs:  o.Duration.Milliseconds(),
		CommittedAt: o.CommittedAt,
	}
}
