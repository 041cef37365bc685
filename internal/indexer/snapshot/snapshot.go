// Package snapshot provides the immutable, reference-counted view of the
// index that searches run against, and the holder through which a new view
// is published atomically.
package snapshot

import (
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/segment"
)

// Entry pairs a segment with the tombstones that apply to it in one
// snapshot. Deleted is never mutated after the snapshot is built.
type Entry struct {
	Segment *segment.Segment
	Deleted *roaring.Bitmap
}

// LiveDocs is the number of documents in the segment not tombstoned.
func (e Entry) LiveDocs() int {
	n := e.Segment.NumDocs()
	if e.Deleted != nil {
		n -= int(e.Deleted.GetCardinality())
	}
	return n
}

// IsDeleted reports whether doc is tombstoned.
func (e Entry) IsDeleted(doc uint32) bool {
	return e.Deleted != nil && e.Deleted.Contains(doc)
}

// Snapshot is an ordered list of segments, oldest first, with their
// tombstones. The publisher holds one reference; every reader acquires its
// own for the duration of a query.
type Snapshot struct {
	generation uint64
	entries    []Entry
	createdAt  time.Time
	liveDocs   int
	refs       atomic.Int64
}

// New builds a snapshot and retains every segment in entries.
func New(generation uint64, entries []Entry) *Snapshot {
	s := &Snapshot{
		generation: generation,
		entries:    entries,
		createdAt:  time.Now(),
	}
	for _, e := range entries {
		e.Segment.Retain()
		s.liveDocs += e.LiveDocs()
	}
	s.refs.Store(1)
	return s
}

// Empty returns a generation-0 snapshot with no segments.
func Empty() *Snapshot {
	return New(0, nil)
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

func (s *Snapshot) CreatedAt() time.Time {
	return s.createdAt
}

// Entries returns the segments in commit order. Callers must not modify the
// returned slice.
func (s *Snapshot) Entries() []Entry {
	return s.entries
}

func (s *Snapshot) SegmentCount() int {
	return len(s.entries)
}

// DocumentCount is the number of live documents.
func (s *Snapshot) DocumentCount() int {
	return s.liveDocs
}

// Find locates the live document with the given identifier.
func (s *Snapshot) Find(id string) (segIdx int, doc uint32, ok bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if d, found := e.Segment.Lookup(id); found && !e.IsDeleted(d) {
			return i, d, true
		}
	}
	return 0, 0, false
}

// Contains reports whether a live document with the given identifier exists.
func (s *Snapshot) Contains(id string) bool {
	_, _, ok := s.Find(id)
	return ok
}

// TryRetain acquires a reference unless the snapshot has already been
// released by everyone.
func (s *Snapshot) TryRetain() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release drops one reference; the last one releases every segment.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	for _, e := range s.entries {
		e.Segment.Release()
	}
}

func (s *Snapshot) Refs() int64 {
	return s.refs.Load()
}

// Holder publishes the current snapshot. It only supports loading the
// current value and replacing it.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder creates a holder owning initial.
func NewHolder(initial *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(initial)
	return h
}

// Load returns the current snapshot with a reference the caller must
// Release. It never blocks on writers.
func (h *Holder) Load() *Snapshot {
	for {
		s := h.current.Load()
		if s.TryRetain() {
			return s
		}
	}
}

// Publish swaps in next, which must carry the publisher's reference, and
// releases the holder's reference on the previous snapshot.
func (h *Holder) Publish(next *Snapshot) {
	prev := h.current.Swap(next)
	if prev != nil {
		prev.Release()
	}
}

// Peek returns the current snapshot without acquiring a reference. The
// result is only safe to inspect while the caller serializes publishes.
func (h *Holder) Peek() *Snapshot {
	return h.current.Load()
}
