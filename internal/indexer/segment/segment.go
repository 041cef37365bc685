// Package segment implements the immutable on-disk units of the index:
// building them from a frozen write buffer, persisting and reopening them,
// and merging several into one.
package segment

import (
	"sync"
	"sync/atomic"
)

// Segment is a reference-counted handle on immutable segment data. The
// creator holds the initial reference; every snapshot that includes the
// segment holds one more.
type Segment struct {
	*Data
	id   uint64
	name string

	refs      atomic.Int64
	mu        sync.Mutex
	onRelease func()
}

// New wraps data as segment id with one reference held by the caller.
func New(id uint64, data *Data) *Segment {
	s := &Segment{Data: data, id: id, name: FileName(id)}
	s.refs.Store(1)
	return s
}

func (s *Segment) ID() uint64 {
	return s.id
}

func (s *Segment) Name() string {
	return s.name
}

func (s *Segment) Retain() {
	s.refs.Add(1)
}

// Release drops one reference. The last release runs the release callback.
func (s *Segment) Release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.mu.Lock()
	f := s.onRelease
	s.mu.Unlock()
	if f != nil {
		f()
	}
}

// Refs is the current reference count.
func (s *Segment) Refs() int64 {
	return s.refs.Load()
}

// SetOnRelease registers f to run once the last reference is dropped,
// typically to delete the file of a merged-away segment.
func (s *Segment) SetOnRelease(f func()) {
	s.mu.Lock()
	s.onRelease = f
	s.mu.Unlock()
}
