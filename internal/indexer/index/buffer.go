// Package index holds the write buffer: encoded documents and delete markers
// accumulated since the last commit. Nothing in the buffer is visible to
// searches until a commit freezes it into a segment.
package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
)

// Buffer is not safe for concurrent use; the engine serializes access.
type Buffer struct {
	epoch   uint64
	docs    []*document.EncodedDocument
	live    map[string]int
	deletes map[string]struct{}
	size    int64
}

func NewBuffer(epoch uint64) *Buffer {
	return &Buffer{
		epoch:   epoch,
		live:    make(map[string]int),
		deletes: make(map[string]struct{}),
	}
}

// Add buffers doc. A document already buffered under the same identifier in
// this epoch is replaced.
func (b *Buffer) Add(doc *document.EncodedDocument) {
	if idx, ok := b.live[doc.ID]; ok {
		b.size -= estimateSize(b.docs[idx])
		b.docs[idx] = nil
	}
	b.live[doc.ID] = len(b.docs)
	b.docs = append(b.docs, doc)
	b.size += estimateSize(doc)
}

// Delete drops any buffered add for id and records a marker that the next
// commit applies to every previously published segment. It reports whether a
// buffered add was dropped.
func (b *Buffer) Delete(id string) bool {
	b.deletes[id] = struct{}{}
	idx, ok := b.live[id]
	if !ok {
		return false
	}
	b.size -= estimateSize(b.docs[idx])
	b.docs[idx] = nil
	delete(b.live, id)
	return true
}

// Contains reports whether an add for id is buffered.
func (b *Buffer) Contains(id string) bool {
	_, ok := b.live[id]
	return ok
}

// Deleting reports whether a delete marker for id is buffered.
func (b *Buffer) Deleting(id string) bool {
	_, ok := b.deletes[id]
	return ok
}

// Len is the number of buffered documents.
func (b *Buffer) Len() int {
	return len(b.live)
}

// PendingDeletes is the number of delete markers awaiting commit.
func (b *Buffer) PendingDeletes() int {
	return len(b.deletes)
}

// Size is an estimate of the buffered bytes.
func (b *Buffer) Size() int64 {
	return b.size
}

func (b *Buffer) Epoch() uint64 {
	return b.epoch
}

func (b *Buffer) Empty() bool {
	return len(b.live) == 0 && len(b.deletes) == 0
}

// Freeze hands the current contents to the caller and resets the buffer
// for the next epoch.
func (b *Buffer) Freeze() *FrozenBuffer {
	frozen := &FrozenBuffer{
		Epoch:   b.epoch,
		Docs:    make([]*document.EncodedDocument, 0, len(b.live)),
		Deletes: make([]string, 0, len(b.deletes)),
		ids:     make(map[string]struct{}, len(b.live)),
	}
	for _, doc := range b.docs {
		if doc == nil {
			continue
		}
		frozen.Docs = append(frozen.Docs, doc)
		frozen.ids[doc.ID] = struct{}{}
	}
	for id := range b.deletes {
		frozen.Deletes = append(frozen.Deletes, id)
	}
	sort.Strings(frozen.Deletes)

	b.epoch++
	b.docs = nil
	b.live = make(map[string]int)
	b.deletes = make(map[string]struct{})
	b.size = 0
	return frozen
}

// FrozenBuffer is one epoch's worth of writes, immutable once frozen.
type FrozenBuffer struct {
	Epoch   uint64
	Docs    []*document.EncodedDocument
	Deletes []string
	ids     map[string]struct{}
}

func (f *FrozenBuffer) Empty() bool {
	return f == nil || (len(f.Docs) == 0 && len(f.Deletes) == 0)
}

// Contains reports whether the frozen epoch adds a document for id.
func (f *FrozenBuffer) Contains(id string) bool {
	if f == nil {
		return false
	}
	_, ok := f.ids[id]
	return ok
}

// Deleting reports whether the frozen epoch carries a delete marker for id.
func (f *FrozenBuffer) Deleting(id string) bool {
	if f == nil {
		return false
	}
	i := sort.SearchStrings(f.Deletes, id)
	return i < len(f.Deletes) && f.Deletes[i] == id
}

func estimateSize(doc *document.EncodedDocument) int64 {
	size := int64(len(doc.ID) + 64)
	for _, e := range doc.Entries {
		size += int64(len(e.Path) + len(e.Term) + 32)
	}
	return size
}
