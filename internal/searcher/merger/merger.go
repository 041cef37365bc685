// Package merger keeps the best-ranked documents from several result lists.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/ranker"
)

// DefaultLimit replaces a limit below 1 in NewTopK and Merge.
const DefaultLimit = 10

// TopK collects at most limit documents, keeping the best by ranker.Less.
type TopK struct {
	limit int
	h     scoredDocHeap
}

func NewTopK(limit int) *TopK {
	if limit < 1 {
		limit = DefaultLimit
	}
	t := &TopK{limit: limit}
	heap.Init(&t.h)
	return t
}

func (t *TopK) Push(doc ranker.ScoredDoc) {
	if t.h.Len() < t.limit {
		heap.Push(&t.h, doc)
		return
	}
	// The heap root is the worst kept document.
	if ranker.Less(doc, t.h[0]) {
		t.h[0] = doc
		heap.Fix(&t.h, 0)
	}
}

func (t *TopK) Len() int {
	return t.h.Len()
}

// Results drains the collector, best first.
func (t *TopK) Results() []ranker.ScoredDoc {
	result := make([]ranker.ScoredDoc, t.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&t.h).(ranker.ScoredDoc)
	}
	return result
}

// Merge combines per-segment result lists into one list of at most limit
// documents, best first.
func Merge(segmentResults [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	top := NewTopK(limit)
	for _, results := range segmentResults {
		for _, doc := range results {
			top.Push(doc)
		}
	}
	return top.Results()
}

// scoredDocHeap is a min-heap: the root is the document ranked last.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	return ranker.Less(h[j], h[i])
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
