// Package executor evaluates a parsed query against one snapshot: every
// segment is searched in parallel with snapshot-wide scoring statistics, and
// the per-segment top results are merged.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/ranker"
)

// ErrInvalidLimit is returned for a limit below 1.
var ErrInvalidLimit = errors.New("limit must be at least 1")

// Hit is one ranked document with its stored fields.
type Hit struct {
	ID     string                    `json:"id"`
	Score  float64                   `json:"score"`
	Fields map[string]document.Value `json:"fields"`
}

// Result is the outcome of one query.
type Result struct {
	Query      string `json:"query"`
	TotalHits  int    `json:"total_hits"`
	Hits       []Hit  `json:"hits"`
	Generation uint64 `json:"generation"`
	Segments   int    `json:"segments"`
	TookMs     int64  `json:"took_ms"`
}

// Executor runs queries. It holds no per-query state.
type Executor struct {
	logger *slog.Logger
}

func New() *Executor {
	return &Executor{
		logger: slog.Default().With("component", "query-executor"),
	}
}

type segmentResult struct {
	top   []ranker.ScoredDoc
	total int
}

// Execute evaluates q against snap and returns at most limit hits ordered
// by score, then identifier. The caller keeps ownership of snap.
func (e *Executor) Execute(ctx context.Context, q parser.Query, snap *snapshot.Snapshot, limit int) (*Result, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	start := time.Now()
	entries := snap.Entries()
	stats := collectStats(q, entries)

	results := make([]segmentResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ev := &evaluator{entry: entries[i], stats: stats}
			matched, scores := ev.eval(q)
			if entries[i].Deleted != nil {
				matched.AndNot(entries[i].Deleted)
			}
			top := merger.NewTopK(limit)
			it := matched.Iterator()
			for it.HasNext() {
				doc := it.Next()
				top.Push(ranker.ScoredDoc{
					DocID:   entries[i].Segment.DocID(doc),
					Score:   scores[doc],
					Segment: i,
					Doc:     doc,
				})
			}
			results[i] = segmentResult{top: top.Results(), total: int(matched.GetCardinality())}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	lists := make([][]ranker.ScoredDoc, len(results))
	total := 0
	for i, r := range results {
		lists[i] = r.top
		total += r.total
	}
	ranked := merger.Merge(lists, limit)
	hits := make([]Hit, len(ranked))
	for i, doc := range ranked {
		hits[i] = Hit{
			ID:     doc.DocID,
			Score:  ranker.Round(doc.Score),
			Fields: entries[doc.Segment].Segment.StoredFields(doc.Doc),
		}
	}

	res := &Result{
		Query:      q.String(),
		TotalHits:  total,
		Hits:       hits,
		Generation: snap.Generation(),
		Segments:   len(entries),
		TookMs:     time.Since(start).Milliseconds(),
	}
	e.logger.Debug("query executed",
		"query", res.Query,
		"generation", res.Generation,
		"segments", res.Segments,
		"total_hits", total,
		"results", len(hits),
	)
	return res, nil
}

type pathTerm struct {
	path string
	term string
}

// globalStats are computed once per query over every segment of the
// snapshot so that scores are comparable across segments.
type globalStats struct {
	totalDocs int64
	docFreq   map[pathTerm]int64
	avgLength map[string]float64
}

func (s *globalStats) term(path, term string) ranker.TermStats {
	return ranker.TermStats{
		TotalDocs:    s.totalDocs,
		DocFreq:      s.docFreq[pathTerm{path, term}],
		AvgDocLength: s.avgLength[path],
	}
}

func collectStats(q parser.Query, entries []snapshot.Entry) *globalStats {
	stats := &globalStats{
		docFreq:   make(map[pathTerm]int64),
		avgLength: make(map[string]float64),
	}
	fieldDocs := make(map[string]int64)
	fieldTokens := make(map[string]int64)
	seenPath := make(map[string]bool)
	for _, e := range entries {
		stats.totalDocs += int64(e.Segment.NumDocs())
	}
	for _, tq := range parser.Terms(q) {
		for _, e := range entries {
			for _, path := range termPaths(e.Segment, tq) {
				stats.docFreq[pathTerm{path, tq.Term}] += int64(len(e.Segment.TermPostings(path, tq.Term)))
				seenPath[path] = true
			}
		}
	}
	for path := range seenPath {
		for _, e := range entries {
			fs := e.Segment.FieldStats(path)
			fieldDocs[path] += fs.Docs
			fieldTokens[path] += fs.Tokens
		}
		if fieldDocs[path] > 0 {
			stats.avgLength[path] = float64(fieldTokens[path]) / float64(fieldDocs[path])
		}
	}
	return stats
}

// termPaths lists the concrete paths a term query reads in seg.
func termPaths(seg *segment.Segment, tq *parser.TermQuery) []string {
	if !tq.AnyPath {
		return []string{tq.Path}
	}
	prefix := tq.Path + "."
	var paths []string
	for path, terms := range seg.Postings {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if _, ok := terms[tq.Term]; ok {
			paths = append(paths, path)
		}
	}
	return paths
}

type evaluator struct {
	entry snapshot.Entry
	stats *globalStats
}

func (ev *evaluator) all() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(ev.entry.Segment.NumDocs()))
	return bm
}

// eval returns the matching documents of q in this segment and their
// scores. Tombstones are applied by the caller.
func (ev *evaluator) eval(q parser.Query) (*roaring.Bitmap, map[uint32]float64) {
	seg := ev.entry.Segment
	switch n := q.(type) {
	case *parser.TermQuery:
		matched := roaring.New()
		scores := make(map[uint32]float64)
		for _, path := range termPaths(seg, n) {
			st := ev.stats.term(path, n.Term)
			idf := st.IDF()
			for _, p := range seg.TermPostings(path, n.Term) {
				matched.Add(p.Doc)
				scores[p.Doc] += ranker.Score(idf, p.Frequency, seg.FieldLength(path, p.Doc), st.AvgDocLength)
			}
		}
		return matched, scores
	case *parser.RangeQuery:
		r := segment.Range{Lo: n.Lo, Hi: n.Hi, LoInclusive: n.LoInclusive, HiInclusive: n.HiInclusive}
		return seg.NumericRange(n.Path, r), nil
	case parser.AllQuery:
		return ev.all(), nil
	case *parser.BoolQuery:
		return ev.evalBool(n)
	default:
		return roaring.New(), nil
	}
}

func (ev *evaluator) evalBool(q *parser.BoolQuery) (*roaring.Bitmap, map[uint32]float64) {
	scores := make(map[uint32]float64)
	var matched *roaring.Bitmap
	intersect := func(bm *roaring.Bitmap) {
		if matched == nil {
			matched = bm
			return
		}
		matched.And(bm)
	}
	addScores := func(s map[uint32]float64) {
		for doc, v := range s {
			scores[doc] += v
		}
	}

	for _, c := range q.Must {
		bm, s := ev.eval(c)
		intersect(bm)
		addScores(s)
	}
	for _, c := range q.Filter {
		bm, _ := ev.eval(c)
		intersect(bm)
	}
	should := roaring.New()
	for _, c := range q.Should {
		bm, s := ev.eval(c)
		should.Or(bm)
		addScores(s)
	}
	switch {
	case matched != nil:
	case len(q.Should) > 0:
		matched = should
	default:
		matched = ev.all()
	}
	for _, c := range q.MustNot {
		bm, _ := ev.eval(c)
		matched.AndNot(bm)
	}
	for doc := range scores {
		if !matched.Contains(doc) {
			delete(scores, doc)
		}
	}
	return matched, scores
}
