package executor

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
)

func buildSegment(t *testing.T, id uint64, raw ...string) *segment.Segment {
	t.Helper()
	enc, err := document.NewEncoder(schema.Blog(), analyzer.DefaultRegistry())
	require.NoError(t, err)
	docs := make([]*document.EncodedDocument, 0, len(raw))
	for _, r := range raw {
		doc, err := document.ParseJSON([]byte(r))
		require.NoError(t, err)
		e, err := enc.Encode(doc)
		require.NoError(t, err)
		docs = append(docs, e)
	}
	return segment.New(id, segment.Build(docs))
}

func query(t *testing.T, q string) parser.Query {
	t.Helper()
	parsed, err := parser.Parse(q, parser.Options{
		Schema:        schema.Blog(),
		Analyzers:     analyzer.DefaultRegistry(),
		DefaultFields: schema.DefaultSearchFields,
	})
	require.NoError(t, err)
	return parsed
}

func ids(res *Result) []string {
	out := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		out[i] = h.ID
	}
	return out
}

func twoSegmentSnapshot(t *testing.T, deleted *roaring.Bitmap) *snapshot.Snapshot {
	first := buildSegment(t, 1,
		`{"id":"a","title":"Rust 搜索引擎","tags":["rust","search"],"create_at":100,"features":{"lang":"zh"}}`,
		`{"id":"b","title":"Go search","tags":["go"],"create_at":200,"features":{"lang":"en","length":12}}`,
	)
	second := buildSegment(t, 2,
		`{"id":"c","title":"Rust Rust Rust","tags":["rust"],"create_at":300,"status":"draft"}`,
	)
	snap := snapshot.New(1, []snapshot.Entry{
		{Segment: first, Deleted: deleted},
		{Segment: second},
	})
	first.Release()
	second.Release()
	t.Cleanup(snap.Release)
	return snap
}

func TestExecuteAcrossSegments(t *testing.T) {
	snap := twoSegmentSnapshot(t, nil)
	res, err := New().Execute(context.Background(), query(t, "tags:rust"), snap, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalHits)
	assert.ElementsMatch(t, []string{"a", "c"}, ids(res))
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 2, res.Segments)
	for _, h := range res.Hits {
		assert.Greater(t, h.Score, 0.0)
	}
}

func TestExecuteRespectsTombstones(t *testing.T) {
	deleted := roaring.New()
	deleted.Add(0)
	snap := twoSegmentSnapshot(t, deleted)

	res, err := New().Execute(context.Background(), query(t, "tags:rust"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(res))

	res, err = New().Execute(context.Background(), query(t, "*"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalHits)
}

func TestExecuteNestedPaths(t *testing.T) {
	snap := twoSegmentSnapshot(t, nil)
	ex := New()

	res, err := ex.Execute(context.Background(), query(t, "features.lang:zh"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res))

	res, err = ex.Execute(context.Background(), query(t, "features.lang:fr"), snap, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	res, err = ex.Execute(context.Background(), query(t, "features:en"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res))

	res, err = ex.Execute(context.Background(), query(t, "features.length:[10 TO 20]"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res))
}

func TestExecuteBooleanAndRange(t *testing.T) {
	snap := twoSegmentSnapshot(t, nil)
	ex := New()

	res, err := ex.Execute(context.Background(), query(t, "tags:rust -status:draft"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(res))

	res, err = ex.Execute(context.Background(), query(t, "create_at:>=200"), snap, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, ids(res))

	res, err = ex.Execute(context.Background(), query(t, "-tags:go"), snap, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, ids(res))

	res, err = ex.Execute(context.Background(), query(t, "tags:rust AND create_at:[250 TO *]"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(res))
}

func TestExecuteRankingAndLimit(t *testing.T) {
	snap := twoSegmentSnapshot(t, nil)
	res, err := New().Execute(context.Background(), query(t, "title:rust"), snap, 1)
	require.NoError(t, err)

	require.Len(t, res.Hits, 1)
	assert.Equal(t, 2, res.TotalHits)
	assert.Equal(t, "c", res.Hits[0].ID)
}

func TestExecuteTiesBreakByID(t *testing.T) {
	seg := buildSegment(t, 1,
		`{"id":"z","tags":["same"]}`,
		`{"id":"m","tags":["same"]}`,
		`{"id":"b","tags":["same"]}`,
	)
	snap := snapshot.New(1, []snapshot.Entry{{Segment: seg}})
	seg.Release()
	defer snap.Release()

	res, err := New().Execute(context.Background(), query(t, "tags:same"), snap, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "m", "z"}, ids(res))
}

func TestExecuteReturnsStoredFields(t *testing.T) {
	snap := twoSegmentSnapshot(t, nil)
	res, err := New().Execute(context.Background(), query(t, "status:draft"), snap, 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)

	fields := res.Hits[0].Fields
	assert.True(t, fields["title"].Equal(document.String("Rust Rust Rust")))
	assert.True(t, fields["create_at"].Equal(document.Int(300)))
}

func TestExecuteEmptySnapshot(t *testing.T) {
	snap := snapshot.Empty()
	defer snap.Release()
	res, err := New().Execute(context.Background(), query(t, "rust"), snap, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Zero(t, res.TotalHits)
}

func TestExecuteRejectsNonPositiveLimit(t *testing.T) {
	snap := twoSegmentSnapshot(t, nil)
	for _, limit := range []int{0, -1} {
		res, err := New().Execute(context.Background(), query(t, "*"), snap, limit)
		assert.ErrorIs(t, err, ErrInvalidLimit)
		assert.Nil(t, res)
	}
}

func TestExecuteCancelled(t *testing.T) {
	snap := twoSegmentSnapshot(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Execute(ctx, query(t, "rust"), snap, 10)
	assert.ErrorIs(t, err, context.Canceled)
}
