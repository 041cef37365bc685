package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/schema"
)

func TestLoadMissing(t *testing.T) {
	m, err := NewStore(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	deleted := roaring.BitmapOf(1, 5, 9)
	encoded, err := EncodeDeleted(deleted)
	require.NoError(t, err)

	in := &Manifest{
		Generation:    4,
		NextSegmentID: 12,
		CommittedAt:   time.Now().UTC().Truncate(time.Second),
		Schema:        schema.Blog(),
		Segments: []SegmentInfo{
			{ID: 3, DocCount: 10, Deleted: encoded},
			{ID: 11, DocCount: 2},
		},
	}
	require.NoError(t, store.Save(in))
	assert.NoFileExists(t, filepath.Join(dir, FileName+".tmp"))

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.Equal(t, uint64(4), out.Generation)
	assert.Equal(t, uint64(12), out.NextSegmentID)
	assert.True(t, in.CommittedAt.Equal(out.CommittedAt))
	assert.True(t, schema.Blog().Equal(out.Schema))
	require.Len(t, out.Segments, 2)

	bm, err := out.Segments[0].DecodeDeleted()
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 5, 9}, bm.ToArray())

	bm, err = out.Segments[1].DecodeDeleted()
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())
}

func TestSaveReplacesPrevious(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(&Manifest{Generation: 1}))
	require.NoError(t, store.Save(&Manifest{Generation: 2}))

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), out.Generation)
}

func TestLoadRejectsBadVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"version":99}`), 0644))
	_, err := NewStore(dir).Load()
	assert.Error(t, err)
}

func TestEncodeDeletedEmpty(t *testing.T) {
	s, err := EncodeDeleted(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = EncodeDeleted(roaring.New())
	require.NoError(t, err)
	assert.Empty(t, s)
}
