// Package manifest persists the metadata record naming the published
// segment set. The record is replaced atomically: a new file is written,
// synced and renamed over the old one.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/schema"
)

const (
	FileName       = "meta.json"
	CurrentVersion = 1
)

// Manifest describes one committed generation of the index.
type Manifest struct {
	Version       int            `json:"version"`
	Generation    uint64         `json:"generation"`
	NextSegmentID uint64         `json:"next_segment_id"`
	CommittedAt   time.Time      `json:"committed_at"`
	Schema        *schema.Schema `json:"schema,omitempty"`
	Segments      []SegmentInfo  `json:"segments"`
}

// SegmentInfo names one segment and its tombstones.
type SegmentInfo struct {
	ID       uint64 `json:"id"`
	DocCount int    `json:"doc_count"`
	// Deleted is a base64 roaring bitmap, empty when nothing is deleted.
	Deleted string `json:"deleted,omitempty"`
}

// EncodeDeleted serialises tombstones for a SegmentInfo.
func EncodeDeleted(bm *roaring.Bitmap) (string, error) {
	if bm == nil || bm.IsEmpty() {
		return "", nil
	}
	s, err := bm.ToBase64()
	if err != nil {
		return "", fmt.Errorf("encoding tombstones: %w", err)
	}
	return s, nil
}

// DecodeDeleted is the inverse of EncodeDeleted. It never returns nil.
func (s SegmentInfo) DecodeDeleted() (*roaring.Bitmap, error) {
	bm := roaring.New()
	if s.Deleted == "" {
		return bm, nil
	}
	if _, err := bm.FromBase64(s.Deleted); err != nil {
		return nil, fmt.Errorf("decoding tombstones of segment %d: %w", s.ID, err)
	}
	return bm, nil
}

// Store reads and writes the manifest file in one directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load returns the stored manifest, or nil if the index has never been
// committed.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, FileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, CurrentVersion)
	}
	return &m, nil
}

// Save atomically replaces the manifest with m.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	path := filepath.Join(s.dir, FileName)
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening manifest directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing manifest directory: %w", err)
	}
	return nil
}
