package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
)

// Store creates, opens, merges and removes segment files in one directory.
type Store struct {
	dir    string
	writer *Writer
	logger *slog.Logger
}

func NewStore(dir string, codec Codec) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating segment directory: %w", err)
	}
	return &Store{
		dir:    dir,
		writer: NewWriter(dir, codec),
		logger: slog.Default().With("component", "segment-store"),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Create builds an immutable segment from docs and persists it.
func (s *Store) Create(id uint64, docs []*document.EncodedDocument) (*Segment, error) {
	return s.persist(id, Build(docs))
}

// Merge writes the live documents of sources into a new segment.
func (s *Store) Merge(id uint64, sources []Source) (*Segment, error) {
	return s.persist(id, Merge(sources))
}

func (s *Store) persist(id uint64, data *Data) (*Segment, error) {
	start := time.Now()
	name, err := s.writer.Write(id, data)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("segment written",
		"segment", name,
		"docs", data.NumDocs(),
		"terms", data.TermCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return New(id, data), nil
}

// Open loads the segment with the given id for reading.
func (s *Store) Open(id uint64) (*Segment, error) {
	name := FileName(id)
	data, _, err := ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", name, err)
	}
	return New(id, data), nil
}

// Remove deletes the file of the segment with the given id.
func (s *Store) Remove(id uint64) error {
	err := os.Remove(filepath.Join(s.dir, FileName(id)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing segment %d: %w", id, err)
	}
	return nil
}

// List returns the ids of every segment file present, including leftovers
// from interrupted commits. Temporary files are removed.
func (s *Store) List() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading segment directory: %w", err)
	}
	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "seg_") {
			continue
		}
		if strings.HasSuffix(name, ".spdx.tmp") {
			os.Remove(filepath.Join(s.dir, name))
			continue
		}
		if !strings.HasSuffix(name, ".spdx") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "seg_"), ".spdx"), 10, 64)
		if err != nil {
			s.logger.Warn("ignoring unrecognised segment file", "file", name)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
