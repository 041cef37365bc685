// Package indexer owns one index instance: the write buffer that collects
// documents between commits, the published snapshot that searches read, and
// the commit and merge cycles that move data from one to the other.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/analyzer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/manifest"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/schema"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
)

var ErrClosed = errors.New("index is closed")

// SegmentStore creates, opens and removes segment files.
type SegmentStore interface {
	Create(id uint64, docs []*document.EncodedDocument) (*segment.Segment, error)
	Merge(id uint64, sources []segment.Source) (*segment.Segment, error)
	Open(id uint64) (*segment.Segment, error)
	Remove(id uint64) error
	List() ([]uint64, error)
}

// ManifestStore persists the metadata record.
type ManifestStore interface {
	Load() (*manifest.Manifest, error)
	Save(m *manifest.Manifest) error
}

// Option customises an Engine at open time.
type Option func(*Engine)

func WithAnalyzers(r *analyzer.Registry) Option {
	return func(e *Engine) { e.analyzers = r }
}

func WithSegmentStore(s SegmentStore) Option {
	return func(e *Engine) { e.segments = s }
}

func WithManifestStore(s ManifestStore) Option {
	return func(e *Engine) { e.manifests = s }
}

// WithDefaultFields sets the fields bare query terms search when the caller
// names none.
func WithDefaultFields(fields []string) Option {
	return func(e *Engine) { e.defaultFields = fields }
}

// Stats describes the engine at one instant.
type Stats struct {
	DocumentCount        int       `json:"document_count"`
	SegmentCount         int       `json:"segment_count"`
	PendingBufferedCount int       `json:"pending_buffered_count"`
	PendingDeletes       int       `json:"pending_deletes"`
	Generation           uint64    `json:"generation"`
	CommitState          string    `json:"commit_state"`
	LastCommitTimestamp  time.Time `json:"last_commit_timestamp"`
	LastCommitError      string    `json:"last_commit_error,omitempty"`
}

type Engine struct {
	cfg           config.IndexerConfig
	schema        *schema.Schema
	analyzers     *analyzer.Registry
	encoder       *document.Encoder
	executor      *executor.Executor
	defaultFields []string
	segments      SegmentStore
	manifests     ManifestStore
	holder        *snapshot.Holder
	logger        *slog.Logger

	// writeMu serialises buffer mutation. It is never held across a commit.
	writeMu  sync.Mutex
	buffer   *index.Buffer
	inflight *index.FrozenBuffer

	// commitMu serialises commits, merges and publishes.
	commitMu      sync.Mutex
	nextSegmentID uint64
	state         atomic.Int32

	statusMu   sync.Mutex
	lastCommit time.Time
	lastErr    error

	listenersMu      sync.RWMutex
	listeners        []CommitListener
	failureListeners []func(*CommitError)

	commitSignal chan struct{}
	closed       atomic.Bool
}

// Open opens the index in cfg.DataDir, creating it if needed. A nil schema
// selects schema.Blog. Opening an existing index with a different schema
// fails with schema.ErrSchemaMismatch.
func Open(cfg config.IndexerConfig, sch *schema.Schema, opts ...Option) (*Engine, error) {
	if sch == nil {
		sch = schema.Blog()
	}
	e := &Engine{
		cfg:           cfg,
		schema:        sch,
		executor:      executor.New(),
		defaultFields: schema.DefaultSearchFields,
		logger:        slog.Default().With("component", "indexer"),
		commitSignal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.analyzers == nil {
		e.analyzers = analyzer.DefaultRegistry()
	}
	if err := sch.CheckAnalyzers(e.analyzers.Has); err != nil {
		return nil, err
	}
	enc, err := document.NewEncoder(sch, e.analyzers)
	if err != nil {
		return nil, err
	}
	e.encoder = enc
	if err := e.validateDefaultFields(); err != nil {
		return nil, err
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating index data directory: %w", err)
		}
	}
	if e.segments == nil {
		codec, err := segment.ParseCodec(cfg.Codec)
		if err != nil {
			return nil, err
		}
		store, err := segment.NewStore(cfg.DataDir, codec)
		if err != nil {
			return nil, err
		}
		e.segments = store
	}
	if e.manifests == nil {
		e.manifests = manifest.NewStore(cfg.DataDir)
	}

	if err := e.recover(); err != nil {
		return nil, fmt.Errorf("recovering index: %w", err)
	}
	e.buffer = index.NewBuffer(e.holder.Peek().Generation() + 1)
	return e, nil
}

func (e *Engine) validateDefaultFields() error {
	for _, name := range e.defaultFields {
		if _, err := e.schema.Resolve(name); err != nil {
			return fmt.Errorf("default search field %q: %w", name, err)
		}
	}
	return nil
}

// recover publishes the segment set named by the manifest and removes
// segment files no manifest references.
func (e *Engine) recover() error {
	m, err := e.manifests.Load()
	if err != nil {
		return err
	}

	var generation uint64
	var entries []snapshot.Entry
	e.nextSegmentID = 1
	if m != nil {
		if m.Schema != nil {
			if err := e.schema.Compatible(m.Schema); err != nil {
				return err
			}
		}
		generation = m.Generation
		e.nextSegmentID = m.NextSegmentID
		e.lastCommit = m.CommittedAt
		for _, info := range m.Segments {
			seg, err := e.segments.Open(info.ID)
			if err != nil {
				releaseAll(entries)
				return err
			}
			deleted, err := info.DecodeDeleted()
			if err != nil {
				seg.Release()
				releaseAll(entries)
				return err
			}
			if deleted.IsEmpty() {
				deleted = nil
			}
			entries = append(entries, snapshot.Entry{Segment: seg, Deleted: deleted})
		}
	}

	snap := snapshot.New(generation, entries)
	releaseAll(entries)
	e.holder = snapshot.NewHolder(snap)

	referenced := make(map[uint64]bool, len(entries))
	for _, entry := range entries {
		referenced[entry.Segment.ID()] = true
	}
	ids, err := e.segments.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id >= e.nextSegmentID {
			e.nextSegmentID = id + 1
		}
		if referenced[id] {
			continue
		}
		if err := e.segments.Remove(id); err != nil {
			e.logger.Warn("failed to remove orphaned segment", "segment", segment.FileName(id), "error", err)
			continue
		}
		e.logger.Info("removed orphaned segment", "segment", segment.FileName(id))
	}

	if m == nil {
		if err := e.manifests.Save(e.manifestFor(0, nil)); err != nil {
			return err
		}
	}
	e.logger.Info("index opened",
		"generation", generation,
		"segments", snap.SegmentCount(),
		"documents", snap.DocumentCount(),
	)
	return nil
}

func releaseAll(entries []snapshot.Entry) {
	for _, entry := range entries {
		entry.Segment.Release()
	}
}

func (e *Engine) Schema() *schema.Schema {
	return e.schema
}

func (e *Engine) Analyzers() *analyzer.Registry {
	return e.analyzers
}

// IndexDocument encodes doc and buffers it, replacing any earlier document
// with the same identifier once committed. The document becomes searchable
// after the next commit.
func (e *Engine) IndexDocument(doc document.Document) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	encoded, err := e.encoder.Encode(doc)
	if err != nil {
		return "", err
	}

	e.writeMu.Lock()
	e.buffer.Delete(encoded.ID)
	e.buffer.Add(encoded)
	size := e.buffer.Size()
	e.writeMu.Unlock()

	if e.cfg.MaxBufferBytes > 0 && size >= e.cfg.MaxBufferBytes {
		e.requestCommit()
	}
	e.logger.Debug("document buffered", "doc_id", encoded.ID, "entries", len(encoded.Entries), "buffer_bytes", size)
	return encoded.ID, nil
}

// DeleteDocument removes id from the index at the next commit, along with
// any not-yet-committed add for it. It reports whether a document with that
// identifier existed in the published snapshot or was pending, and was not
// already marked for deletion.
func (e *Engine) DeleteDocument(id string) (bool, error) {
	if e.closed.Load() {
		return false, ErrClosed
	}
	if id == "" {
		return false, document.ErrMissingIdentifier
	}

	e.writeMu.Lock()
	marked := e.buffer.Deleting(id)
	buffered := e.buffer.Delete(id)
	pending := e.inflight.Contains(id)
	committing := e.inflight.Deleting(id)
	e.writeMu.Unlock()
	switch {
	case buffered:
		return true, nil
	case marked:
		return false, nil
	case pending:
		return true, nil
	case committing:
		return false, nil
	}

	snap := e.holder.Load()
	defer snap.Release()
	return snap.Contains(id), nil
}

// Search parses query and runs it against the snapshot published when the
// call starts, returning at most limit hits. A limit below 1 fails with
// executor.ErrInvalidLimit. An empty defaultFields uses the engine's
// defaults.
func (e *Engine) Search(ctx context.Context, query string, limit int, defaultFields []string) (*executor.Result, error) {
	q, err := e.Parse(query, defaultFields)
	if err != nil {
		return nil, err
	}
	snap := e.holder.Load()
	defer snap.Release()
	return e.ExecuteOn(ctx, q, snap, limit)
}

// Parse validates query against the schema without running it.
func (e *Engine) Parse(query string, defaultFields []string) (parser.Query, error) {
	return parser.Parse(query, e.parseOptions(defaultFields))
}

// ExecuteOn runs q against snap, which the caller has loaded with Snapshot
// and still holds.
func (e *Engine) ExecuteOn(ctx context.Context, q parser.Query, snap *snapshot.Snapshot, limit int) (*executor.Result, error) {
	return e.executor.Execute(ctx, q, snap, limit)
}

func (e *Engine) parseOptions(defaultFields []string) parser.Options {
	if len(defaultFields) == 0 {
		defaultFields = e.defaultFields
	}
	return parser.Options{
		Schema:        e.schema,
		Analyzers:     e.analyzers,
		DefaultFields: defaultFields,
	}
}

// Get returns the stored fields of the live document with identifier id.
func (e *Engine) Get(id string) (map[string]document.Value, bool) {
	snap := e.holder.Load()
	defer snap.Release()
	segIdx, doc, ok := snap.Find(id)
	if !ok {
		return nil, false
	}
	return snap.Entries()[segIdx].Segment.StoredFields(doc), true
}

// Analyze runs the named analyzer over text.
func (e *Engine) Analyze(name, text string) ([]analyzer.Token, error) {
	return e.analyzers.Analyze(name, text)
}

// Snapshot returns the current snapshot. The caller must Release it.
func (e *Engine) Snapshot() *snapshot.Snapshot {
	return e.holder.Load()
}

func (e *Engine) Stats() Stats {
	snap := e.holder.Load()
	defer snap.Release()

	e.writeMu.Lock()
	pending := e.buffer.Len()
	if e.inflight != nil {
		pending += len(e.inflight.Docs)
	}
	deletes := e.buffer.PendingDeletes()
	e.writeMu.Unlock()

	e.statusMu.Lock()
	lastCommit, lastErr := e.lastCommit, e.lastErr
	e.statusMu.Unlock()

	st := Stats{
		DocumentCount:        snap.DocumentCount(),
		SegmentCount:         snap.SegmentCount(),
		PendingBufferedCount: pending,
		PendingDeletes:       deletes,
		Generation:           snap.Generation(),
		CommitState:          e.State().String(),
		LastCommitTimestamp:  lastCommit,
	}
	if lastErr != nil {
		st.LastCommitError = lastErr.Error()
	}
	return st
}

// Close commits whatever is buffered. Later writes fail with ErrClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	_, err := e.commit(context.Background())
	if err != nil {
		e.logger.Error("final commit on close failed", "error", err)
		return err
	}
	e.logger.Info("index closed", "generation", e.holder.Peek().Generation())
	return nil
}
