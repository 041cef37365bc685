package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/manifest"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/snapshot"
)

// CommitState is the phase of the commit cycle.
type CommitState int32

const (
	StateIdle CommitState = iota
	StateFreezing
	StateBuilding
	StatePublishing
)

func (s CommitState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFreezing:
		return "freezing"
	case StateBuilding:
		return "building"
	case StatePublishing:
		return "publishing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Commit stages reported in CommitError.
const (
	StageBuild   = "build"
	StagePublish = "publish"
	StageMerge   = "merge"
)

// CommitError reports a failed commit or merge. The previously published
// snapshot stays current.
type CommitError struct {
	Stage string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed during %s: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// CommitOutcome describes one commit or merge.
type CommitOutcome struct {
	Generation  uint64        `json:"generation"`
	NoOp        bool          `json:"no_op"`
	Merged      bool          `json:"merged"`
	SegmentID   uint64        `json:"segment_id,omitempty"`
	Added       int           `json:"added"`
	Deleted     int           `json:"deleted"`
	Segments    int           `json:"segments"`
	Documents   int           `json:"documents"`
	Duration    time.Duration `json:"duration_ns"`
	CommittedAt time.Time     `json:"committed_at"`
}

// CommitListener is called after every successful publish, in commit order.
type CommitListener func(CommitOutcome)

// OnCommit registers fn to run after each publish.
func (e *Engine) OnCommit(fn CommitListener) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenersMu.Unlock()
}

// OnCommitFailure registers fn to run after each failed commit or merge.
func (e *Engine) OnCommitFailure(fn func(*CommitError)) {
	e.listenersMu.Lock()
	e.failureListeners = append(e.failureListeners, fn)
	e.listenersMu.Unlock()
}

func (e *Engine) notify(outcome CommitOutcome) {
	e.listenersMu.RLock()
	listeners := e.listeners
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(outcome)
	}
}

func (e *Engine) State() CommitState {
	return CommitState(e.state.Load())
}

func (e *Engine) setState(s CommitState) {
	e.state.Store(int32(s))
}

// Flush commits the write buffer now and publishes the result. A commit
// with nothing buffered is a no-op reporting the current generation.
func (e *Engine) Flush(ctx context.Context) (CommitOutcome, error) {
	if e.closed.Load() {
		return CommitOutcome{}, ErrClosed
	}
	return e.commit(ctx)
}

func (e *Engine) commit(ctx context.Context) (CommitOutcome, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	outcome, err := e.commitLocked(ctx)
	if err != nil {
		return outcome, err
	}
	if !outcome.NoOp && e.shouldMerge() {
		if _, err := e.mergeLocked(ctx); err != nil {
			e.logger.Error("merge after commit failed", "error", err)
		}
	}
	return outcome, nil
}

func (e *Engine) commitLocked(ctx context.Context) (CommitOutcome, error) {
	// A caller that gave up leaves the buffer untouched; once frozen, the
	// epoch is committed regardless of ctx.
	if err := ctx.Err(); err != nil {
		return CommitOutcome{}, fmt.Errorf("commit not started: %w", err)
	}
	start := time.Now()
	defer e.setState(StateIdle)

	e.setState(StateFreezing)
	e.writeMu.Lock()
	frozen := e.buffer.Freeze()
	if !frozen.Empty() {
		e.inflight = frozen
	}
	e.writeMu.Unlock()
	defer func() {
		e.writeMu.Lock()
		e.inflight = nil
		e.writeMu.Unlock()
	}()

	current := e.holder.Peek()
	if frozen.Empty() {
		return CommitOutcome{
			Generation: current.Generation(),
			NoOp:       true,
			Segments:   current.SegmentCount(),
			Documents:  current.DocumentCount(),
		}, nil
	}
	e.setState(StateBuilding)
	var created *segment.Segment
	if len(frozen.Docs) > 0 {
		id := e.nextSegmentID
		e.nextSegmentID++
		seg, err := e.segments.Create(id, frozen.Docs)
		if err != nil {
			e.removeSegmentFile(id)
			return CommitOutcome{}, e.fail(&CommitError{Stage: StageBuild, Err: err}, frozen)
		}
		created = seg
	}

	entries, dropped, tombstoned := applyDeletes(current.Entries(), frozen.Deletes)
	if created != nil {
		entries = append(entries, snapshot.Entry{Segment: created})
	}
	generation := current.Generation() + 1

	e.setState(StatePublishing)
	m := e.manifestFor(generation, entries)
	if err := e.manifests.Save(m); err != nil {
		if created != nil {
			created.Release()
			e.removeSegmentFile(created.ID())
		}
		return CommitOutcome{}, e.fail(&CommitError{Stage: StagePublish, Err: err}, frozen)
	}

	next := snapshot.New(generation, entries)
	if created != nil {
		created.Release()
	}
	e.retire(dropped)
	e.holder.Publish(next)

	outcome := CommitOutcome{
		Generation:  generation,
		Added:       len(frozen.Docs),
		Deleted:     tombstoned,
		Segments:    next.SegmentCount(),
		Documents:   next.DocumentCount(),
		Duration:    time.Since(start),
		CommittedAt: m.CommittedAt,
	}
	if created != nil {
		outcome.SegmentID = created.ID()
	}
	e.succeed(outcome)
	e.logger.Info("commit published",
		"generation", generation,
		"added", outcome.Added,
		"tombstoned", tombstoned,
		"segments", outcome.Segments,
		"documents", outcome.Documents,
		"duration_ms", outcome.Duration.Milliseconds(),
	)
	return outcome, nil
}

// applyDeletes tombstones every live document whose identifier is in ids.
// Bitmaps are copied before modification since published snapshots share
// them. Segments left with no live documents are returned as dropped.
func applyDeletes(current []snapshot.Entry, ids []string) (kept []snapshot.Entry, dropped []*segment.Segment, tombstoned int) {
	kept = make([]snapshot.Entry, 0, len(current)+1)
	for _, entry := range current {
		deleted := entry.Deleted
		copied := false
		for _, id := range ids {
			doc, ok := entry.Segment.Lookup(id)
			if !ok || entry.IsDeleted(doc) || (copied && deleted.Contains(doc)) {
				continue
			}
			if !copied {
				if deleted == nil {
					deleted = roaring.New()
				} else {
					deleted = deleted.Clone()
				}
				copied = true
			}
			deleted.Add(doc)
			tombstoned++
		}
		next := snapshot.Entry{Segment: entry.Segment, Deleted: deleted}
		if next.LiveDocs() == 0 {
			dropped = append(dropped, entry.Segment)
			continue
		}
		kept = append(kept, next)
	}
	return kept, dropped, tombstoned
}

// Merge compacts every published segment into one, dropping tombstoned
// documents. It is a no-op with fewer than two segments.
func (e *Engine) Merge(ctx context.Context) (CommitOutcome, error) {
	if e.closed.Load() {
		return CommitOutcome{}, ErrClosed
	}
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.mergeLocked(ctx)
}

func (e *Engine) shouldMerge() bool {
	return e.cfg.MaxSegmentsBeforeMerge > 1 && e.holder.Peek().SegmentCount() >= e.cfg.MaxSegmentsBeforeMerge
}

func (e *Engine) mergeLocked(ctx context.Context) (CommitOutcome, error) {
	start := time.Now()
	current := e.holder.Peek()
	entries := current.Entries()
	if len(entries) < 2 {
		return CommitOutcome{
			Generation: current.Generation(),
			NoOp:       true,
			Segments:   current.SegmentCount(),
			Documents:  current.DocumentCount(),
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return CommitOutcome{}, fmt.Errorf("merge not started: %w", err)
	}
	defer e.setState(StateIdle)
	e.setState(StateBuilding)

	sources := make([]segment.Source, len(entries))
	retired := make([]*segment.Segment, len(entries))
	for i, entry := range entries {
		sources[i] = segment.Source{Data: entry.Segment.Data, Deleted: entry.Deleted}
		retired[i] = entry.Segment
	}
	id := e.nextSegmentID
	e.nextSegmentID++
	merged, err := e.segments.Merge(id, sources)
	if err != nil {
		e.removeSegmentFile(id)
		return CommitOutcome{}, e.fail(&CommitError{Stage: StageMerge, Err: err}, nil)
	}

	var next []snapshot.Entry
	if merged.NumDocs() > 0 {
		next = []snapshot.Entry{{Segment: merged}}
	}
	generation := current.Generation() + 1

	e.setState(StatePublishing)
	m := e.manifestFor(generation, next)
	if err := e.manifests.Save(m); err != nil {
		merged.Release()
		e.removeSegmentFile(id)
		return CommitOutcome{}, e.fail(&CommitError{Stage: StageMerge, Err: err}, nil)
	}
	snap := snapshot.New(generation, next)
	merged.Release()
	if merged.NumDocs() == 0 {
		e.removeSegmentFile(id)
	}
	e.retire(retired)
	e.holder.Publish(snap)

	outcome := CommitOutcome{
		Generation:  generation,
		Merged:      true,
		SegmentID:   id,
		Segments:    snap.SegmentCount(),
		Documents:   snap.DocumentCount(),
		Duration:    time.Since(start),
		CommittedAt: m.CommittedAt,
	}
	e.succeed(outcome)
	e.logger.Info("segments merged",
		"generation", generation,
		"merged", len(retired),
		"segment", segment.FileName(id),
		"documents", outcome.Documents,
		"duration_ms", outcome.Duration.Milliseconds(),
	)
	return outcome, nil
}

// retire deletes the files of segs once the last snapshot holding them is
// released.
func (e *Engine) retire(segs []*segment.Segment) {
	for _, seg := range segs {
		id := seg.ID()
		seg.SetOnRelease(func() { e.removeSegmentFile(id) })
	}
}

func (e *Engine) removeSegmentFile(id uint64) {
	if err := e.segments.Remove(id); err != nil {
		e.logger.Warn("failed to remove segment file", "segment", segment.FileName(id), "error", err)
	}
}

func (e *Engine) manifestFor(generation uint64, entries []snapshot.Entry) *manifest.Manifest {
	m := &manifest.Manifest{
		Generation:    generation,
		NextSegmentID: e.nextSegmentID,
		CommittedAt:   time.Now().UTC(),
		Schema:        e.schema,
		Segments:      make([]manifest.SegmentInfo, 0, len(entries)),
	}
	for _, entry := range entries {
		// Encoding a bitmap built in memory does not fail.
		deleted, _ := manifest.EncodeDeleted(entry.Deleted)
		m.Segments = append(m.Segments, manifest.SegmentInfo{
			ID:       entry.Segment.ID(),
			DocCount: entry.Segment.NumDocs(),
			Deleted:  deleted,
		})
	}
	return m
}

// fail records err. The frozen epoch it was committing is discarded.
func (e *Engine) fail(err *CommitError, frozen *index.FrozenBuffer) error {
	e.statusMu.Lock()
	e.lastErr = err
	e.statusMu.Unlock()
	e.logger.Error("commit failed, keeping previous snapshot",
		"stage", err.Stage,
		"generation", e.holder.Peek().Generation(),
		"dropped_docs", droppedDocs(frozen),
		"error", err.Err,
	)
	e.listenersMu.RLock()
	listeners := e.failureListeners
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(err)
	}
	return err
}

func droppedDocs(frozen *index.FrozenBuffer) int {
	if frozen == nil {
		return 0
	}
	return len(frozen.Docs)
}

func (e *Engine) succeed(outcome CommitOutcome) {
	e.statusMu.Lock()
	e.lastCommit = outcome.CommittedAt
	e.lastErr = nil
	e.statusMu.Unlock()
	e.notify(outcome)
}

func (e *Engine) requestCommit() {
	select {
	case e.commitSignal <- struct{}{}:
	default:
	}
}

// StartCommitLoop commits on every CommitInterval tick and whenever the
// buffer outgrows MaxBufferBytes, and merges on every MergeInterval tick
// once enough segments have accumulated. When ctx is cancelled it performs
// a final commit and returns.
func (e *Engine) StartCommitLoop(ctx context.Context) {
	interval := e.cfg.CommitInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	mergeInterval := e.cfg.MergeInterval
	if mergeInterval <= 0 {
		mergeInterval = 10 * interval
	}
	ticker := time.NewTicker(interval)
	mergeTicker := time.NewTicker(mergeInterval)
	go func() {
		defer ticker.Stop()
		defer mergeTicker.Stop()
		for {
			// Loop commits never take ctx: cancellation only ends the loop,
			// after the final commit below.
			select {
			case <-ctx.Done():
				e.logger.Info("commit loop stopping, performing final commit")
				if _, err := e.commit(context.Background()); err != nil {
					e.logger.Error("final commit failed", "error", err)
				}
				return
			case <-ticker.C:
				if _, err := e.commit(context.Background()); err != nil {
					e.logger.Error("periodic commit failed", "error", err)
				}
			case <-e.commitSignal:
				if _, err := e.commit(context.Background()); err != nil {
					e.logger.Error("buffer-triggered commit failed", "error", err)
				}
			case <-mergeTicker.C:
				e.commitMu.Lock()
				if e.shouldMerge() {
					if _, err := e.mergeLocked(context.Background()); err != nil {
						e.logger.Error("periodic merge failed", "error", err)
					}
				}
				e.commitMu.Unlock()
			}
		}
	}()
}
