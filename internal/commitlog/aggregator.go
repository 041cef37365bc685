package commitlog

import (
	"context"
	"sort"
	"sync"
	"time"
)

const recentEvents = 50

// Stats summarises the commits seen since the process started.
type Stats struct {
	Commits          int64   `json:"commits"`
	Merges           int64   `json:"merges"`
	DocumentsAdded   int64   `json:"documents_added"`
	DocumentsDeleted int64   `json:"documents_deleted"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
	P50DurationMs    int64   `json:"p50_duration_ms"`
	P95DurationMs    int64   `json:"p95_duration_ms"`
	P99DurationMs    int64   `json:"p99_duration_ms"`
	CommitsPerMinute float64 `json:"commits_per_minute"`
	Recent           []Event `json:"recent"`
}

// Aggregator keeps running commit statistics in memory. It is a Sink.
type Aggregator struct {
	mu        sync.RWMutex
	commits   int64
	merges    int64
	added     int64
	deleted   int64
	durations []int64
	recent    []Event
	startTime time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		durations: make([]int64, 0, 1024),
		startTime: time.Now(),
	}
}

func (a *Aggregator) Record(_ context.Context, event Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event.Kind {
	case KindMerge:
		a.merges++
	default:
		a.commits++
		a.added += int64(event.Added)
		a.deleted += int64(event.Deleted)
	}
	a.durations = append(a.durations, event.DurationMs)
	a.recent = append(a.recent, event)
	if len(a.recent) > recentEvents {
		a.recent = a.recent[len(a.recent)-recentEvents:]
	}
	return nil
}

func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		Commits:          a.commits,
		Merges:           a.merges,
		DocumentsAdded:   a.added,
		DocumentsDeleted: a.deleted,
		Recent:           make([]Event, 0, len(a.recent)),
	}
	for i := len(a.recent) - 1; i >= 0; i-- {
		stats.Recent = append(stats.Recent, a.recent[i])
	}
	if len(a.durations) > 0 {
		sorted := make([]int64, len(a.durations))
		copy(sorted, a.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, d := range sorted {
			sum += d
		}
		stats.AvgDurationMs = float64(sum) / float64(len(sorted))
		stats.P50DurationMs = percentile(sorted, 50)
		stats.P95DurationMs = percentile(sorted, 95)
		stats.P99DurationMs = percentile(sorted, 99)
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.CommitsPerMinute = float64(a.commits) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
