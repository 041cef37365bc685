package commitlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
)

// Sink receives commit events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Collector fans commit events out to its sinks from a background
// goroutine, so commit listeners never wait on a database or broker.
type Collector struct {
	sinks   []Sink
	eventCh chan Event
	timeout time.Duration
	logger  *slog.Logger
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(bufferSize int, sinks ...Sink) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Collector{
		sinks:   sinks,
		eventCh: make(chan Event, bufferSize),
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "commit-collector"),
		done:    make(chan struct{}),
	}
}

// Start launches the dispatch loop. It stops when ctx is cancelled or Close
// is called, delivering whatever is still queued.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.dispatch(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("commit collector started", "buffer_size", cap(c.eventCh), "sinks", len(c.sinks))
}

// Track queues outcome. It has the shape of indexer.CommitListener and
// never blocks; events are dropped when the buffer is full or the collector
// is closed.
func (c *Collector) Track(outcome indexer.CommitOutcome) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- FromOutcome(outcome):
	default:
		c.logger.Warn("commit event dropped (buffer full)", "generation", outcome.Generation)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) dispatch(ctx context.Context, event Event) {
	for _, sink := range c.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := sink.Record(sinkCtx, event); err != nil {
			c.logger.Error("failed to record commit event",
				"generation", event.Generation,
				"kind", event.Kind,
				"error", err,
			)
		}
		cancel()
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.dispatch(context.Background(), event)
		default:
			return
		}
	}
}
