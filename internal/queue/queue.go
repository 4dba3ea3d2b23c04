// Package queue is the in-memory fallback that absorbs inbound alerts
// while the durable store is unreachable, and drains them back into the
// pipeline once it recovers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/jarvis/internal/alert"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/metrics"
)

const defaultCapacity = 500

// QueuedAlert is one raw webhook entry held in the ring, along with the
// instant it was first accepted so the drainer can process it as if it had
// just arrived.
type QueuedAlert struct {
	Alert     alert.Alert
	EnqueuedAt time.Time
}

// Handler processes one drained alert exactly as Pipeline would a fresh one.
type Handler func(ctx context.Context, q QueuedAlert) error

// Queue is a bounded FIFO. Enqueue never blocks: once full, the oldest entry
// is dropped to make room, and the drop is counted as a metric.
type Queue struct {
	mu       sync.Mutex
	items    []QueuedAlert
	capacity int

	logger  log.Logger
	metrics *metrics.Metrics
}

// New creates a Queue with the default ~500 entry capacity.
func New(logger log.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		capacity: defaultCapacity,
		logger:   logger,
		metrics:  m,
	}
}

// Enqueue appends a to the tail of the ring, dropping the oldest entry first
// if the ring is already at capacity.
func (q *Queue) Enqueue(a alert.Alert) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		if q.metrics != nil {
			q.metrics.QueueDroppedTotal.Inc()
		}
		q.logger.Warn(context.Background(), "queue at capacity, dropping oldest entry",
			"alert_name", dropped.Alert.Name(), "instance_key", dropped.Alert.InstanceKey())
	}

	q.items = append(q.items, QueuedAlert{Alert: a, EnqueuedAt: time.Now()})
	q.reportDepth()
}

// Depth returns the current number of queued entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain hands every currently queued entry to handler in FIFO order,
// stopping at the first error and leaving the remainder (plus anything
// enqueued since) in the queue for the next drain cycle.
func (q *Queue) Drain(ctx context.Context, handler Handler) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		q.mu.Unlock()

		if err := handler(ctx, next); err != nil {
			q.logger.Error(ctx, err, "queue drain handler failed, stopping this cycle",
				"alert_name", next.Alert.Name(), "instance_key", next.Alert.InstanceKey())
			return
		}

		q.mu.Lock()
		if len(q.items) > 0 && q.items[0].EnqueuedAt.Equal(next.EnqueuedAt) {
			q.items = q.items[1:]
		}
		q.reportDepth()
		q.mu.Unlock()
	}
}

// reportDepth updates the queue_depth gauge. Caller must hold q.mu.
func (q *Queue) reportDepth() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.items)))
	}
}

// Run drains the queue every ~30 seconds for as long as healthy reports
// true, stopping when ctx is cancelled.
func Run(ctx context.Context, q *Queue, healthy func() bool, handler Handler) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if healthy() {
				q.Drain(ctx, handler)
			}
		}
	}
}
