package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/logging"
)

var logger = logging.GetPackageLogger("outbox")

// ErrQueueClosed is returned by operations on a closed queue.
var ErrQueueClosed = apperror.NewError("outbox: queue is closed")

// ErrNotFound is returned when a delivery ID is unknown.
var ErrNotFound = apperror.NewError("outbox: delivery not found")

// Queue stores deliveries. Dequeue blocks up to the given timeout and
// returns context.DeadlineExceeded when nothing became available, so
// workers can poll without spinning.
type Queue interface {
	Enqueue(ctx context.Context, delivery *Delivery) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Update(ctx context.Context, delivery *Delivery) error
	Get(ctx context.Context, id string) (*Delivery, error)
	// Requeue moves retrying deliveries whose backoff has elapsed back to
	// pending and returns how many were moved.
	Requeue(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats summarizes the queue contents by status.
type Stats struct {
	Pending  int64 `json:"pending"`
	Sending  int64 `json:"sending"`
	Sent     int64 `json:"sent"`
	Retrying int64 `json:"retrying"`
	Failed   int64 `json:"failed"`
}

// MemoryQueue is an in-process queue. Deliveries do not survive a restart;
// it is the default backend and the one used in tests. The queue stores and
// returns copies, so callers and workers never share a delivery value.
type MemoryQueue struct {
	mutex      sync.Mutex
	deliveries map[string]*Delivery
	pending    []string
	wakeup     chan struct{}
	closed     bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		deliveries: make(map[string]*Delivery),
		wakeup:     make(chan struct{}, 1),
	}
}

// Enqueue adds a delivery to the pending queue.
func (q *MemoryQueue) Enqueue(_ context.Context, delivery *Delivery) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.deliveries[delivery.ID] = cloneDelivery(delivery)
	q.pending = append(q.pending, delivery.ID)
	q.notify()
	return nil
}

// Dequeue removes and returns the oldest pending delivery, blocking up to
// timeout when the queue is empty.
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mutex.Lock()
		if q.closed {
			q.mutex.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			delivery := q.deliveries[id]
			q.mutex.Unlock()
			if delivery == nil {
				continue
			}
			return cloneDelivery(delivery), nil
		}
		q.mutex.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, context.DeadlineExceeded
		case <-q.wakeup:
		}
	}
}

// Update replaces the stored state of a delivery.
func (q *MemoryQueue) Update(_ context.Context, delivery *Delivery) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, exists := q.deliveries[delivery.ID]; !exists {
		return ErrNotFound
	}
	q.deliveries[delivery.ID] = cloneDelivery(delivery)
	return nil
}

// Get returns a delivery by ID.
func (q *MemoryQueue) Get(_ context.Context, id string) (*Delivery, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	delivery, exists := q.deliveries[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneDelivery(delivery), nil
}

// Requeue moves due retrying deliveries back to pending, oldest first.
func (q *MemoryQueue) Requeue(_ context.Context) (int, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	now := time.Now()
	var due []*Delivery
	for _, delivery := range q.deliveries {
		if delivery.Status == StatusRetrying && delivery.Due(now) {
			due = append(due, delivery)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttempt.Before(due[j].NextAttempt) })

	for _, delivery := range due {
		delivery.Status = StatusPending
		delivery.NextAttempt = time.Time{}
		delivery.UpdatedAt = now
		q.pending = append(q.pending, delivery.ID)
	}
	if len(due) > 0 {
		q.notify()
	}
	return len(due), nil
}

// Stats summarizes the queue contents by status.
func (q *MemoryQueue) Stats(_ context.Context) (*Stats, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	stats := &Stats{}
	for _, delivery := range q.deliveries {
		switch delivery.Status {
		case StatusPending:
			stats.Pending++
		case StatusSending:
			stats.Sending++
		case StatusSent:
			stats.Sent++
		case StatusRetrying:
			stats.Retrying++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close marks the queue closed; blocked Dequeue calls return ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.closed {
		q.closed = true
		close(q.wakeup)
	}
	return nil
}

// cloneDelivery copies a delivery record. The message itself is shared; it
// is treated as immutable once enqueued.
func cloneDelivery(delivery *Delivery) *Delivery {
	copied := *delivery
	return &copied
}

func (q *MemoryQueue) notify() {
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}
