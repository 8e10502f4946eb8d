package outbox

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/mail"
	"github.com/tasknest/go-mail/smtp"
)

// Sender delivers one message. *smtp.Client satisfies it; tests substitute
// fakes.
type Sender interface {
	Send(message *mail.Message) (smtp.SendResult, error)
}

// Manager runs the delivery workers. Deliveries are dequeued, rate limited
// across all workers and handed to the sender; failed attempts are
// rescheduled with exponential backoff until the attempt budget is spent.
type Manager struct {
	queue           Queue
	sender          Sender
	workerCount     int
	maxAttempts     int
	retryDelay      time.Duration
	retryBackoff    float64
	requeueInterval time.Duration
	limiter         *rate.Limiter

	group   *errgroup.Group
	cancel  context.CancelFunc
	running int32

	sent   int64
	failed int64
}

// NewManager creates a manager with an in-memory queue and default settings:
// one worker, three attempts, a two second base retry delay doubling per
// attempt, and no rate limit.
func NewManager(sender Sender) *Manager {
	return &Manager{
		queue:           NewMemoryQueue(),
		sender:          sender,
		workerCount:     1,
		maxAttempts:     3,
		retryDelay:      2 * time.Second,
		retryBackoff:    2.0,
		requeueInterval: time.Second,
		limiter:         rate.NewLimiter(rate.Inf, 1),
	}
}

// WithQueue sets the queue backend.
func (m *Manager) WithQueue(queue Queue) *Manager {
	m.queue = queue
	return m
}

// WithWorkers sets the number of concurrent delivery workers.
func (m *Manager) WithWorkers(workers int) *Manager {
	if workers > 0 {
		m.workerCount = workers
	}
	return m
}

// WithMaxAttempts sets the per-delivery attempt budget.
func (m *Manager) WithMaxAttempts(attempts int) *Manager {
	if attempts > 0 {
		m.maxAttempts = attempts
	}
	return m
}

// WithRetryDelay sets the base delay before the first retry.
func (m *Manager) WithRetryDelay(delay time.Duration) *Manager {
	if delay > 0 {
		m.retryDelay = delay
	}
	return m
}

// WithRetryBackoff sets the backoff multiplier applied per attempt.
func (m *Manager) WithRetryBackoff(backoff float64) *Manager {
	if backoff > 0 {
		m.retryBackoff = backoff
	}
	return m
}

// WithRateLimit caps the send rate across all workers, in messages per
// second with the given burst.
func (m *Manager) WithRateLimit(perSecond float64, burst int) *Manager {
	if perSecond > 0 && burst > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return m
}

// WithRequeueInterval sets how often due retries are moved back to pending.
func (m *Manager) WithRequeueInterval(interval time.Duration) *Manager {
	if interval > 0 {
		m.requeueInterval = interval
	}
	return m
}

// Enqueue queues a message for delivery and returns its delivery record.
func (m *Manager) Enqueue(ctx context.Context, message *mail.Message) (*Delivery, error) {
	delivery := NewDelivery(message)
	delivery.MaxAttempts = m.maxAttempts

	err := m.queue.Enqueue(ctx, delivery)
	if err != nil {
		return nil, apperror.Wrap(err)
	}

	logger.Debug().Field("delivery_id", delivery.ID).Msg("delivery enqueued")
	return delivery, nil
}

// Delivery returns the current state of a delivery by ID.
func (m *Manager) Delivery(ctx context.Context, id string) (*Delivery, error) {
	return m.queue.Get(ctx, id)
}

// Stats returns the queue statistics.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	return m.queue.Stats(ctx)
}

// IsRunning reports whether the workers are active.
func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

// Start launches the workers and the retry scheduler.
func (m *Manager) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return apperror.NewError("outbox manager is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	group, groupCtx := errgroup.WithContext(ctx)
	m.group = group

	logger.Debug().
		Field("workers", m.workerCount).
		Field("max_attempts", m.maxAttempts).
		Field("retry_delay", m.retryDelay.Milliseconds()).
		Msg("starting outbox manager")

	for i := 0; i < m.workerCount; i++ {
		id := i
		group.Go(func() error {
			m.worker(groupCtx, id)
			return nil
		})
	}
	group.Go(func() error {
		m.requeueLoop(groupCtx)
		return nil
	})
	return nil
}

// Stop cancels the workers and waits for them to drain.
func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return apperror.NewError("outbox manager is not running")
	}

	m.cancel()
	err := m.group.Wait()
	logger.Info().
		Field("sent", atomic.LoadInt64(&m.sent)).
		Field("failed", atomic.LoadInt64(&m.failed)).
		Msg("outbox manager stopped")
	return err
}

func (m *Manager) worker(ctx context.Context, workerID int) {
	logger.Trace().Field("worker_id", workerID).Msg("worker started")
	defer logger.Trace().Field("worker_id", workerID).Msg("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := m.limiter.Wait(ctx)
		if err != nil {
			return
		}

		delivery, err := m.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if err == context.DeadlineExceeded {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			continue
		}

		m.process(ctx, delivery, workerID)
	}
}

func (m *Manager) process(ctx context.Context, delivery *Delivery, workerID int) {
	delivery.Status = StatusSending
	delivery.Attempts++
	delivery.UpdatedAt = time.Now()
	if err := m.queue.Update(ctx, delivery); err != nil {
		logger.Error().Err(err).Field("delivery_id", delivery.ID).Msg("failed to mark delivery sending")
	}

	result, err := m.sender.Send(delivery.Message)
	if err == nil && result.Success {
		delivery.Status = StatusSent
		delivery.MessageID = result.MessageID
		delivery.LastError = ""
		delivery.SentAt = time.Now()
		delivery.UpdatedAt = delivery.SentAt
		if err := m.queue.Update(ctx, delivery); err != nil {
			logger.Error().Err(err).Field("delivery_id", delivery.ID).Msg("failed to mark delivery sent")
		}
		atomic.AddInt64(&m.sent, 1)

		logger.Debug().
			Field("delivery_id", delivery.ID).
			Field("message_id", result.MessageID).
			Field("worker_id", workerID).
			Msg("delivery sent")
		return
	}

	cause := err
	if cause == nil {
		cause = result.Err
	}
	if cause == nil {
		cause = apperror.NewError("send failed without a cause")
	}
	delivery.LastError = cause.Error()
	delivery.UpdatedAt = time.Now()

	if delivery.Exhausted() {
		delivery.Status = StatusFailed
		if err := m.queue.Update(ctx, delivery); err != nil {
			logger.Error().Err(err).Field("delivery_id", delivery.ID).Msg("failed to mark delivery failed")
		}
		atomic.AddInt64(&m.failed, 1)

		logger.Error().
			Err(cause).
			Field("delivery_id", delivery.ID).
			Field("attempts", delivery.Attempts).
			Msg("delivery failed permanently")
		return
	}

	delivery.Status = StatusRetrying
	delivery.NextAttempt = time.Now().Add(m.retryAfter(delivery.Attempts))
	if err := m.queue.Update(ctx, delivery); err != nil {
		logger.Error().Err(err).Field("delivery_id", delivery.ID).Msg("failed to mark delivery retrying")
	}

	logger.Debug().
		Err(cause).
		Field("delivery_id", delivery.ID).
		Field("attempt", delivery.Attempts).
		Field("next_attempt", delivery.NextAttempt).
		Msg("delivery scheduled for retry")
}

// retryAfter computes the exponential backoff for the given attempt count.
func (m *Manager) retryAfter(attempt int) time.Duration {
	if attempt <= 1 {
		return m.retryDelay
	}
	multiplier := math.Pow(m.retryBackoff, float64(attempt-1))
	return time.Duration(float64(m.retryDelay.Nanoseconds()) * multiplier)
}

func (m *Manager) requeueLoop(ctx context.Context) {
	ticker := time.NewTicker(m.requeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := m.queue.Requeue(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
					return
				}
				logger.Error().Err(err).Msg("requeue failed")
				continue
			}
			if moved > 0 {
				logger.Trace().Field("moved", moved).Msg("retries moved to pending")
			}
		}
	}
}
