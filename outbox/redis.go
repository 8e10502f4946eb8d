package outbox

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tasknest/go-mail/apperror"
)

// RedisQueue is a Redis-backed queue. Each delivery lives in a hash keyed by
// its ID; pending IDs sit in a list consumed with a blocking pop, and
// retrying IDs sit in a sorted set scored by their next attempt time.
type RedisQueue struct {
	client    redis.Cmdable
	keyPrefix string
	closed    bool
}

// NewRedisQueue creates a Redis-backed queue. An empty keyPrefix defaults to
// "outbox".
func NewRedisQueue(client redis.Cmdable, keyPrefix string) *RedisQueue {
	if keyPrefix == "" {
		keyPrefix = "outbox"
	}
	return &RedisQueue{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Enqueue stores the delivery and pushes its ID onto the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, delivery *Delivery) error {
	if q.closed {
		return ErrQueueClosed
	}

	data, err := json.Marshal(delivery)
	if err != nil {
		return apperror.Wrap(err)
	}

	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.deliveryKey(delivery.ID), "data", data)
	pipe.RPush(ctx, q.pendingKey(), delivery.ID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return apperror.Wrap(err)
	}
	return nil
}

// Dequeue blocks up to timeout for a pending delivery.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if q.closed {
		return nil, ErrQueueClosed
	}

	result, err := q.client.BLPop(ctx, timeout, q.pendingKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, context.DeadlineExceeded
		}
		return nil, apperror.Wrap(err)
	}
	if len(result) < 2 {
		return nil, apperror.NewError("unexpected BLPOP reply shape")
	}

	return q.load(ctx, result[1])
}

// Update replaces the stored state of a delivery. A retrying delivery is
// also registered in the retry set; any other status removes it from there.
func (q *RedisQueue) Update(ctx context.Context, delivery *Delivery) error {
	if q.closed {
		return ErrQueueClosed
	}

	data, err := json.Marshal(delivery)
	if err != nil {
		return apperror.Wrap(err)
	}

	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.deliveryKey(delivery.ID), "data", data)
	if delivery.Status == StatusRetrying {
		pipe.ZAdd(ctx, q.retryKey(), redis.Z{
			Score:  float64(delivery.NextAttempt.Unix()),
			Member: delivery.ID,
		})
	} else {
		pipe.ZRem(ctx, q.retryKey(), delivery.ID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return apperror.Wrap(err)
	}
	return nil
}

// Get returns a delivery by ID.
func (q *RedisQueue) Get(ctx context.Context, id string) (*Delivery, error) {
	return q.load(ctx, id)
}

// Requeue moves due retrying deliveries back onto the pending list.
func (q *RedisQueue) Requeue(ctx context.Context) (int, error) {
	if q.closed {
		return 0, ErrQueueClosed
	}

	now := time.Now().Unix()
	ids, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return 0, apperror.Wrap(err)
	}

	moved := 0
	for _, id := range ids {
		delivery, err := q.load(ctx, id)
		if err != nil {
			// Stale retry entry without a record; drop it.
			q.client.ZRem(ctx, q.retryKey(), id)
			continue
		}

		delivery.Status = StatusPending
		delivery.NextAttempt = time.Time{}
		delivery.UpdatedAt = time.Now()

		data, err := json.Marshal(delivery)
		if err != nil {
			return moved, apperror.Wrap(err)
		}

		pipe := q.client.Pipeline()
		pipe.HSet(ctx, q.deliveryKey(id), "data", data)
		pipe.ZRem(ctx, q.retryKey(), id)
		pipe.RPush(ctx, q.pendingKey(), id)
		_, err = pipe.Exec(ctx)
		if err != nil {
			return moved, apperror.Wrap(err)
		}
		moved++
	}
	return moved, nil
}

// Stats summarizes the queue contents. Only the pending and retrying counts
// are cheap to compute in Redis; the rest stay zero.
func (q *RedisQueue) Stats(ctx context.Context) (*Stats, error) {
	pending, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return nil, apperror.Wrap(err)
	}
	retrying, err := q.client.ZCard(ctx, q.retryKey()).Result()
	if err != nil {
		return nil, apperror.Wrap(err)
	}
	return &Stats{Pending: pending, Retrying: retrying}, nil
}

// Close marks the queue closed. The Redis client is owned by the caller and
// stays open.
func (q *RedisQueue) Close() error {
	q.closed = true
	return nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Delivery, error) {
	data, err := q.client.HGet(ctx, q.deliveryKey(id), "data").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, apperror.Wrap(err)
	}

	var delivery Delivery
	err = json.Unmarshal([]byte(data), &delivery)
	if err != nil {
		return nil, apperror.Wrap(err)
	}
	return &delivery, nil
}

func (q *RedisQueue) deliveryKey(id string) string {
	return q.keyPrefix + ":delivery:" + id
}

func (q *RedisQueue) pendingKey() string {
	return q.keyPrefix + ":pending"
}

func (q *RedisQueue) retryKey() string {
	return q.keyPrefix + ":retry"
}
