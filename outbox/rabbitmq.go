package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tasknest/go-mail/apperror"
)

// RabbitMQConfig holds the connection parameters of a RabbitMQ-backed queue.
type RabbitMQConfig struct {
	URL          string `yaml:"url"`
	QueueName    string `yaml:"queue_name"`
	ExchangeName string `yaml:"exchange_name"`
	RoutingKey   string `yaml:"routing_key"`
	Durable      bool   `yaml:"durable"`
	AutoDelete   bool   `yaml:"auto_delete"`
	Exclusive    bool   `yaml:"exclusive"`
	NoWait       bool   `yaml:"no_wait"`
}

// RabbitMQQueue is a RabbitMQ-backed queue. Deliveries travel as persistent
// JSON messages; an in-process mirror keyed by delivery ID carries the state
// needed for Get, Update and the retry bookkeeping, so retry backoff is per
// consumer while the messages themselves survive broker restarts.
type RabbitMQQueue struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	queueName    string
	exchangeName string
	routingKey   string

	mirror      map[string]*Delivery
	tags        map[string]uint64
	mirrorMutex sync.Mutex

	closed     bool
	closeMutex sync.RWMutex
}

// NewRabbitMQQueue connects to the broker and declares the exchange, queue
// and binding.
func NewRabbitMQQueue(config RabbitMQConfig) (*RabbitMQQueue, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, apperror.NewError("RabbitMQ URL is required")
	}
	if strings.TrimSpace(config.QueueName) == "" {
		return nil, apperror.NewError("queue name is required")
	}
	if strings.TrimSpace(config.ExchangeName) == "" {
		return nil, apperror.NewError("exchange name is required")
	}
	if strings.TrimSpace(config.RoutingKey) == "" {
		return nil, apperror.NewError("routing key is required")
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, apperror.Wrap(err)
	}

	channel, err := conn.Channel()
	if err != nil {
		apperror.Catch(conn.Close, "failed to close connection")
		return nil, apperror.Wrap(err)
	}

	err = channel.ExchangeDeclare(
		config.ExchangeName,
		"direct",
		config.Durable,
		config.AutoDelete,
		config.Exclusive,
		config.NoWait,
		nil,
	)
	if err != nil {
		apperror.Catch(channel.Close, "failed to close channel")
		apperror.Catch(conn.Close, "failed to close connection")
		return nil, apperror.Wrap(err)
	}

	_, err = channel.QueueDeclare(
		config.QueueName,
		config.Durable,
		config.AutoDelete,
		config.Exclusive,
		config.NoWait,
		nil,
	)
	if err != nil {
		apperror.Catch(channel.Close, "failed to close channel")
		apperror.Catch(conn.Close, "failed to close connection")
		return nil, apperror.Wrap(err)
	}

	err = channel.QueueBind(
		config.QueueName,
		config.RoutingKey,
		config.ExchangeName,
		config.NoWait,
		nil,
	)
	if err != nil {
		apperror.Catch(channel.Close, "failed to close channel")
		apperror.Catch(conn.Close, "failed to close connection")
		return nil, apperror.Wrap(err)
	}

	return &RabbitMQQueue{
		conn:         conn,
		channel:      channel,
		queueName:    config.QueueName,
		exchangeName: config.ExchangeName,
		routingKey:   config.RoutingKey,
		mirror:       make(map[string]*Delivery),
		tags:         make(map[string]uint64),
	}, nil
}

// NewRabbitMQFromURL creates a RabbitMQ queue with default names.
func NewRabbitMQFromURL(url string) (*RabbitMQQueue, error) {
	return NewRabbitMQQueue(RabbitMQConfig{
		URL:          url,
		QueueName:    "outbox",
		ExchangeName: "outbox_exchange",
		RoutingKey:   "outbox",
		Durable:      true,
	})
}

// Enqueue publishes the delivery as a persistent message.
func (q *RabbitMQQueue) Enqueue(ctx context.Context, delivery *Delivery) error {
	q.closeMutex.RLock()
	defer q.closeMutex.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.mirrorMutex.Lock()
	q.mirror[delivery.ID] = delivery
	q.mirrorMutex.Unlock()

	return q.publish(ctx, delivery)
}

// Dequeue polls the broker for a message, up to timeout. Messages are
// acknowledged on Update, not here, so an unacknowledged delivery returns to
// the broker if the consumer dies mid-send.
func (q *RabbitMQQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	q.closeMutex.RLock()
	defer q.closeMutex.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		msg, ok, err := q.channel.Get(q.queueName, false)
		if err != nil {
			return nil, apperror.Wrap(err)
		}
		if ok {
			var delivery Delivery
			err = json.Unmarshal(msg.Body, &delivery)
			if err != nil {
				apperror.Catch(func() error { return msg.Nack(false, false) }, "failed to nack message")
				return nil, apperror.Wrap(err)
			}

			q.mirrorMutex.Lock()
			q.mirror[delivery.ID] = &delivery
			q.tags[delivery.ID] = msg.DeliveryTag
			q.mirrorMutex.Unlock()
			return &delivery, nil
		}

		if time.Now().After(deadline) {
			return nil, context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Update stores the new state and settles the broker message for terminal
// and retrying states. Sent and failed deliveries are acknowledged; a
// retrying delivery is acknowledged too and republished later by Requeue,
// which keeps the backoff timing out of the broker.
func (q *RabbitMQQueue) Update(_ context.Context, delivery *Delivery) error {
	q.closeMutex.RLock()
	defer q.closeMutex.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.mirrorMutex.Lock()
	defer q.mirrorMutex.Unlock()

	q.mirror[delivery.ID] = delivery

	tag, tagged := q.tags[delivery.ID]
	if !tagged {
		return nil
	}
	switch delivery.Status {
	case StatusSent, StatusFailed, StatusRetrying:
		err := q.channel.Ack(tag, false)
		delete(q.tags, delivery.ID)
		if err != nil {
			return apperror.Wrap(err)
		}
	}
	return nil
}

// Get returns a delivery from the in-process mirror.
func (q *RabbitMQQueue) Get(_ context.Context, id string) (*Delivery, error) {
	q.mirrorMutex.Lock()
	defer q.mirrorMutex.Unlock()

	delivery, exists := q.mirror[id]
	if !exists {
		return nil, ErrNotFound
	}
	return delivery, nil
}

// Requeue republishes due retrying deliveries as pending messages.
func (q *RabbitMQQueue) Requeue(ctx context.Context) (int, error) {
	q.closeMutex.RLock()
	defer q.closeMutex.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	now := time.Now()
	q.mirrorMutex.Lock()
	var due []*Delivery
	for _, delivery := range q.mirror {
		if delivery.Status == StatusRetrying && delivery.Due(now) {
			due = append(due, delivery)
		}
	}
	for _, delivery := range due {
		delivery.Status = StatusPending
		delivery.NextAttempt = time.Time{}
		delivery.UpdatedAt = now
	}
	q.mirrorMutex.Unlock()

	for _, delivery := range due {
		err := q.publish(ctx, delivery)
		if err != nil {
			return 0, apperror.Wrap(err)
		}
	}
	return len(due), nil
}

// Stats reports the broker queue depth as pending plus the mirror's view of
// the remaining states.
func (q *RabbitMQQueue) Stats(_ context.Context) (*Stats, error) {
	state, err := q.channel.QueueInspect(q.queueName)
	if err != nil {
		return nil, apperror.Wrap(err)
	}

	stats := &Stats{Pending: int64(state.Messages)}
	q.mirrorMutex.Lock()
	defer q.mirrorMutex.Unlock()
	for _, delivery := range q.mirror {
		switch delivery.Status {
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

// Close shuts down the channel and connection.
func (q *RabbitMQQueue) Close() error {
	q.closeMutex.Lock()
	defer q.closeMutex.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	var errs []error
	if err := q.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := q.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return apperror.NewError("failed to close RabbitMQ queue").AddError(errs[0])
	}
	return nil
}

func (q *RabbitMQQueue) publish(ctx context.Context, delivery *Delivery) error {
	data, err := json.Marshal(delivery)
	if err != nil {
		return apperror.Wrap(err)
	}

	return q.channel.PublishWithContext(
		ctx,
		q.exchangeName,
		q.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers: amqp.Table{
				"delivery_id":  delivery.ID,
				"attempts":     int32(delivery.Attempts),
				"max_attempts": int32(delivery.MaxAttempts),
			},
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}
