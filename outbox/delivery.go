// Package outbox provides durable, retrying mail delivery on top of the
// smtp package. Messages are enqueued as deliveries, picked up by a worker
// pool and handed to an SMTP client; transient failures are retried with
// exponential backoff until the attempt budget is spent.
//
// Three queue backends are available: an in-memory queue for single-process
// use, a Redis-backed queue and a RabbitMQ-backed queue for deliveries that
// must survive restarts or be shared across processes.
package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/tasknest/go-mail/mail"
)

// Status represents the lifecycle state of a delivery.
type Status int

const (
	// StatusPending indicates the delivery is waiting for a worker
	StatusPending Status = iota
	// StatusSending indicates a worker is currently delivering
	StatusSending
	// StatusSent indicates the server accepted the message
	StatusSent
	// StatusRetrying indicates a failed attempt awaiting its backoff
	StatusRetrying
	// StatusFailed indicates the attempt budget is spent
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusRetrying:
		return "retrying"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delivery is one message on its way out, together with its attempt history.
type Delivery struct {
	ID          string        `json:"id"`
	Message     *mail.Message `json:"message"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	MessageID   string        `json:"message_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	NextAttempt time.Time     `json:"next_attempt,omitempty"`
	SentAt      time.Time     `json:"sent_at,omitempty"`
}

// NewDelivery wraps a message as a pending delivery with a fresh ID.
func NewDelivery(message *mail.Message) *Delivery {
	now := time.Now()
	return &Delivery{
		ID:        uuid.NewString(),
		Message:   message,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Exhausted reports whether the delivery has used up its attempt budget.
func (d *Delivery) Exhausted() bool {
	return d.Attempts >= d.MaxAttempts
}

// Due reports whether a retrying delivery is ready for its next attempt.
func (d *Delivery) Due(now time.Time) bool {
	return d.NextAttempt.IsZero() || !d.NextAttempt.After(now)
}
