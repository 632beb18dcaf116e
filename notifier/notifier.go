// Package notifier delivers user-facing case events. Delivery failures are
// reported as recoverable errors and never block a case transition.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind identifies a notification
type Kind string

const (
	KindPaymentRequired Kind = "payment_required"
	KindQuestions       Kind = "follow_up_questions"
	KindDraftReady      Kind = "draft_ready"
	KindStalled         Kind = "case_stalled"
	KindClosed          Kind = "case_closed"
)

var ErrDelivery = errors.New("notification delivery failed")

// DeliveryError is a recoverable delivery failure
type DeliveryError struct {
	UserID uuid.UUID
	Kind   Kind
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Kind, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

// Event is the envelope handed to senders
type Event struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Kind       Kind           `json:"kind"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sender delivers one event to its sink
//
//go:generate mockgen -source=notifier.go -destination=mocks/sender_mock.go -package=mocks Sender
type Sender interface {
	Send(ctx context.Context, event Event) error
}

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "casedraft_notifications_total",
	Help: "Notifications by kind and outcome",
}, []string{"kind", "outcome"})

// Notifier wraps a Sender with logging, metrics and error typing
type Notifier struct {
	sender Sender
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Notifier
type Option func(*Notifier)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// New creates a Notifier over sender
func New(sender Sender, opts ...Option) *Notifier {
	n := &Notifier{
		sender: sender,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers kind to userID. The returned error, if any, matches ErrDelivery.
func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	event := Event{
		ID:         uuid.New(),
		UserID:     userID,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: n.now(),
	}

	if err := n.sender.Send(ctx, event); err != nil {
		deliveriesTotal.WithLabelValues(string(kind), "failed").Inc()
		n.logger.WarnContext(ctx, "notification delivery failed",
			"user_id", userID,
			"kind", kind,
			"error", err,
		)
		return &DeliveryError{UserID: userID, Kind: kind, Err: err}
	}

	deliveriesTotal.WithLabelValues(string(kind), "delivered").Inc()
	return nil
}

// LogSender writes events to the structured log. Used when no broker is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-backed sender
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the event
func (s *LogSender) Send(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "notification",
		"event_id", event.ID,
		"user_id", event.UserID,
		"kind", event.Kind,
		"payload", event.Payload,
	)
	return nil
}
