// Package core holds the channel-independent part of notification delivery:
// the Delivery Log state machine and retry chain, the orchestrator that turns
// an intent into a Notification plus channel jobs, the shared job processor
// the email and SMS workers run, and delivery observability.
package core

import (
	"context"
	"time"

	"medinotify/internal/db"
	"medinotify/internal/queue"
	"medinotify/internal/types"
)

// DeliveryRepository is the persistence DeliveryManagerImpl needs.
type DeliveryRepository interface {
	Create(ctx context.Context, d *types.DeliveryLog) error
	GetByID(ctx context.Context, id string) (*types.DeliveryLog, error)
	Transition(ctx context.Context, id string, to types.DeliveryStatus, upd db.DeliveryUpdate) (*types.DeliveryLog, error)
	ListByNotification(ctx context.Context, notificationID string) ([]types.DeliveryLog, error)
}

// DeliveryManager owns Delivery Log state transitions. Every status change
// goes through it so the forward-only state machine holds.
type DeliveryManager interface {
	// Get loads a delivery log.
	Get(ctx context.Context, id string) (*types.DeliveryLog, error)

	// Prepare readies the attempt a job should make. A failed or interrupted
	// log is rolled forward into a new pending retry row; done is true when
	// the chain has already reached a terminal outcome.
	Prepare(ctx context.Context, id string) (log *types.DeliveryLog, done bool, err error)

	// Start moves a pending log to sending.
	Start(ctx context.Context, id string) (*types.DeliveryLog, error)

	// MarkSent records a provider acceptance.
	MarkSent(ctx context.Context, id string, providerMessageID string) error

	// MarkFailed records a failed attempt that may be retried.
	MarkFailed(ctx context.Context, id string, reason string) error

	// MarkRejected and MarkBounced record provider refusals; neither is retried.
	MarkRejected(ctx context.Context, id string, reason string) error
	MarkBounced(ctx context.Context, id string, reason string) error

	// MarkDelivered records a delivery receipt for a sent log.
	MarkDelivered(ctx context.Context, id string) error

	// CreateRetry appends a pending attempt after a failed one, with
	// RetryCount one higher. It fails with ErrCodeMaxRetriesExceeded when
	// the chain is out of retries.
	CreateRetry(ctx context.Context, previous *types.DeliveryLog) (*types.DeliveryLog, error)
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess  MetricResult = "success"
	MetricFailed   MetricResult = "failed"
	MetricRejected MetricResult = "rejected"
)

// NotificationMetrics abstracts delivery telemetry.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.Channel, result MetricResult)
	RecordLatency(ctx context.Context, channel types.Channel, duration time.Duration)
	RecordQueueLag(ctx context.Context, channel types.Channel, lag time.Duration)
	RecordNotificationCreated(ctx context.Context, kind types.NotificationType, deduplicated bool)
}

// AlertPublisher reports delivery chains that failed for good.
type AlertPublisher interface {
	PublishFailure(ctx context.Context, alert types.DeliveryFailureAlert) error
}

// RetryPolicy bounds a delivery retry chain and spaces its attempts.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy allows three retries spaced 5s, 10s, 20s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    3,
	BaseDelay:     5 * time.Second,
	MaxDelay:      5 * time.Minute,
	BackoffFactor: 2.0,
}

// Backoff converts the policy into the queue's retry schedule.
func (p RetryPolicy) Backoff() queue.Backoff {
	return queue.Backoff{Base: p.BaseDelay, Factor: p.BackoffFactor, Max: p.MaxDelay}
}

// CalculateNextRetry computes the delay before retrying after the given
// zero-based attempt: min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return policy.Backoff().Delay(attempt + 1)
}
