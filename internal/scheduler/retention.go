// Package scheduler runs periodic maintenance tasks for the notification
// service on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medinotify/internal/types"
)

// NotificationPurger deletes notifications created before a cutoff.
type NotificationPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryLogPurger deletes successful delivery attempts made before a cutoff.
type DeliveryLogPurger interface {
	DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionResult reports what a cleanup run removed.
type RetentionResult struct {
	Cutoff        time.Time
	Notifications int64
	DeliveryLogs  int64
}

// RetentionService enforces the notification retention window. Failed,
// bounced and rejected delivery logs are never removed by it.
type RetentionService struct {
	notifications NotificationPurger
	deliveries    DeliveryLogPurger
	window        time.Duration
	clock         types.Clock
	logger        types.Logger
}

// RetentionOption customizes a RetentionService.
type RetentionOption func(*RetentionService)

// WithClock overrides the time source.
func WithClock(c types.Clock) RetentionOption {
	return func(s *RetentionService) { s.clock = c }
}

// NewRetentionService creates a RetentionService that keeps rows for window.
func NewRetentionService(notifications NotificationPurger, deliveries DeliveryLogPurger, window time.Duration, logger types.Logger, opts ...RetentionOption) *RetentionService {
	if logger == nil {
		logger = types.NopLogger{}
	}
	s := &RetentionService{
		notifications: notifications,
		deliveries:    deliveries,
		window:        window,
		clock:         types.RealClock{},
		logger:        logger.With("component", "retention"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Purge deletes rows older than the retention window. Both tables are
// attempted even when one fails; the errors are joined.
func (s *RetentionService) Purge(ctx context.Context) (RetentionResult, error) {
	res := RetentionResult{Cutoff: s.clock.Now().UTC().Add(-s.window)}
	if s.window <= 0 {
		return res, types.NewAppError(types.ErrCodeValidationFailed, "retention window must be positive", nil)
	}

	var errs []error
	logs, err := s.deliveries.DeleteSucceededBefore(ctx, res.Cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("purging delivery logs: %w", err))
	}
	res.DeliveryLogs = logs

	notifications, err := s.notifications.DeleteBefore(ctx, res.Cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("purging notifications: %w", err))
	}
	res.Notifications = notifications

	s.logger.Info("retention cleanup complete",
		"cutoff", res.Cutoff.Format(time.RFC3339),
		"notifications_deleted", res.Notifications,
		"delivery_logs_deleted", res.DeliveryLogs,
	)
	return res, errors.Join(errs...)
}

// Task adapts Purge to a scheduler Task.
func (s *RetentionService) Task() Task {
	return func(ctx context.Context) error {
		_, err := s.Purge(ctx)
		return err
	}
}
