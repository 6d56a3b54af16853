package core

import (
	"context"
	"fmt"

	"medinotify/internal/db"
	"medinotify/internal/types"
)

// Compile-time assertion that DeliveryManagerImpl implements DeliveryManager.
var _ DeliveryManager = (*DeliveryManagerImpl)(nil)

const interruptedReason = "attempt interrupted before completion"

// DeliveryManagerImpl is the production DeliveryManager.
type DeliveryManagerImpl struct {
	repo        DeliveryRepository
	retryPolicy RetryPolicy
	logger      types.Logger
}

// NewDeliveryManager creates a DeliveryManagerImpl.
func NewDeliveryManager(repo DeliveryRepository, retryPolicy RetryPolicy, logger types.Logger) *DeliveryManagerImpl {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &DeliveryManagerImpl{
		repo:        repo,
		retryPolicy: retryPolicy,
		logger:      logger,
	}
}

func (m *DeliveryManagerImpl) Get(ctx context.Context, id string) (*types.DeliveryLog, error) {
	return m.repo.GetByID(ctx, id)
}

func (m *DeliveryManagerImpl) Prepare(ctx context.Context, id string) (*types.DeliveryLog, bool, error) {
	current, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status != types.DeliveryPending {
		// A job whose rewritten id was lost with a crashed worker still names
		// an older attempt; continue from the newest one instead.
		if current, err = m.chainHead(ctx, current); err != nil {
			return nil, false, err
		}
		id = current.ID
	}

	switch current.Status {
	case types.DeliveryPending:
		return current, false, nil

	case types.DeliverySending:
		// The previous run died between sending and recording the outcome.
		failed, err := m.repo.Transition(ctx, id, types.DeliveryFailed, db.DeliveryUpdate{ErrorMessage: interruptedReason})
		if err != nil {
			return nil, false, fmt.Errorf("Prepare: close interrupted attempt: %w", err)
		}
		m.logger.Warn("closed interrupted delivery attempt",
			"delivery_log_id", id,
			"notification_id", current.NotificationID,
			"channel", string(current.Channel),
		)
		next, err := m.CreateRetry(ctx, failed)
		return next, false, err

	case types.DeliveryFailed:
		next, err := m.CreateRetry(ctx, current)
		return next, false, err

	default:
		return current, true, nil
	}
}

// chainHead returns the attempt with the highest retry count in d's
// (notification, channel) chain.
func (m *DeliveryManagerImpl) chainHead(ctx context.Context, d *types.DeliveryLog) (*types.DeliveryLog, error) {
	logs, err := m.repo.ListByNotification(ctx, d.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("Prepare: load retry chain: %w", err)
	}
	head := d
	for i := range logs {
		if logs[i].Channel == d.Channel && logs[i].RetryCount > head.RetryCount {
			head = &logs[i]
		}
	}
	if head.ID != d.ID {
		m.logger.Warn("job referenced a superseded delivery attempt",
			"delivery_log_id", d.ID,
			"head_delivery_log_id", head.ID,
			"notification_id", d.NotificationID,
			"channel", string(d.Channel),
		)
	}
	return head, nil
}

func (m *DeliveryManagerImpl) Start(ctx context.Context, id string) (*types.DeliveryLog, error) {
	d, err := m.repo.Transition(ctx, id, types.DeliverySending, db.DeliveryUpdate{})
	if err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	return d, nil
}

func (m *DeliveryManagerImpl) MarkSent(ctx context.Context, id string, providerMessageID string) error {
	if _, err := m.repo.Transition(ctx, id, types.DeliverySent, db.DeliveryUpdate{ProviderMessageID: providerMessageID}); err != nil {
		return fmt.Errorf("MarkSent: %w", err)
	}
	m.logger.Info("delivery sent",
		"delivery_log_id", id,
		"provider_message_id", providerMessageID,
	)
	return nil
}

func (m *DeliveryManagerImpl) MarkFailed(ctx context.Context, id string, reason string) error {
	if _, err := m.repo.Transition(ctx, id, types.DeliveryFailed, db.DeliveryUpdate{ErrorMessage: reason}); err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}
	m.logger.Warn("delivery attempt failed",
		"delivery_log_id", id,
		"reason", reason,
	)
	return nil
}

func (m *DeliveryManagerImpl) MarkRejected(ctx context.Context, id string, reason string) error {
	if _, err := m.repo.Transition(ctx, id, types.DeliveryRejected, db.DeliveryUpdate{ErrorMessage: reason}); err != nil {
		return fmt.Errorf("MarkRejected: %w", err)
	}
	m.logger.Error("delivery rejected by provider",
		"delivery_log_id", id,
		"reason", reason,
	)
	return nil
}

func (m *DeliveryManagerImpl) MarkBounced(ctx context.Context, id string, reason string) error {
	if _, err := m.repo.Transition(ctx, id, types.DeliveryBounced, db.DeliveryUpdate{ErrorMessage: reason}); err != nil {
		return fmt.Errorf("MarkBounced: %w", err)
	}
	m.logger.Error("delivery bounced",
		"delivery_log_id", id,
		"reason", reason,
	)
	return nil
}

func (m *DeliveryManagerImpl) MarkDelivered(ctx context.Context, id string) error {
	if _, err := m.repo.Transition(ctx, id, types.DeliveryDelivered, db.DeliveryUpdate{}); err != nil {
		return fmt.Errorf("MarkDelivered: %w", err)
	}
	m.logger.Info("delivery confirmed", "delivery_log_id", id)
	return nil
}

func (m *DeliveryManagerImpl) CreateRetry(ctx context.Context, previous *types.DeliveryLog) (*types.DeliveryLog, error) {
	if previous.Status != types.DeliveryFailed {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInvalidTransition,
			"only failed attempts can be retried", nil,
			map[string]any{"delivery_log_id": previous.ID, "status": string(previous.Status)})
	}

	next := previous.RetryCount + 1
	if next > m.retryPolicy.MaxRetries {
		m.logger.Error("delivery retries exhausted",
			"delivery_log_id", previous.ID,
			"notification_id", previous.NotificationID,
			"channel", string(previous.Channel),
			"retry_count", previous.RetryCount,
		)
		return nil, types.NewAppErrorWithDetails(types.ErrCodeMaxRetriesExceeded,
			"delivery retries exhausted", nil,
			map[string]any{
				"delivery_log_id": previous.ID,
				"retry_count":     previous.RetryCount,
				"max_retries":     m.retryPolicy.MaxRetries,
			})
	}

	retry := &types.DeliveryLog{
		NotificationID: previous.NotificationID,
		Channel:        previous.Channel,
		Provider:       previous.Provider,
		Status:         types.DeliveryPending,
		RetryCount:     next,
	}
	if err := m.repo.Create(ctx, retry); err != nil {
		return nil, fmt.Errorf("CreateRetry: %w", err)
	}

	m.logger.Info("delivery retry created",
		"delivery_log_id", retry.ID,
		"previous_delivery_log_id", previous.ID,
		"notification_id", retry.NotificationID,
		"channel", string(retry.Channel),
		"retry_count", next,
	)
	return retry, nil
}
