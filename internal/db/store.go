package db

import (
	"context"

	"medinotify/internal/types"
)

// NotificationStore writes a notification and its first delivery attempts in
// one transaction, so a notification is never visible without its pending
// delivery logs.
type NotificationStore struct {
	pool TxBeginner
}

// NewNotificationStore creates a NotificationStore over a transaction source.
func NewNotificationStore(pool TxBeginner) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// CreateWithDeliveries persists n and, when n is new, each log in logs.
// On a dedup hit n is replaced with the stored notification, logs are left
// unwritten, created is false and existing holds the stored attempts.
func (s *NotificationStore) CreateWithDeliveries(ctx context.Context, n *types.Notification, logs []*types.DeliveryLog) (created bool, existing []types.DeliveryLog, err error) {
	err = RunInTx(ctx, s.pool, func(tx DBTX) error {
		notifications := NewNotificationRepository(tx)
		deliveries := NewDeliveryLogRepository(tx)

		created, err = notifications.Create(ctx, n)
		if err != nil {
			return err
		}
		if !created {
			existing, err = deliveries.ListByNotification(ctx, n.ID)
			return err
		}
		for _, attempt := range logs {
			attempt.NotificationID = n.ID
			if err := deliveries.Create(ctx, attempt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return created, existing, nil
}
