package api

import (
	"context"
	"time"

	"medinotify/internal/notifications/email"
	"medinotify/internal/queue"
	"medinotify/internal/types"
)

type fakeNotifications struct {
	byID       map[string]*types.Notification
	list       []types.Notification
	page       types.PageInfo
	lastFilter types.NotificationFilter
	count      int64
	countSince time.Time
	stats      *types.NotificationStats
	err        error
}

func (f *fakeNotifications) GetByID(_ context.Context, id string) (*types.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	n, ok := f.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found", nil)
	}
	return n, nil
}

func (f *fakeNotifications) List(_ context.Context, filter types.NotificationFilter) ([]types.Notification, types.PageInfo, error) {
	f.lastFilter = filter
	return f.list, f.page, f.err
}

func (f *fakeNotifications) CountByRecipient(_ context.Context, _ string, since time.Time) (int64, error) {
	f.countSince = since
	return f.count, f.err
}

func (f *fakeNotifications) Stats(_ context.Context, _ time.Time) (*types.NotificationStats, error) {
	return f.stats, f.err
}

type fakeDeliveries struct {
	logs         []types.DeliveryLog
	rates        []types.DeliveryRate
	buckets      []types.FailureBucket
	failureLimit int
	err          error
}

func (f *fakeDeliveries) ListByNotification(context.Context, string) ([]types.DeliveryLog, error) {
	return f.logs, f.err
}

func (f *fakeDeliveries) DeliveryRates(context.Context, time.Time) ([]types.DeliveryRate, error) {
	return f.rates, f.err
}

func (f *fakeDeliveries) FailureAnalysis(_ context.Context, _ time.Time, limit int) ([]types.FailureBucket, error) {
	f.failureLimit = limit
	return f.buckets, f.err
}

type fakeReceipts struct {
	got []email.Receipt
	err error
}

func (f *fakeReceipts) Process(_ context.Context, receipts []email.Receipt) (email.ReceiptSummary, error) {
	f.got = receipts
	return email.ReceiptSummary{Applied: len(receipts)}, f.err
}

type fakeQueue struct {
	name   string
	counts queue.Counts
	err    error
}

func (f fakeQueue) Name() string { return f.name }

func (f fakeQueue) Stats(context.Context) (queue.Counts, error) { return f.counts, f.err }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
