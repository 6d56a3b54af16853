package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medinotify/internal/db"
	"medinotify/internal/queue"
	"medinotify/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// memDeliveryRepo is an in-memory DeliveryRepository that enforces the same
// forward-only transitions and one-row-per-retry-count chain as the SQL
// repository.
type memDeliveryRepo struct {
	mu   sync.Mutex
	logs map[string]*types.DeliveryLog
	seq  int

	createErr error
}

func newMemDeliveryRepo() *memDeliveryRepo {
	return &memDeliveryRepo{logs: map[string]*types.DeliveryLog{}}
}

func (r *memDeliveryRepo) seed(d types.DeliveryLog) *types.DeliveryLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if d.ID == "" {
		d.ID = fmt.Sprintf("dl_%d", r.seq)
	}
	cp := d
	r.logs[d.ID] = &cp
	return &d
}

func (r *memDeliveryRepo) Create(_ context.Context, d *types.DeliveryLog) error {
	if r.createErr != nil {
		return r.createErr
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = types.DeliveryPending
	}
	r.mu.Lock()
	for _, existing := range r.logs {
		if existing.NotificationID == d.NotificationID && existing.Channel == d.Channel && existing.RetryCount == d.RetryCount {
			r.mu.Unlock()
			return types.NewAppError(types.ErrCodeInvalidTransition, "delivery attempt already exists for this retry count", nil)
		}
	}
	r.mu.Unlock()
	r.seed(*d)
	return nil
}

func (r *memDeliveryRepo) GetByID(_ context.Context, id string) (*types.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.logs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundDeliveryLog, "delivery log not found", nil)
	}
	cp := *d
	return &cp, nil
}

func (r *memDeliveryRepo) Transition(_ context.Context, id string, to types.DeliveryStatus, upd db.DeliveryUpdate) (*types.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.logs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundDeliveryLog, "delivery log not found", nil)
	}
	if !d.Status.CanTransitionTo(to) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInvalidTransition, "invalid transition", nil,
			map[string]any{"from": string(d.Status), "to": string(to)})
	}
	d.Status = to
	if upd.ProviderMessageID != "" {
		d.ProviderMessageID = upd.ProviderMessageID
	}
	if upd.ErrorMessage != "" {
		d.ErrorMessage = upd.ErrorMessage
	}
	cp := *d
	return &cp, nil
}

func (r *memDeliveryRepo) ListByNotification(_ context.Context, notificationID string) ([]types.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.DeliveryLog
	for _, d := range r.logs {
		if d.NotificationID == notificationID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].RetryCount < out[j].RetryCount
	})
	return out, nil
}

// memNotificationStore implements NotificationStore and NotificationReader
// on top of a memDeliveryRepo.
type memNotificationStore struct {
	mu            sync.Mutex
	notifications map[string]*types.Notification
	byDedup       map[string]string
	deliveries    *memDeliveryRepo
	calls         int
}

func newMemNotificationStore(deliveries *memDeliveryRepo) *memNotificationStore {
	return &memNotificationStore{
		notifications: map[string]*types.Notification{},
		byDedup:       map[string]string{},
		deliveries:    deliveries,
	}
}

func (s *memNotificationStore) CreateWithDeliveries(ctx context.Context, n *types.Notification, logs []*types.DeliveryLog) (bool, []types.DeliveryLog, error) {
	s.mu.Lock()
	s.calls++
	if n.DedupKey != "" {
		if id, ok := s.byDedup[n.DedupKey]; ok {
			*n = *s.notifications[id]
			s.mu.Unlock()
			existing, err := s.deliveries.ListByNotification(ctx, id)
			return false, existing, err
		}
		s.byDedup[n.DedupKey] = n.ID
	}
	cp := *n
	s.notifications[n.ID] = &cp
	s.mu.Unlock()

	for _, l := range logs {
		l.NotificationID = n.ID
		if err := s.deliveries.Create(ctx, l); err != nil {
			return false, nil, err
		}
	}
	return true, nil, nil
}

func (s *memNotificationStore) GetByID(_ context.Context, id string) (*types.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found", nil)
	}
	cp := *n
	return &cp, nil
}

func (s *memNotificationStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

type enqueuedJob struct {
	JobID string
	Data  types.ChannelJob
}

// fakeEnqueuer records jobs and, like the Redis queue, ignores a job id it
// has already seen.
type fakeEnqueuer struct {
	jobs []enqueuedJob
	seen map[string]bool
	err  error
}

func (q *fakeEnqueuer) Enqueue(_ context.Context, data any, opts queue.EnqueueOptions) (*queue.Job, bool, error) {
	if q.err != nil {
		return nil, false, q.err
	}
	if q.seen == nil {
		q.seen = map[string]bool{}
	}
	job := &queue.Job{ID: opts.JobID}
	if err := job.SetData(data); err != nil {
		return nil, false, err
	}
	if q.seen[opts.JobID] {
		return job, false, nil
	}
	q.seen[opts.JobID] = true
	var cj types.ChannelJob
	_ = job.Decode(&cj)
	q.jobs = append(q.jobs, enqueuedJob{JobID: opts.JobID, Data: cj})
	return job, true, nil
}

type fakeRenderer struct {
	content *types.RenderedContent
	err     error
	calls   int
}

func (r *fakeRenderer) RenderActive(_ context.Context, _ types.NotificationType, _ string, _ types.DataBag) (*types.RenderedContent, error) {
	r.calls++
	return r.content, r.err
}

// recordingMetrics counts calls per method.
type recordingMetrics struct {
	mu         sync.Mutex
	deliveries map[MetricResult]int
	latencies  int
	queueLags  int
	created    map[bool]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{deliveries: map[MetricResult]int{}, created: map[bool]int{}}
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, _ types.Channel, result MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[result]++
}

func (m *recordingMetrics) RecordLatency(context.Context, types.Channel, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *recordingMetrics) RecordQueueLag(context.Context, types.Channel, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueLags++
}

func (m *recordingMetrics) RecordNotificationCreated(_ context.Context, _ types.NotificationType, deduplicated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[deduplicated]++
}

type fakeAlerts struct {
	alerts []types.DeliveryFailureAlert
	err    error
}

func (a *fakeAlerts) PublishFailure(_ context.Context, alert types.DeliveryFailureAlert) error {
	a.alerts = append(a.alerts, alert)
	return a.err
}

// fakeChannel is a scripted Channel: each Send pops the next error from
// sendErrs, succeeding once the script runs out.
type fakeChannel struct {
	channel   types.Channel
	rejection types.DeliveryStatus
	sendErrs  []error

	composeErr error
	sent       []string
}

func (c *fakeChannel) Channel() types.Channel   { return c.channel }
func (c *fakeChannel) Provider() types.Provider { return types.ProviderStub }

func (c *fakeChannel) Compose(_ context.Context, job types.ChannelJob, n *types.Notification) (Message, error) {
	if c.composeErr != nil {
		return Message{}, c.composeErr
	}
	subject := job.FallbackSubject
	if subject == "" {
		subject = n.Title
	}
	return Message{Subject: subject, Text: n.Body}, nil
}

func (c *fakeChannel) Send(_ context.Context, address string, _ Message) (SendResult, error) {
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return SendResult{}, err
		}
	}
	c.sent = append(c.sent, address)
	return SendResult{ProviderMessageID: fmt.Sprintf("msg_%d", len(c.sent))}, nil
}

func (c *fakeChannel) RejectionStatus() types.DeliveryStatus {
	if c.rejection == "" {
		return types.DeliveryRejected
	}
	return c.rejection
}

func (c *fakeChannel) Redact(address string) string { return "***" }

type fakeResolver struct {
	address string
	err     error
	calls   int
}

func (r *fakeResolver) ResolveAddress(context.Context, string, types.Channel) (string, error) {
	r.calls++
	return r.address, r.err
}
