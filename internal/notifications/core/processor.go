package core

import (
	"context"
	"errors"
	"strings"

	"medinotify/internal/queue"
	"medinotify/internal/types"
)

// Message is channel content ready for a provider.
type Message struct {
	Subject string
	Text    string
	HTML    string

	// Segments and Encoding describe SMS billing units; zero for email.
	Segments int
	Encoding string

	// ReferenceID tags the provider message with the delivery log id.
	ReferenceID string
}

// SendResult is a provider acceptance.
type SendResult struct {
	ProviderMessageID string
}

// Channel is the channel-specific half of a delivery job.
type Channel interface {
	Channel() types.Channel
	Provider() types.Provider

	// Compose resolves the content to send for n.
	Compose(ctx context.Context, job types.ChannelJob, n *types.Notification) (Message, error)

	// Send hands msg to the provider. A refusal that retrying cannot fix is
	// reported with ErrCodeProviderRejected.
	Send(ctx context.Context, address string, msg Message) (SendResult, error)

	// RejectionStatus is the terminal status recorded for a refusal.
	RejectionStatus() types.DeliveryStatus

	// Redact masks address for logs.
	Redact(address string) string
}

// NotificationReader loads notifications.
type NotificationReader interface {
	GetByID(ctx context.Context, id string) (*types.Notification, error)
}

// AddressResolver looks up a recipient's current contact address.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, recipientID string, channel types.Channel) (string, error)
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Channel       Channel
	Deliveries    DeliveryManager
	Notifications NotificationReader
	Resolver      AddressResolver
	Metrics       NotificationMetrics
	Alerts        AlertPublisher
	Logger        types.Logger
	Clock         types.Clock
}

// Processor runs delivery jobs for one channel.
type Processor struct {
	channel       Channel
	deliveries    DeliveryManager
	notifications NotificationReader
	resolver      AddressResolver
	metrics       NotificationMetrics
	alerts        AlertPublisher
	logger        types.Logger
	clock         types.Clock
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		channel:       cfg.Channel,
		deliveries:    cfg.Deliveries,
		notifications: cfg.Notifications,
		resolver:      cfg.Resolver,
		metrics:       cfg.Metrics,
		alerts:        cfg.Alerts,
		logger:        cfg.Logger,
		clock:         cfg.Clock,
	}
	if p.logger == nil {
		p.logger = types.NopLogger{}
	}
	if p.clock == nil {
		p.clock = types.RealClock{}
	}
	if p.metrics == nil {
		p.metrics = NopMetrics{}
	}
	p.logger = p.logger.With("channel", string(cfg.Channel.Channel()))
	return p
}

// Handle is the queue.Handler for the channel. Per attempt it readies the
// newest delivery log, marks it sending, resolves content and address, calls
// the provider and records the outcome. A returned error makes the queue
// retry; queue.Permanent errors end the chain.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	var cj types.ChannelJob
	if err := job.Decode(&cj); err != nil {
		return queue.Permanent(types.NewAppError(types.ErrCodeMalformedEvent, "undecodable delivery job", err))
	}
	channel := p.channel.Channel()
	if job.Attempt == 1 {
		p.metrics.RecordQueueLag(ctx, channel, p.clock.Now().Sub(job.EnqueuedAt))
	}

	entry, done, err := p.deliveries.Prepare(ctx, cj.DeliveryLogID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeMaxRetriesExceeded) || types.IsCode(err, types.ErrCodeNotFoundDeliveryLog) {
			return queue.Permanent(err)
		}
		return err
	}
	log := p.logger.With(
		"job_id", job.ID,
		"attempt", job.Attempt,
		"delivery_log_id", entry.ID,
		"notification_id", cj.NotificationID,
		"retry_count", entry.RetryCount,
	)
	if done {
		log.Info("delivery already finalized, skipping", "status", string(entry.Status))
		return nil
	}
	if entry.ID != cj.DeliveryLogID {
		cj.DeliveryLogID = entry.ID
		if err := job.SetData(cj); err != nil {
			return err
		}
	}

	if _, err := p.deliveries.Start(ctx, entry.ID); err != nil {
		return err
	}

	n, err := p.notifications.GetByID(ctx, cj.NotificationID)
	if err != nil {
		return p.fail(ctx, log, entry.ID, err)
	}

	msg, err := p.channel.Compose(ctx, cj, n)
	if err != nil {
		return p.fail(ctx, log, entry.ID, err)
	}
	msg.ReferenceID = entry.ID

	address, err := p.resolveAddress(ctx, cj, n)
	if err != nil {
		return p.fail(ctx, log, entry.ID, err)
	}

	started := p.clock.Now()
	result, err := p.channel.Send(ctx, address, msg)
	p.metrics.RecordLatency(ctx, channel, p.clock.Now().Sub(started))
	if err != nil {
		if types.IsCode(err, types.ErrCodeProviderRejected) {
			return p.reject(ctx, log, entry.ID, address, err)
		}
		return p.fail(ctx, log, entry.ID, err)
	}

	if err := p.deliveries.MarkSent(ctx, entry.ID, result.ProviderMessageID); err != nil {
		// The provider accepted the message; a retry would send it twice.
		log.Error("failed to record sent delivery", "error", err.Error())
		p.metrics.RecordDelivery(ctx, channel, MetricSuccess)
		return queue.Permanent(err)
	}
	p.metrics.RecordDelivery(ctx, channel, MetricSuccess)
	log.Info("delivery sent",
		"to", p.channel.Redact(address),
		"provider", string(p.channel.Provider()),
		"segments", msg.Segments,
	)
	return nil
}

func (p *Processor) resolveAddress(ctx context.Context, cj types.ChannelJob, n *types.Notification) (string, error) {
	if addr := strings.TrimSpace(cj.ContactAddress); addr != "" {
		return addr, nil
	}
	unresolved := func(cause error) error {
		return types.NewAppErrorWithDetails(types.ErrCodeAddressUnresolved,
			"no contact address for recipient", cause,
			map[string]any{"recipient_id": n.RecipientID, "channel": string(p.channel.Channel())})
	}
	if p.resolver == nil {
		return "", unresolved(nil)
	}
	addr, err := p.resolver.ResolveAddress(ctx, n.RecipientID, p.channel.Channel())
	if err != nil {
		return "", unresolved(err)
	}
	if addr = strings.TrimSpace(addr); addr == "" {
		return "", unresolved(nil)
	}
	return addr, nil
}

// fail records a retryable failure and returns cause for the queue.
func (p *Processor) fail(ctx context.Context, log types.Logger, id string, cause error) error {
	p.metrics.RecordDelivery(ctx, p.channel.Channel(), MetricFailed)
	if err := p.deliveries.MarkFailed(ctx, id, cause.Error()); err != nil {
		log.Error("failed to record failed delivery", "error", err.Error(), "cause", cause.Error())
		return errors.Join(cause, err)
	}
	log.Warn("delivery attempt failed", "error", cause.Error(), "error_code", string(types.CodeOf(cause)))
	return cause
}

func (p *Processor) reject(ctx context.Context, log types.Logger, id, address string, cause error) error {
	p.metrics.RecordDelivery(ctx, p.channel.Channel(), MetricRejected)

	var err error
	if p.channel.RejectionStatus() == types.DeliveryBounced {
		err = p.deliveries.MarkBounced(ctx, id, cause.Error())
	} else {
		err = p.deliveries.MarkRejected(ctx, id, cause.Error())
	}
	if err != nil {
		log.Error("failed to record provider refusal", "error", err.Error(), "cause", cause.Error())
	}
	log.Error("provider refused delivery", "to", p.channel.Redact(address), "error", cause.Error())
	return queue.Permanent(cause)
}

// HandleFailure is the pool's failure hook. It raises a dead-letter alert for
// a chain that will not be retried again.
func (p *Processor) HandleFailure(ctx context.Context, job *queue.Job, cause error) {
	var cj types.ChannelJob
	_ = job.Decode(&cj)

	alert := types.DeliveryFailureAlert{
		DeliveryLogID:  cj.DeliveryLogID,
		NotificationID: cj.NotificationID,
		Channel:        p.channel.Channel(),
		Status:         types.DeliveryFailed,
		Reason:         cause.Error(),
		ErrorCode:      types.CodeOf(cause),
		OccurredAt:     p.clock.Now().UTC(),
	}
	if entry, err := p.deliveries.Get(ctx, cj.DeliveryLogID); err == nil {
		alert.Status = entry.Status
		alert.RetryCount = entry.RetryCount
	}

	if p.alerts == nil {
		p.logger.Error("delivery chain failed",
			"delivery_log_id", alert.DeliveryLogID,
			"notification_id", alert.NotificationID,
			"status", string(alert.Status),
			"retry_count", alert.RetryCount,
			"reason", alert.Reason,
		)
		return
	}
	if err := p.alerts.PublishFailure(ctx, alert); err != nil {
		p.logger.Error("failed to publish delivery failure alert",
			"delivery_log_id", alert.DeliveryLogID, "error", err.Error())
	}
}
