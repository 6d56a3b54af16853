package core

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"medinotify/internal/queue"
	"medinotify/internal/types"
)

// NotificationStore persists a notification together with its first
// delivery attempts. On a dedup hit it returns created=false, rewrites n to
// the stored notification and returns the stored attempts.
type NotificationStore interface {
	CreateWithDeliveries(ctx context.Context, n *types.Notification, logs []*types.DeliveryLog) (created bool, existing []types.DeliveryLog, err error)
}

// TemplateRenderer renders the active template for a kind and language.
type TemplateRenderer interface {
	RenderActive(ctx context.Context, kind types.NotificationType, language string, data types.DataBag) (*types.RenderedContent, error)
}

// JobEnqueuer adds a job to a channel queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, data any, opts queue.EnqueueOptions) (*queue.Job, bool, error)
}

// ChannelRoute is where the orchestrator sends jobs for one channel.
type ChannelRoute struct {
	Queue    JobEnqueuer
	Provider types.Provider
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Store     NotificationStore
	Templates TemplateRenderer
	Email     ChannelRoute
	SMS       ChannelRoute
	Metrics   NotificationMetrics
	Logger    types.Logger
	Clock     types.Clock

	// ResolveMissingAddresses creates attempts for requested channels that
	// carry no contact address; the worker then looks the address up.
	ResolveMissingAddresses bool
}

// Orchestrator turns a notification intent into a persisted Notification,
// its pending delivery logs and one queued job per channel.
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger types.Logger
	clock  types.Clock
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Orchestrator{cfg: cfg, logger: logger, clock: clock}
}

type channelRequest struct {
	channel types.Channel
	address string
	route   ChannelRoute
}

// CreateNotification renders content, persists the notification with one
// pending delivery log per requested channel and enqueues the channel jobs.
// Delivery outcomes are not reflected here.
//
// Explicit title and body win over rendered ones; rendered ones fill gaps. A
// notification that still lacks a title or body fails with
// ErrCodeMissingContent and nothing is written.
func (o *Orchestrator) CreateNotification(ctx context.Context, in types.CreateNotificationInput) (*types.Notification, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	title, body, err := o.resolveContent(ctx, in)
	if err != nil {
		return nil, err
	}

	n := &types.Notification{
		ID:            uuid.NewString(),
		RecipientID:   in.RecipientID,
		RecipientType: in.RecipientType,
		Type:          in.Type,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Title:         title,
		Body:          body,
		DedupKey:      in.DedupKey,
		CreatedAt:     o.clock.Now().UTC(),
	}

	requests := o.channelRequests(in)
	logs := make([]*types.DeliveryLog, len(requests))
	for i, req := range requests {
		logs[i] = &types.DeliveryLog{
			ID:       uuid.NewString(),
			Channel:  req.channel,
			Status:   types.DeliveryPending,
			Provider: req.route.Provider,
		}
	}

	created, existing, err := o.cfg.Store.CreateWithDeliveries(ctx, n, logs)
	if err != nil {
		return nil, err
	}

	log := o.logger.With("notification_id", n.ID, "type", string(n.Type), "recipient_id", n.RecipientID)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordNotificationCreated(ctx, n.Type, !created)
	}

	if !created {
		log.Info("duplicate notification suppressed", "dedup_key", in.DedupKey)
		return n, o.reenqueuePending(ctx, n, in, existing, requests)
	}

	for i, req := range requests {
		if err := o.enqueue(ctx, req, logs[i], n, in); err != nil {
			return nil, err
		}
	}

	log.Info("notification created", "channels", len(requests))
	return n, nil
}

func validateInput(in types.CreateNotificationInput) error {
	if strings.TrimSpace(in.RecipientID) == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"recipient id is required", nil, map[string]any{"field": "recipientId"})
	}
	checks := []struct {
		field string
		valid bool
		value string
	}{
		{"recipientType", in.RecipientType.Valid(), string(in.RecipientType)},
		{"type", in.Type.Valid(), string(in.Type)},
		{"referenceType", in.ReferenceType.Valid(), string(in.ReferenceType)},
	}
	for _, c := range checks {
		if !c.valid {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEnum,
				"invalid "+c.field, nil, map[string]any{"field": c.field, "value": c.value})
		}
	}
	if in.TemplateType != "" && !in.TemplateType.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEnum,
			"invalid templateType", nil, map[string]any{"field": "templateType", "value": string(in.TemplateType)})
	}
	return nil
}

func (o *Orchestrator) resolveContent(ctx context.Context, in types.CreateNotificationInput) (string, string, error) {
	title, body := in.Title, in.Body

	var renderErr error
	if in.TemplateType != "" && in.TemplateData != nil && o.cfg.Templates != nil {
		rendered, err := o.cfg.Templates.RenderActive(ctx, in.TemplateType, in.Language, in.TemplateData)
		switch {
		case err == nil:
			if title == "" && rendered.Title != nil {
				title = *rendered.Title
			}
			if body == "" && rendered.Body != nil {
				body = *rendered.Body
			}
		case types.IsCode(err, types.ErrCodeTemplateNotFound):
			renderErr = err
			o.logger.Warn("no active template, using explicit content",
				"template_type", string(in.TemplateType), "language", in.Language)
		case in.Title != "" && in.Body != "":
			o.logger.Warn("template render failed, using explicit content",
				"template_type", string(in.TemplateType), "error", err.Error())
		default:
			return "", "", err
		}
	}

	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return "", "", types.NewAppErrorWithDetails(types.ErrCodeMissingContent,
			"notification has no title or body after rendering", renderErr,
			map[string]any{
				"type":          string(in.Type),
				"template_type": string(in.TemplateType),
				"has_title":     title != "",
				"has_body":      body != "",
			})
	}
	return title, body, nil
}

func (o *Orchestrator) channelRequests(in types.CreateNotificationInput) []channelRequest {
	var out []channelRequest
	add := func(requested bool, channel types.Channel, address string, route ChannelRoute) {
		address = strings.TrimSpace(address)
		if !requested || route.Queue == nil {
			return
		}
		if address == "" && !o.cfg.ResolveMissingAddresses {
			o.logger.Warn("channel requested without contact address, skipping",
				"channel", string(channel), "recipient_id", in.RecipientID)
			return
		}
		out = append(out, channelRequest{channel: channel, address: address, route: route})
	}
	add(in.SendEmail, types.ChannelEmail, in.EmailAddress, o.cfg.Email)
	add(in.SendSMS, types.ChannelSMS, in.PhoneNumber, o.cfg.SMS)
	return out
}

func (o *Orchestrator) enqueue(ctx context.Context, req channelRequest, entry *types.DeliveryLog, n *types.Notification, in types.CreateNotificationInput) error {
	job := types.ChannelJob{
		DeliveryLogID:   entry.ID,
		NotificationID:  n.ID,
		ContactAddress:  req.address,
		FallbackSubject: n.Title,
		FallbackBody:    n.Body,
	}
	if in.TemplateType != "" && in.TemplateData != nil {
		job.TemplateType = in.TemplateType
		job.TemplateData = in.TemplateData
		job.Language = in.Language
	}

	// The first attempt's ID names the job for the whole retry chain.
	_, added, err := req.route.Queue.Enqueue(ctx, job, queue.EnqueueOptions{JobID: entry.ID})
	if err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalQueue,
			"failed to enqueue delivery job", err,
			map[string]any{"notification_id": n.ID, "delivery_log_id": entry.ID, "channel": string(req.channel)})
	}
	if added {
		o.logger.Info("delivery job enqueued",
			"notification_id", n.ID,
			"delivery_log_id", entry.ID,
			"channel", string(req.channel),
		)
	}
	return nil
}

// reenqueuePending re-publishes jobs for first attempts that never left
// pending, which happens when the process died between commit and enqueue.
func (o *Orchestrator) reenqueuePending(ctx context.Context, n *types.Notification, in types.CreateNotificationInput, existing []types.DeliveryLog, requests []channelRequest) error {
	for i := range existing {
		entry := existing[i]
		if entry.Status != types.DeliveryPending || entry.RetryCount != 0 {
			continue
		}
		for _, req := range requests {
			if req.channel != entry.Channel {
				continue
			}
			if err := o.enqueue(ctx, req, &entry, n, in); err != nil {
				return err
			}
		}
	}
	return nil
}
