// Package sms is the SMS half of the channel workers: content resolution,
// length limiting and segment accounting on top of an SMS transport.
package sms

import (
	"context"
	"strings"

	"medinotify/internal/external"
	"medinotify/internal/notifications/core"
	"medinotify/internal/types"
)

// DefaultMaxLength is one GSM-7 segment.
const DefaultMaxLength = 160

// ChannelConfig holds the dependencies of an SMS Channel.
type ChannelConfig struct {
	Sender    external.SMSSender
	Templates core.TemplateRenderer
	SenderID  string
	MaxLength int
	Logger    types.Logger
}

// Channel implements core.Channel for SMS.
type Channel struct {
	sender    external.SMSSender
	templates core.TemplateRenderer
	senderID  string
	maxLength int
	logger    types.Logger
}

// NewChannel creates an SMS Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Channel{
		sender:    cfg.Sender,
		templates: cfg.Templates,
		senderID:  cfg.SenderID,
		maxLength: maxLength,
		logger:    logger.With("channel", string(types.ChannelSMS)),
	}
}

func (c *Channel) Channel() types.Channel   { return types.ChannelSMS }
func (c *Channel) Provider() types.Provider { return c.sender.Provider() }

// RejectionStatus is rejected: carriers refuse numbers, they do not bounce.
func (c *Channel) RejectionStatus() types.DeliveryStatus { return types.DeliveryRejected }

func (c *Channel) Redact(address string) string { return RedactPhone(address) }

// Compose picks the template's sms sub-template, then its body, then the
// job's fallback body, then the notification itself cut to the length limit.
func (c *Channel) Compose(ctx context.Context, job types.ChannelJob, n *types.Notification) (core.Message, error) {
	text := ""
	if job.TemplateType != "" && len(job.TemplateData) > 0 && c.templates != nil {
		rendered, err := c.templates.RenderActive(ctx, job.TemplateType, job.Language, job.TemplateData)
		switch {
		case err != nil:
			c.logger.Warn("template render failed, using fallback content",
				"notification_id", job.NotificationID,
				"template_type", string(job.TemplateType),
				"error", err.Error(),
			)
		case rendered != nil && nonEmpty(rendered.SMS):
			text = *rendered.SMS
		case rendered != nil && nonEmpty(rendered.Body):
			text = *rendered.Body
		}
	}
	if text == "" {
		text = strings.TrimSpace(job.FallbackBody)
	}
	if text == "" && n != nil {
		text = Truncate(notificationText(n), c.maxLength)
	}
	if text == "" {
		return core.Message{}, types.NewAppErrorWithDetails(types.ErrCodeMissingContent,
			"no sms content available", nil, map[string]any{"notification_id": job.NotificationID})
	}

	segments, encoding := Segments(text)
	return core.Message{Text: text, Segments: segments, Encoding: encoding}, nil
}

func notificationText(n *types.Notification) string {
	title, body := strings.TrimSpace(n.Title), strings.TrimSpace(n.Body)
	switch {
	case title != "" && body != "":
		return title + ": " + body
	case body != "":
		return body
	}
	return title
}

func nonEmpty(s *string) bool { return s != nil && strings.TrimSpace(*s) != "" }

// Send delivers msg.Text to address through the configured transport.
func (c *Channel) Send(ctx context.Context, address string, msg core.Message) (core.SendResult, error) {
	id, err := c.sender.Send(ctx, external.SMSMessage{
		To:          address,
		SenderID:    c.senderID,
		Body:        msg.Text,
		ReferenceID: msg.ReferenceID,
	})
	if err != nil {
		return core.SendResult{}, err
	}
	return core.SendResult{ProviderMessageID: id}, nil
}

var _ core.Channel = (*Channel)(nil)
