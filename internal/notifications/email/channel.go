// Package email is the email half of the channel workers: it resolves the
// content of an email delivery, hands it to the configured transport and
// turns provider receipts into delivery log transitions.
package email

import (
	"context"
	"fmt"
	"html"
	"strings"

	"medinotify/internal/external"
	"medinotify/internal/notifications/core"
	"medinotify/internal/types"
)

// ChannelConfig holds the dependencies of an email Channel.
type ChannelConfig struct {
	Sender      external.EmailSender
	Templates   core.TemplateRenderer
	FromAddress string
	FromName    string
	Logger      types.Logger
}

// Channel implements core.Channel for email.
type Channel struct {
	sender      external.EmailSender
	templates   core.TemplateRenderer
	fromAddress string
	fromName    string
	logger      types.Logger
}

// NewChannel creates an email Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Channel{
		sender:      cfg.Sender,
		templates:   cfg.Templates,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		logger:      logger.With("channel", string(types.ChannelEmail)),
	}
}

func (c *Channel) Channel() types.Channel   { return types.ChannelEmail }
func (c *Channel) Provider() types.Provider { return c.sender.Provider() }

// RejectionStatus is bounced: a refused address behaves like a hard bounce.
func (c *Channel) RejectionStatus() types.DeliveryStatus { return types.DeliveryBounced }

func (c *Channel) Redact(address string) string { return RedactEmail(address) }

// Compose picks the first available content source: the template's email
// sub-templates, the template's title/body, the job's fallback fields, and
// finally the notification's own title/body wrapped in minimal markup.
func (c *Channel) Compose(ctx context.Context, job types.ChannelJob, n *types.Notification) (core.Message, error) {
	if job.TemplateType != "" && len(job.TemplateData) > 0 && c.templates != nil {
		rendered, err := c.templates.RenderActive(ctx, job.TemplateType, job.Language, job.TemplateData)
		if err == nil {
			if msg, ok := fromRendered(rendered); ok {
				return msg, nil
			}
		} else {
			c.logger.Warn("template render failed, using fallback content",
				"notification_id", job.NotificationID,
				"template_type", string(job.TemplateType),
				"error", err.Error(),
			)
		}
	}

	if job.FallbackSubject != "" && job.FallbackBody != "" {
		return wrap(job.FallbackSubject, job.FallbackBody), nil
	}
	if n != nil && n.Title != "" && n.Body != "" {
		return wrap(n.Title, n.Body), nil
	}
	return core.Message{}, types.NewAppErrorWithDetails(types.ErrCodeMissingContent,
		"no email content available", nil, map[string]any{"notification_id": job.NotificationID})
}

func fromRendered(r *types.RenderedContent) (core.Message, bool) {
	if r == nil {
		return core.Message{}, false
	}
	if nonEmpty(r.EmailSubject) && nonEmpty(r.EmailBody) {
		msg := core.Message{Subject: *r.EmailSubject, HTML: *r.EmailBody}
		if nonEmpty(r.Body) {
			msg.Text = *r.Body
		}
		return msg, true
	}
	if nonEmpty(r.Title) && nonEmpty(r.Body) {
		return wrap(*r.Title, *r.Body), true
	}
	return core.Message{}, false
}

func nonEmpty(s *string) bool { return s != nil && strings.TrimSpace(*s) != "" }

// wrap turns plain text into a minimal HTML document plus its text part.
func wrap(subject, body string) core.Message {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><body>")
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(subject))
	for _, para := range strings.Split(strings.TrimSpace(body), "\n\n") {
		escaped := html.EscapeString(strings.TrimSpace(para))
		fmt.Fprintf(&b, "<p>%s</p>", strings.ReplaceAll(escaped, "\n", "<br>"))
	}
	b.WriteString("</body></html>")
	return core.Message{Subject: subject, Text: body, HTML: b.String()}
}

// Send delivers msg to address through the configured transport.
func (c *Channel) Send(ctx context.Context, address string, msg core.Message) (core.SendResult, error) {
	id, err := c.sender.Send(ctx, external.EmailMessage{
		To:          address,
		FromName:    c.fromName,
		FromAddress: c.fromAddress,
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Text:        msg.Text,
		ReferenceID: msg.ReferenceID,
	})
	if err != nil {
		return core.SendResult{}, err
	}
	return core.SendResult{ProviderMessageID: id}, nil
}

var _ core.Channel = (*Channel)(nil)
