package external

import (
	"context"

	"medinotify/internal/types"
)

// EmailMessage is a fully rendered email.
type EmailMessage struct {
	To          string
	FromName    string
	FromAddress string
	Subject     string
	HTML        string
	Text        string

	// ReferenceID tags the message with the delivery log id.
	ReferenceID string
}

// EmailSender transmits rendered email. Send returns the provider message id.
// A refusal that retrying cannot fix is reported with ErrCodeProviderRejected.
type EmailSender interface {
	Provider() types.Provider
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// SMSMessage is a text message ready to send.
type SMSMessage struct {
	To          string
	SenderID    string
	Body        string
	ReferenceID string
}

// SMSSender transmits SMS with the same error contract as EmailSender.
type SMSSender interface {
	Provider() types.Provider
	Send(ctx context.Context, msg SMSMessage) (string, error)
}

// Contact is what the identity service knows about how to reach a recipient.
type Contact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Address returns the contact address for channel.
func (c Contact) Address(channel types.Channel) string {
	switch channel {
	case types.ChannelEmail:
		return c.Email
	case types.ChannelSMS:
		return c.Phone
	}
	return ""
}
