package email

import (
	"encoding/json"
	"fmt"
	"time"

	"medinotify/internal/types"
)

// snsEnvelope is the SNS HTTP(S) delivery wrapper around an SES event.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	Timestamp    string `json:"Timestamp"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesEvent covers both classic SES notifications (notificationType) and
// configuration-set events (eventType).
type sesEvent struct {
	NotificationType string        `json:"notificationType"`
	EventType        string        `json:"eventType"`
	Mail             sesMail       `json:"mail"`
	Bounce           *sesBounce    `json:"bounce,omitempty"`
	Complaint        *sesComplaint `json:"complaint,omitempty"`
	Delivery         *sesDelivery  `json:"delivery,omitempty"`
}

type sesMail struct {
	MessageID string `json:"messageId"`
}

type sesBounce struct {
	BounceType        string `json:"bounceType"`
	BounceSubType     string `json:"bounceSubType"`
	Timestamp         string `json:"timestamp"`
	BouncedRecipients []struct {
		EmailAddress   string `json:"emailAddress"`
		Status         string `json:"status"`
		DiagnosticCode string `json:"diagnosticCode"`
	} `json:"bouncedRecipients"`
}

type sesComplaint struct {
	ComplaintFeedbackType string `json:"complaintFeedbackType"`
	Timestamp             string `json:"timestamp"`
}

type sesDelivery struct {
	Timestamp string `json:"timestamp"`
}

// ReceiptKind classifies a provider receipt.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptBounced   ReceiptKind = "bounced"
	ReceiptComplaint ReceiptKind = "complaint"
)

// Receipt is a provider report about a message that was already sent.
type Receipt struct {
	ProviderMessageID string
	Kind              ReceiptKind
	Reason            string
	Timestamp         time.Time
}

// Feedback is the parsed form of one SNS delivery.
type Feedback struct {
	// SubscribeURL is set for SNS subscription confirmations.
	SubscribeURL string
	Receipts     []Receipt
}

// ParseSNSFeedback parses an SNS message carrying an SES event. Transient
// bounces and unknown event types produce no receipts.
func ParseSNSFeedback(body []byte) (*Feedback, error) {
	if len(body) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationFailed, "empty SNS body", nil)
	}
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationFailed, "invalid SNS envelope", err)
	}

	switch env.Type {
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		return &Feedback{SubscribeURL: env.SubscribeURL}, nil
	case "Notification":
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationFailed,
			"unsupported SNS message type", nil, map[string]any{"type": env.Type})
	}

	var ev sesEvent
	if err := json.Unmarshal([]byte(env.Message), &ev); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationFailed, "invalid SES event in SNS message", err)
	}
	if ev.Mail.MessageID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "SES event missing mail.messageId", nil)
	}

	kind := ev.NotificationType
	if kind == "" {
		kind = ev.EventType
	}

	fb := &Feedback{}
	switch kind {
	case "Delivery":
		ts := ""
		if ev.Delivery != nil {
			ts = ev.Delivery.Timestamp
		}
		fb.Receipts = append(fb.Receipts, Receipt{
			ProviderMessageID: ev.Mail.MessageID,
			Kind:              ReceiptDelivered,
			Timestamp:         parseTimestamp(ts),
		})
	case "Bounce":
		if ev.Bounce == nil {
			return nil, types.NewAppError(types.ErrCodeValidationMissingField, "bounce event missing bounce details", nil)
		}
		if ev.Bounce.BounceType != "Permanent" {
			return fb, nil
		}
		fb.Receipts = append(fb.Receipts, Receipt{
			ProviderMessageID: ev.Mail.MessageID,
			Kind:              ReceiptBounced,
			Reason:            bounceReason(ev.Bounce),
			Timestamp:         parseTimestamp(ev.Bounce.Timestamp),
		})
	case "Complaint":
		r := Receipt{ProviderMessageID: ev.Mail.MessageID, Kind: ReceiptComplaint, Reason: "complaint"}
		if ev.Complaint != nil {
			if ev.Complaint.ComplaintFeedbackType != "" {
				r.Reason = ev.Complaint.ComplaintFeedbackType
			}
			r.Timestamp = parseTimestamp(ev.Complaint.Timestamp)
		}
		fb.Receipts = append(fb.Receipts, r)
	}
	return fb, nil
}

func bounceReason(b *sesBounce) string {
	for _, r := range b.BouncedRecipients {
		if r.DiagnosticCode != "" {
			return r.DiagnosticCode
		}
		if r.Status != "" {
			return fmt.Sprintf("%s bounce (%s)", b.BounceSubType, r.Status)
		}
	}
	return fmt.Sprintf("permanent bounce: %s", b.BounceSubType)
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
