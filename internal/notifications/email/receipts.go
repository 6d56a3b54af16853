package email

import (
	"context"

	"medinotify/internal/types"
)

// DeliveryFinder locates the attempt a provider message id belongs to.
type DeliveryFinder interface {
	GetByProviderMessageID(ctx context.Context, channel types.Channel, providerMessageID string) (*types.DeliveryLog, error)
}

// ReceiptRecorder applies receipts to delivery logs. core.DeliveryManager
// satisfies it.
type ReceiptRecorder interface {
	MarkDelivered(ctx context.Context, id string) error
	MarkBounced(ctx context.Context, id string, reason string) error
}

// ReceiptSummary counts what a batch of receipts did.
type ReceiptSummary struct {
	Applied int `json:"applied"`
	Ignored int `json:"ignored"`
}

// ReceiptProcessor turns SES delivery receipts into delivery log transitions.
type ReceiptProcessor struct {
	finder   DeliveryFinder
	recorder ReceiptRecorder
	logger   types.Logger
}

// NewReceiptProcessor creates a ReceiptProcessor.
func NewReceiptProcessor(finder DeliveryFinder, recorder ReceiptRecorder, logger types.Logger) *ReceiptProcessor {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &ReceiptProcessor{finder: finder, recorder: recorder, logger: logger}
}

// Process applies each receipt. Receipts for unknown messages and receipts
// that no longer fit the log's state are ignored; any other error aborts so
// the provider redelivers.
func (p *ReceiptProcessor) Process(ctx context.Context, receipts []Receipt) (ReceiptSummary, error) {
	var sum ReceiptSummary
	for _, r := range receipts {
		applied, err := p.apply(ctx, r)
		if err != nil {
			return sum, err
		}
		if applied {
			sum.Applied++
		} else {
			sum.Ignored++
		}
	}
	return sum, nil
}

func (p *ReceiptProcessor) apply(ctx context.Context, r Receipt) (bool, error) {
	log := p.logger.With("provider_message_id", r.ProviderMessageID, "receipt", string(r.Kind))

	if r.Kind == ReceiptComplaint {
		log.Warn("recipient complaint received", "reason", r.Reason)
		return false, nil
	}

	entry, err := p.finder.GetByProviderMessageID(ctx, types.ChannelEmail, r.ProviderMessageID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundDeliveryLog) {
			log.Warn("receipt for unknown message")
			return false, nil
		}
		return false, err
	}
	log = log.With("delivery_log_id", entry.ID, "notification_id", entry.NotificationID)

	switch r.Kind {
	case ReceiptDelivered:
		err = p.recorder.MarkDelivered(ctx, entry.ID)
	case ReceiptBounced:
		err = p.recorder.MarkBounced(ctx, entry.ID, r.Reason)
	default:
		return false, nil
	}
	if err != nil {
		if types.IsCode(err, types.ErrCodeInvalidTransition) {
			log.Info("receipt does not apply to current status", "status", string(entry.Status))
			return false, nil
		}
		return false, err
	}
	log.Info("receipt applied")
	return true, nil
}
