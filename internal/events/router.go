package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"medinotify/internal/types"
)

// NotificationCreator is the orchestrator entry point handlers feed.
type NotificationCreator interface {
	CreateNotification(ctx context.Context, in types.CreateNotificationInput) (*types.Notification, error)
}

// Handler maps one event to the notifications it should produce.
type Handler func(ctx context.Context, env types.EventEnvelope) ([]types.CreateNotificationInput, error)

// Router dispatches envelopes to the handler registered for their type.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	creator  NotificationCreator
	logger   types.Logger
}

// NewRouter creates a Router with no handlers.
func NewRouter(creator NotificationCreator, logger types.Logger) *Router {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Router{handlers: make(map[string]Handler), creator: creator, logger: logger}
}

// Handle registers h for eventType, replacing any earlier handler.
func (r *Router) Handle(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// EventTypes lists the registered event types in sorted order.
func (r *Router) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for env and creates every notification it
// returns. Intents carry a dedup key derived from the event, so a
// redelivered event does not create a second notification.
func (r *Router) Dispatch(ctx context.Context, env types.EventEnvelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.EventType]
	r.mu.RUnlock()
	if !ok {
		return types.NewAppErrorWithDetails(types.ErrCodeUnknownEventType,
			"no handler for event type", nil, map[string]any{"event_type": env.EventType})
	}

	intents, err := h(ctx, env)
	if err != nil {
		return fmt.Errorf("handle %s: %w", env.EventType, err)
	}

	for _, in := range intents {
		if in.DedupKey == "" {
			in.DedupKey = DedupKey(env.EventType, env.Metadata.CorrelationID, in.RecipientID)
		}
		n, err := r.creator.CreateNotification(ctx, in)
		if err != nil {
			return fmt.Errorf("handle %s: %w", env.EventType, err)
		}
		r.logger.Info("event produced notification",
			"event_type", env.EventType,
			"notification_id", n.ID,
			"correlation_id", env.Metadata.CorrelationID,
		)
	}
	return nil
}
