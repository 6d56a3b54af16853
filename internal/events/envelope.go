// Package events connects the service to the domain event broker. The
// consumer subscribes to the shared topic exchange and hands each envelope
// to a Router, whose handlers turn event payloads into notification intents.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"medinotify/internal/types"
)

// ParseEnvelope decodes and checks a domain event envelope.
func ParseEnvelope(body []byte) (types.EventEnvelope, error) {
	var env types.EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, types.NewAppError(types.ErrCodeMalformedEvent, "event body is not a JSON envelope", err)
	}
	env.EventType = strings.TrimSpace(env.EventType)
	if env.EventType == "" {
		return env, types.NewAppErrorWithDetails(types.ErrCodeMalformedEvent,
			"event envelope has no eventType", nil, map[string]any{"field": "eventType"})
	}
	if p := bytes.TrimSpace(env.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return env, types.NewAppErrorWithDetails(types.ErrCodeMalformedEvent,
			"event envelope has no payload", nil, map[string]any{"event_type": env.EventType})
	}
	return env, nil
}

// DedupKey identifies the notification one event produces for one
// recipient. Events without a correlation id cannot be deduplicated.
func DedupKey(eventType, correlationID, recipientID string) string {
	if correlationID == "" || recipientID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", eventType, correlationID, recipientID)
}
