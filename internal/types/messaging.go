package types

import (
	"encoding/json"
	"time"
)

// ChannelJob is the payload carried by an email or SMS queue job. It is
// self-sufficient: the worker can re-render content from it on every attempt.
// DeliveryLogID always points at the newest attempt in the retry chain.
type ChannelJob struct {
	DeliveryLogID   string           `json:"deliveryLogId"`
	NotificationID  string           `json:"notificationId"`
	ContactAddress  string           `json:"contactAddress,omitempty"`
	TemplateType    NotificationType `json:"templateType,omitempty"`
	TemplateData    DataBag          `json:"templateData,omitempty"`
	Language        string           `json:"language,omitempty"`
	FallbackSubject string           `json:"fallbackSubject,omitempty"`
	FallbackBody    string           `json:"fallbackBody,omitempty"`
}

// EventMetadata describes the publisher of a domain event.
type EventMetadata struct {
	ServiceID     string `json:"serviceId"`
	Version       string `json:"version"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// EventEnvelope is the JSON envelope every domain event is published in.
type EventEnvelope struct {
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  EventMetadata   `json:"metadata"`
	Payload   json.RawMessage `json:"payload"`
}

// DeliveryFailureAlert is published when a delivery chain becomes
// terminal-failed and needs manual attention.
type DeliveryFailureAlert struct {
	DeliveryLogID  string         `json:"delivery_log_id"`
	NotificationID string         `json:"notification_id"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	RetryCount     int            `json:"retry_count"`
	Reason         string         `json:"reason"`
	ErrorCode      ErrorCode      `json:"error_code,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
