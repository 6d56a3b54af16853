package types

import "time"

// Notification is one logical message to one recipient. It is written once by
// the orchestrator and never mutated afterwards.
type Notification struct {
	ID            string           `json:"id" db:"id"`
	RecipientID   string           `json:"recipient_id" db:"recipient_id"`
	RecipientType RecipientType    `json:"recipient_type" db:"recipient_type"`
	Type          NotificationType `json:"type" db:"type"`
	ReferenceType ReferenceType    `json:"reference_type" db:"reference_type"`
	ReferenceID   string           `json:"reference_id,omitempty" db:"reference_id"`
	Title         string           `json:"title" db:"title"`
	Body          string           `json:"body" db:"body"`
	DedupKey      string           `json:"-" db:"dedup_key"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// DeliveryLog is one attempt to push a Notification through one channel.
// Retries never mutate an earlier attempt; each retry is a new row carrying
// RetryCount = previous.RetryCount + 1.
type DeliveryLog struct {
	ID                string         `json:"id" db:"id"`
	NotificationID    string         `json:"notification_id" db:"notification_id"`
	Channel           Channel        `json:"channel" db:"channel"`
	Status            DeliveryStatus `json:"status" db:"status"`
	Provider          Provider       `json:"provider" db:"provider"`
	ProviderMessageID string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage      string         `json:"error_message,omitempty" db:"error_message"`
	RetryCount        int            `json:"retry_count" db:"retry_count"`
	AttemptedAt       time.Time      `json:"attempted_at" db:"attempted_at"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
}

// NotificationWithDeliveries bundles a notification with its delivery attempts
// ordered by attempt time.
type NotificationWithDeliveries struct {
	Notification
	Deliveries []DeliveryLog `json:"deliveries"`
}

// TemplateVariable declares a named placeholder used by a Template.
type TemplateVariable struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
	Example  string `json:"example,omitempty" yaml:"example,omitempty"`
}

// Template is a versioned content definition for one (kind, language) pair.
// A nil sub-template means the template does not define that field.
type Template struct {
	ID           string            `json:"id" db:"id"`
	Type         NotificationType  `json:"type" db:"type"`
	Name         string            `json:"name" db:"name"`
	Language     string            `json:"language" db:"language"`
	Version      int               `json:"version" db:"version"`
	IsActive     bool              `json:"is_active" db:"is_active"`
	Title        *string           `json:"title,omitempty" db:"title_template"`
	Body         *string           `json:"body,omitempty" db:"body_template"`
	EmailSubject *string           `json:"email_subject,omitempty" db:"email_subject_template"`
	EmailBody    *string           `json:"email_body,omitempty" db:"email_body_template"`
	SMS          *string           `json:"sms,omitempty" db:"sms_template"`
	Variables    TemplateVariables `json:"variables" db:"variables"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// RequiredVariables returns the names of the variables marked required.
func (t *Template) RequiredVariables() []string {
	var names []string
	for _, v := range t.Variables {
		if v.Required {
			names = append(names, v.Name)
		}
	}
	return names
}

// RenderedContent is the output of rendering a Template. Fields are nil when the
// template does not define the corresponding sub-template.
type RenderedContent struct {
	Title        *string `json:"title,omitempty"`
	Body         *string `json:"body,omitempty"`
	EmailSubject *string `json:"email_subject,omitempty"`
	EmailBody    *string `json:"email_body,omitempty"`
	SMS          *string `json:"sms,omitempty"`
}

// ValidationResult reports which required template variables were absent.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing"`
}

// CreateNotificationInput is the intent handed to the orchestrator.
type CreateNotificationInput struct {
	RecipientID   string
	RecipientType RecipientType
	Type          NotificationType
	ReferenceType ReferenceType
	ReferenceID   string

	// Explicit content takes precedence over rendered content.
	Title string
	Body  string

	// TemplateType selects the active template. Rendering only happens when
	// TemplateData is also supplied.
	TemplateType NotificationType
	TemplateData DataBag
	Language     string

	SendEmail    bool
	EmailAddress string
	SendSMS      bool
	PhoneNumber  string

	// DedupKey suppresses duplicates created from the same upstream event.
	DedupKey string
}

// NotificationStats aggregates notification counts over a time range.
type NotificationStats struct {
	Since           time.Time                  `json:"since"`
	Total           int64                      `json:"total"`
	ByType          map[NotificationType]int64 `json:"by_type"`
	ByRecipientType map[RecipientType]int64    `json:"by_recipient_type"`
	ByReferenceType map[ReferenceType]int64    `json:"by_reference_type"`
}

// DeliveryRate is the success rate of attempts for one channel and provider.
type DeliveryRate struct {
	Channel     Channel  `json:"channel"`
	Provider    Provider `json:"provider"`
	Total       int64    `json:"total"`
	Succeeded   int64    `json:"succeeded"`
	Failed      int64    `json:"failed"`
	SuccessRate float64  `json:"success_rate"`
}

// FailureBucket groups failed attempts sharing a provider and error message.
type FailureBucket struct {
	Provider     Provider       `json:"provider"`
	Status       DeliveryStatus `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Count        int64          `json:"count"`
	LastSeen     time.Time      `json:"last_seen"`
}
