package types

// RecipientType identifies the kind of marketplace account a notification
// is addressed to.
type RecipientType string

const (
	RecipientPatient        RecipientType = "patient"
	RecipientDoctor         RecipientType = "doctor"
	RecipientPharmacy       RecipientType = "pharmacy"
	RecipientLab            RecipientType = "lab"
	RecipientWellnessCenter RecipientType = "wellness_center"
	RecipientAdmin          RecipientType = "admin"
)

// Valid reports whether r is one of the known recipient types.
func (r RecipientType) Valid() bool {
	switch r {
	case RecipientPatient, RecipientDoctor, RecipientPharmacy,
		RecipientLab, RecipientWellnessCenter, RecipientAdmin:
		return true
	}
	return false
}

// NotificationType is the notification kind. Templates are keyed 1:1 by kind.
type NotificationType string

const (
	NotificationAccountCreated         NotificationType = "account_created"
	NotificationPasswordReset          NotificationType = "password_reset"
	NotificationAppointmentBooked      NotificationType = "appointment_booked"
	NotificationAppointmentConfirmed   NotificationType = "appointment_confirmed"
	NotificationAppointmentCancelled   NotificationType = "appointment_cancelled"
	NotificationAppointmentRescheduled NotificationType = "appointment_rescheduled"
	NotificationAppointmentReminder    NotificationType = "appointment_reminder"
	NotificationPrescriptionCreated    NotificationType = "prescription_created"
	NotificationPrescriptionReady      NotificationType = "prescription_ready"
	NotificationPrescriptionDispensed  NotificationType = "prescription_dispensed"
	NotificationPaymentSuccess         NotificationType = "payment_success"
	NotificationPaymentFailed          NotificationType = "payment_failed"
	NotificationPaymentRefunded        NotificationType = "payment_refunded"
	NotificationSystemAlert            NotificationType = "system_alert"
)

// AllNotificationTypes lists every notification kind in a stable order.
var AllNotificationTypes = []NotificationType{
	NotificationAccountCreated,
	NotificationPasswordReset,
	NotificationAppointmentBooked,
	NotificationAppointmentConfirmed,
	NotificationAppointmentCancelled,
	NotificationAppointmentRescheduled,
	NotificationAppointmentReminder,
	NotificationPrescriptionCreated,
	NotificationPrescriptionReady,
	NotificationPrescriptionDispensed,
	NotificationPaymentSuccess,
	NotificationPaymentFailed,
	NotificationPaymentRefunded,
	NotificationSystemAlert,
}

// Valid reports whether t is one of the known notification kinds.
func (t NotificationType) Valid() bool {
	for _, known := range AllNotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ReferenceType names the domain object a notification is about.
type ReferenceType string

const (
	ReferenceUser         ReferenceType = "user"
	ReferenceAppointment  ReferenceType = "appointment"
	ReferencePrescription ReferenceType = "prescription"
	ReferencePayment      ReferenceType = "payment"
	ReferenceSystem       ReferenceType = "system"
)

// Valid reports whether r is one of the known reference types.
func (r ReferenceType) Valid() bool {
	switch r {
	case ReferenceUser, ReferenceAppointment, ReferencePrescription,
		ReferencePayment, ReferenceSystem:
		return true
	}
	return false
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// DeliveryStatus is the state of a single delivery attempt.
//
// Transitions only move forward:
//
//	pending -> sending -> {sent | delivered | failed | bounced | rejected}
//	sent    -> {delivered | bounced}   (provider receipts)
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySending   DeliveryStatus = "sending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryRejected  DeliveryStatus = "rejected"
)

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySending, DeliverySent, DeliveryDelivered,
		DeliveryFailed, DeliveryBounced, DeliveryRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no worker will touch the attempt again.
// A sent attempt may still receive a provider receipt, but it is terminal
// from the worker's point of view.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliverySent, DeliveryDelivered, DeliveryFailed, DeliveryBounced, DeliveryRejected:
		return true
	}
	return false
}

// IsSuccess reports whether the attempt reached the provider successfully.
func (s DeliveryStatus) IsSuccess() bool {
	return s == DeliverySent || s == DeliveryDelivered
}

// AllowedPredecessors returns the statuses an attempt may be in immediately
// before moving to s. Pending has none: it is only ever an initial state.
func (s DeliveryStatus) AllowedPredecessors() []DeliveryStatus {
	switch s {
	case DeliverySending:
		return []DeliveryStatus{DeliveryPending}
	case DeliverySent, DeliveryFailed, DeliveryRejected:
		return []DeliveryStatus{DeliverySending}
	case DeliveryDelivered, DeliveryBounced:
		return []DeliveryStatus{DeliverySending, DeliverySent}
	}
	return nil
}

// CanTransitionTo reports whether moving from s to next is a forward step.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, from := range next.AllowedPredecessors() {
		if from == s {
			return true
		}
	}
	return false
}

// Provider identifies the transport that carried an attempt.
type Provider string

const (
	ProviderSES        Provider = "ses"
	ProviderSMTPRelay  Provider = "smtp-relay"
	ProviderSNS        Provider = "sns"
	ProviderSMSGateway Provider = "sms-gateway"
	ProviderStub       Provider = "stub"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderSES, ProviderSMTPRelay, ProviderSNS, ProviderSMSGateway, ProviderStub:
		return true
	}
	return false
}
