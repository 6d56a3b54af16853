package events

import (
	"context"
	"encoding/json"
	"strings"

	"medinotify/internal/types"
)

// recipient is who an event is about and how to reach them.
type recipient struct {
	ID       string
	Type     types.RecipientType
	RefID    string
	Email    string
	Phone    string
	Language string
}

// payload is implemented by every typed event payload.
type payload interface {
	recipient() recipient
}

// UserPayload is carried by user.* events.
type UserPayload struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Language string `json:"language"`
}

func (p UserPayload) recipient() recipient {
	rt := types.RecipientType(strings.ToLower(p.Role))
	if !rt.Valid() {
		rt = types.RecipientPatient
	}
	return recipient{ID: p.UserID, Type: rt, RefID: p.UserID, Email: p.Email, Phone: p.Phone, Language: p.Language}
}

// AppointmentPayload is carried by appointment.* events.
type AppointmentPayload struct {
	AppointmentID string `json:"appointmentId"`
	PatientID     string `json:"patientId"`
	PatientEmail  string `json:"patientEmail"`
	PatientPhone  string `json:"patientPhone"`
	Language      string `json:"language"`
}

func (p AppointmentPayload) recipient() recipient {
	return recipient{ID: p.PatientID, Type: types.RecipientPatient, RefID: p.AppointmentID,
		Email: p.PatientEmail, Phone: p.PatientPhone, Language: p.Language}
}

// PrescriptionPayload is carried by prescription.* events.
type PrescriptionPayload struct {
	PrescriptionID string `json:"prescriptionId"`
	PatientID      string `json:"patientId"`
	PatientEmail   string `json:"patientEmail"`
	PatientPhone   string `json:"patientPhone"`
	Language       string `json:"language"`
}

func (p PrescriptionPayload) recipient() recipient {
	return recipient{ID: p.PatientID, Type: types.RecipientPatient, RefID: p.PrescriptionID,
		Email: p.PatientEmail, Phone: p.PatientPhone, Language: p.Language}
}

// PaymentPayload is carried by payment.* events.
type PaymentPayload struct {
	PaymentID string `json:"paymentId"`
	PayerID   string `json:"payerId"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Language  string `json:"language"`
}

func (p PaymentPayload) recipient() recipient {
	return recipient{ID: p.PayerID, Type: types.RecipientPatient, RefID: p.PaymentID,
		Email: p.Email, Phone: p.Phone, Language: p.Language}
}

// Route describes what an event type turns into.
type Route struct {
	Kind      types.NotificationType
	Reference types.ReferenceType
	Email     bool
	SMS       bool
}

// NotifyHandler decodes the payload as P and produces one notification for
// its recipient. The whole payload becomes the template data.
func NotifyHandler[P payload](route Route) Handler {
	return func(_ context.Context, env types.EventEnvelope) ([]types.CreateNotificationInput, error) {
		var p P
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, types.NewAppError(types.ErrCodeMalformedEvent, "event payload does not match its type", err)
		}
		var data types.DataBag
		if err := json.Unmarshal(env.Payload, &data); err != nil {
			return nil, types.NewAppError(types.ErrCodeMalformedEvent, "event payload is not an object", err)
		}

		r := p.recipient()
		if strings.TrimSpace(r.ID) == "" {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
				"event payload names no recipient", nil, map[string]any{"event_type": env.EventType})
		}

		return []types.CreateNotificationInput{{
			RecipientID:   r.ID,
			RecipientType: r.Type,
			Type:          route.Kind,
			ReferenceType: route.Reference,
			ReferenceID:   r.RefID,
			TemplateType:  route.Kind,
			TemplateData:  data,
			Language:      r.Language,
			SendEmail:     route.Email,
			EmailAddress:  strings.TrimSpace(r.Email),
			SendSMS:       route.SMS,
			PhoneNumber:   strings.TrimSpace(r.Phone),
		}}, nil
	}
}

// RegisterDefaults wires the healthcare marketplace's domain events.
func RegisterDefaults(r *Router) {
	user := func(kind types.NotificationType, sms bool) Handler {
		return NotifyHandler[UserPayload](Route{Kind: kind, Reference: types.ReferenceUser, Email: true, SMS: sms})
	}
	appointment := func(kind types.NotificationType) Handler {
		return NotifyHandler[AppointmentPayload](Route{Kind: kind, Reference: types.ReferenceAppointment, Email: true, SMS: true})
	}
	prescription := func(kind types.NotificationType, sms bool) Handler {
		return NotifyHandler[PrescriptionPayload](Route{Kind: kind, Reference: types.ReferencePrescription, Email: true, SMS: sms})
	}
	payment := func(kind types.NotificationType, sms bool) Handler {
		return NotifyHandler[PaymentPayload](Route{Kind: kind, Reference: types.ReferencePayment, Email: true, SMS: sms})
	}

	r.Handle("user.registered", user(types.NotificationAccountCreated, false))
	r.Handle("user.password_reset_requested", user(types.NotificationPasswordReset, false))

	r.Handle("appointment.booked", appointment(types.NotificationAppointmentBooked))
	r.Handle("appointment.confirmed", appointment(types.NotificationAppointmentConfirmed))
	r.Handle("appointment.cancelled", appointment(types.NotificationAppointmentCancelled))
	r.Handle("appointment.rescheduled", appointment(types.NotificationAppointmentRescheduled))
	r.Handle("appointment.reminder", appointment(types.NotificationAppointmentReminder))

	r.Handle("prescription.created", prescription(types.NotificationPrescriptionCreated, false))
	r.Handle("prescription.ready", prescription(types.NotificationPrescriptionReady, true))
	r.Handle("prescription.dispensed", prescription(types.NotificationPrescriptionDispensed, false))

	r.Handle("payment.success", payment(types.NotificationPaymentSuccess, false))
	r.Handle("payment.failed", payment(types.NotificationPaymentFailed, true))
	r.Handle("payment.refunded", payment(types.NotificationPaymentRefunded, false))
}
