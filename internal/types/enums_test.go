package types

import "testing"

func TestDeliveryStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{DeliveryPending, DeliverySending, true},
		{DeliverySending, DeliverySent, true},
		{DeliverySending, DeliveryDelivered, true},
		{DeliverySending, DeliveryFailed, true},
		{DeliverySending, DeliveryBounced, true},
		{DeliverySending, DeliveryRejected, true},
		{DeliverySent, DeliveryDelivered, true},
		{DeliverySent, DeliveryBounced, true},

		{DeliveryPending, DeliverySent, false},
		{DeliverySending, DeliveryPending, false},
		{DeliveryFailed, DeliverySending, false},
		{DeliveryFailed, DeliveryPending, false},
		{DeliveryDelivered, DeliverySent, false},
		{DeliverySent, DeliveryFailed, false},
		{DeliveryRejected, DeliveryDelivered, false},
		{DeliverySending, DeliverySending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeliveryStatusTerminal(t *testing.T) {
	if DeliveryPending.IsTerminal() || DeliverySending.IsTerminal() {
		t.Errorf("pending and sending must not be terminal")
	}
	for _, s := range []DeliveryStatus{DeliverySent, DeliveryDelivered, DeliveryFailed, DeliveryBounced, DeliveryRejected} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestEnumValidity(t *testing.T) {
	if !RecipientWellnessCenter.Valid() || RecipientType("nurse").Valid() {
		t.Errorf("RecipientType.Valid mismatch")
	}
	if !NotificationAppointmentConfirmed.Valid() || NotificationType("promo_blast").Valid() {
		t.Errorf("NotificationType.Valid mismatch")
	}
	if !ChannelSMS.Valid() || Channel("push").Valid() {
		t.Errorf("Channel.Valid mismatch")
	}
	if !ProviderSMTPRelay.Valid() || Provider("carrier-pigeon").Valid() {
		t.Errorf("Provider.Valid mismatch")
	}
}

func TestDataBagHas(t *testing.T) {
	bag := DataBag{"name": "Jane", "empty": "", "nothing": nil, "amount": 0}

	if !bag.Has("name") || !bag.Has("amount") {
		t.Errorf("Has should report present values")
	}
	if bag.Has("empty") || bag.Has("nothing") || bag.Has("missing") {
		t.Errorf("Has should treat empty strings, nil and absent keys as missing")
	}
}
