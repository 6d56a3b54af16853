// Package main implements the publish-event CLI tool, which emits a single
// domain event onto the broker in the envelope format the notification
// service consumes.
//
// Usage:
//
//	go run ./cmd/tools/publish-event --type=appointment.confirmed
//	go run ./cmd/tools/publish-event --type=payment.failed --payload=@payment.json
//	go run ./cmd/tools/publish-event --type=user.registered --payload='{"userId":"u-1","email":"a@example.com"}'
//	go run ./cmd/tools/publish-event --list
//
// Without --payload a sample payload for the event type is sent. The broker
// URL is read from --url or AMQP_URL (a .env file is loaded via godotenv).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"medinotify/internal/events"
)

const publishTimeout = 10 * time.Second

// samplePayloads are sent when --payload is omitted.
var samplePayloads = map[string]any{
	"user.registered": events.UserPayload{
		UserID: "user-1001", Role: "patient", Email: "patient@example.com", Phone: "+15555550100", Language: "en",
	},
	"user.password_reset_requested": events.UserPayload{
		UserID: "user-1001", Role: "patient", Email: "patient@example.com", Language: "en",
	},
	"appointment.booked":      sampleAppointment(),
	"appointment.confirmed":   sampleAppointment(),
	"appointment.cancelled":   sampleAppointment(),
	"appointment.rescheduled": sampleAppointment(),
	"appointment.reminder":    sampleAppointment(),
	"prescription.created":    samplePrescription(),
	"prescription.ready":      samplePrescription(),
	"prescription.dispensed":  samplePrescription(),
	"payment.success":         samplePayment(),
	"payment.failed":          samplePayment(),
	"payment.refunded":        samplePayment(),
}

func sampleAppointment() map[string]any {
	return map[string]any{
		"appointmentId":   "appt-2001",
		"patientId":       "user-1001",
		"patientEmail":    "patient@example.com",
		"patientPhone":    "+15555550100",
		"language":        "en",
		"patientName":     "Alex Doe",
		"doctorName":      "Dr. Rivera",
		"appointmentDate": "2026-11-03",
		"appointmentTime": "09:30",
	}
}

func samplePrescription() map[string]any {
	return map[string]any{
		"prescriptionId": "rx-3001",
		"patientId":      "user-1001",
		"patientEmail":   "patient@example.com",
		"patientPhone":   "+15555550100",
		"language":       "en",
		"patientName":    "Alex Doe",
		"pharmacyName":   "Main Street Pharmacy",
	}
}

func samplePayment() map[string]any {
	return map[string]any{
		"paymentId": "pay-4001",
		"payerId":   "user-1001",
		"email":     "patient@example.com",
		"phone":     "+15555550100",
		"language":  "en",
		"amount":    "45.00",
		"currency":  "USD",
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "note: no .env file loaded: %v\n", err)
	}

	urlFlag := flag.String("url", os.Getenv("AMQP_URL"), "Broker URL (defaults to AMQP_URL)")
	exchangeFlag := flag.String("exchange", envOr("EVENT_EXCHANGE", "healthcare.events"), "Topic exchange to publish to")
	typeFlag := flag.String("type", "", "Event type, used as the routing key (e.g., appointment.confirmed)")
	payloadFlag := flag.String("payload", "", "JSON payload, or @path to read it from a file")
	correlationFlag := flag.String("correlation-id", "", "Correlation ID (generated when empty)")
	listFlag := flag.Bool("list", false, "List event types with sample payloads and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: publish-event [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Publish one domain event to the notification service's exchange.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *listFlag {
		printEventTypes()
		return
	}
	if *typeFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --type is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *urlFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --url or AMQP_URL is required\n")
		os.Exit(1)
	}

	payload, err := resolvePayload(*typeFlag, *payloadFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	correlationID, err := publish(ctx, *urlFlag, *exchangeFlag, *typeFlag, payload, *correlationFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("published %s to %s (correlation_id=%s)\n", *typeFlag, *exchangeFlag, correlationID)
}

func publish(ctx context.Context, url, exchange, eventType string, payload any, correlationID string) (string, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return "", fmt.Errorf("dialing broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return "", fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	pub, err := events.NewPublisher(ch, exchange, "publish-event", "cli")
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return pub.Publish(ctx, eventType, payload, correlationID)
}

// resolvePayload returns the literal or file payload, or the sample for
// eventType when raw is empty.
func resolvePayload(eventType, raw string) (any, error) {
	if raw == "" {
		sample, ok := samplePayloads[eventType]
		if !ok {
			return nil, fmt.Errorf("no sample payload for %q; pass --payload", eventType)
		}
		return sample, nil
	}

	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func printEventTypes() {
	names := make([]string, 0, len(samplePayloads))
	for name := range samplePayloads {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Event types with sample payloads:")
	fmt.Println()
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
