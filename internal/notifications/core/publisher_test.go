package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"medinotify/internal/types"
)

// mockSQSSender records all SendMessage calls for verification.
type mockSQSSender struct {
	calls     []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sqs.SendMessageOutput{}, nil
}

const testAlertQueue = "https://sqs.eu-west-1.amazonaws.com/123/delivery-alerts"

func TestSQSAlertPublisher_PublishFailure(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewSQSAlertPublisher(sender, testAlertQueue, &mockLogger{})

	alert := types.DeliveryFailureAlert{
		DeliveryLogID:  "log-3",
		NotificationID: "notif-1",
		Channel:        types.ChannelSMS,
		Status:         types.DeliveryFailed,
		RetryCount:     2,
		Reason:         "gateway timeout",
		ErrorCode:      types.ErrCodeProviderSend,
		OccurredAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := pub.PublishFailure(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(sender.calls))
	}
	input := sender.calls[0]
	if *input.QueueUrl != testAlertQueue {
		t.Errorf("unexpected queue url %q", *input.QueueUrl)
	}

	var sent types.DeliveryFailureAlert
	if err := json.Unmarshal([]byte(*input.MessageBody), &sent); err != nil {
		t.Fatalf("failed to unmarshal sent body: %v", err)
	}
	if sent.DeliveryLogID != "log-3" || sent.RetryCount != 2 || sent.ErrorCode != types.ErrCodeProviderSend {
		t.Errorf("alert not preserved: %+v", sent)
	}
	if !sent.OccurredAt.Equal(alert.OccurredAt) {
		t.Errorf("occurred_at not preserved: %v", sent.OccurredAt)
	}
	if *input.MessageAttributes["channel"].StringValue != "sms" {
		t.Errorf("missing channel attribute")
	}
	if *input.MessageAttributes["status"].StringValue != "failed" {
		t.Errorf("missing status attribute")
	}
}

func TestSQSAlertPublisher_SendError(t *testing.T) {
	sender := &mockSQSSender{returnErr: errors.New("access denied")}
	pub := NewSQSAlertPublisher(sender, testAlertQueue, nil)

	err := pub.PublishFailure(context.Background(), types.DeliveryFailureAlert{DeliveryLogID: "log-1"})
	if !types.IsCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
