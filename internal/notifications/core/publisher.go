package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"medinotify/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ AlertPublisher = (*SQSAlertPublisher)(nil)

// SQSAlertPublisher sends DeliveryFailureAlerts to an operator queue.
type SQSAlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewSQSAlertPublisher creates an SQSAlertPublisher targeting queueURL.
func NewSQSAlertPublisher(client SQSSender, queueURL string, logger types.Logger) *SQSAlertPublisher {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &SQSAlertPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishFailure serializes alert as the message body. Channel and status
// travel as message attributes so subscribers can filter without parsing.
func (p *SQSAlertPublisher) PublishFailure(ctx context.Context, alert types.DeliveryFailureAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alert publisher: failed to marshal alert: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String(string(alert.Channel))},
			"status":  {DataType: aws.String("String"), StringValue: aws.String(string(alert.Status))},
		},
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			"failed to publish delivery failure alert", err,
			map[string]any{"queue_url": p.queueURL, "delivery_log_id": alert.DeliveryLogID})
	}

	p.logger.Warn("delivery failure alert published",
		"delivery_log_id", alert.DeliveryLogID,
		"notification_id", alert.NotificationID,
		"channel", string(alert.Channel),
		"retry_count", alert.RetryCount,
	)
	return nil
}
