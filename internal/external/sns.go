package external

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"medinotify/internal/types"
)

// SNSAPI defines the subset of the SNS client used by SNSClient.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient implements SMSSender with direct-to-phone SNS publishes.
type SNSClient struct {
	api    SNSAPI
	logger types.Logger
}

// NewSNSClient creates an SNSClient from an AWS config.
func NewSNSClient(awsCfg aws.Config, logger types.Logger) *SNSClient {
	return NewSNSClientWithAPI(sns.NewFromConfig(awsCfg), logger)
}

// NewSNSClientWithAPI creates an SNSClient around api.
func NewSNSClientWithAPI(api SNSAPI, logger types.Logger) *SNSClient {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &SNSClient{api: api, logger: logger}
}

func (c *SNSClient) Provider() types.Provider { return types.ProviderSNS }

// Send publishes msg as a transactional SMS.
func (c *SNSClient) Send(ctx context.Context, msg SMSMessage) (string, error) {
	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if msg.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.SenderID),
		}
	}

	out, err := c.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", mapSNSError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func mapSNSError(err error) error {
	var invalid *snstypes.InvalidParameterException
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeProviderRejected, "SNS rejected phone number or message", err)
	}
	var invalidValue *snstypes.InvalidParameterValueException
	if errors.As(err, &invalidValue) {
		return types.NewAppError(types.ErrCodeProviderRejected, "SNS rejected parameter value", err)
	}
	var disabled *snstypes.EndpointDisabledException
	if errors.As(err, &disabled) {
		return types.NewAppError(types.ErrCodeProviderRejected, "SNS endpoint disabled", err)
	}
	var throttled *snstypes.ThrottledException
	if errors.As(err, &throttled) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SNS throttled publish", err)
	}
	var internal *snstypes.InternalErrorException
	if errors.As(err, &internal) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SNS internal error", err)
	}
	return types.NewAppError(types.ErrCodeProviderSend, "SNS publish failed", err)
}

var _ SMSSender = (*SNSClient)(nil)
