package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"medinotify/internal/types"
)

// SESAPI defines the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	// ConfigSetName routes delivery, bounce and complaint events. Optional.
	ConfigSetName string
	Logger        types.Logger
}

// SESClient implements EmailSender using AWS SES v2. The SDK retries
// throttling on its own, so it does not go through BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        types.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient around api.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &SESClient{api: api, configSetName: cfg.ConfigSetName, logger: logger}
}

func (s *SESClient) Provider() types.Provider { return types.ProviderSES }

// Send transmits msg as simple content.
//
// Error mapping:
//   - MessageRejected, AccountSuspended → ErrCodeProviderRejected
//   - TooManyRequestsException → ErrCodeUpstreamRateLimited
//   - SendingPausedException → ErrCodeUpstreamUnavailable
//   - Other → ErrCodeProviderSend
func (s *SESClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.FromAddress)),
		Destination:      &sestypes.Destination{ToAddresses: []string{msg.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8Content(msg.Subject),
				Body:    &sestypes.Body{},
			},
		},
	}
	if msg.HTML != "" {
		input.Content.Simple.Body.Html = utf8Content(msg.HTML)
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = utf8Content(msg.Text)
	}
	if s.configSetName != "" {
		input.ConfigurationSetName = aws.String(s.configSetName)
	}
	if msg.ReferenceID != "" {
		input.EmailTags = []sestypes.MessageTag{
			{Name: aws.String("DeliveryLogID"), Value: aws.String(msg.ReferenceID)},
		}
	}

	result, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(result.MessageId), nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return types.NewAppError(types.ErrCodeProviderRejected, "SES rejected message", err)
	}
	var suspended *sestypes.AccountSuspendedException
	if errors.As(err, &suspended) {
		return types.NewAppError(types.ErrCodeProviderRejected, "SES account suspended", err)
	}
	var tooMany *sestypes.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	}
	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES sending paused", err)
	}
	return types.NewAppError(types.ErrCodeProviderSend, "SES send failed", err)
}

var _ EmailSender = (*SESClient)(nil)
