package external

import (
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"

	"medinotify/internal/config"
	"medinotify/internal/types"
)

// Registry holds the outbound transports selected by configuration. It is
// the single place the rest of the service obtains provider clients from.
type Registry struct {
	Email EmailSender
	SMS   SMSSender

	// Identity is nil when no identity service is configured.
	Identity *IdentityClient
}

// RegistryOption customizes NewRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	httpClient *http.Client
	userAgent  string
}

// WithHTTPClient overrides the HTTP client used by the gateway and identity
// clients. The client's timeout is left untouched.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) { rc.httpClient = c }
}

// WithUserAgent sets the User-Agent sent to HTTP upstreams.
func WithUserAgent(ua string) RegistryOption {
	return func(rc *registryConfig) { rc.userAgent = ua }
}

// NewRegistry builds the transports named by cfg. Local environments always
// get stub senders.
func NewRegistry(cfg *config.Config, awsCfg aws.Config, logger types.Logger, opts ...RegistryOption) (*Registry, error) {
	if logger == nil {
		logger = types.NopLogger{}
	}
	rc := &registryConfig{userAgent: "medinotify/" + buildVersion(cfg)}
	for _, opt := range opts {
		opt(rc)
	}
	httpClient := func(fallback http.Client) *http.Client {
		if rc.httpClient != nil {
			return rc.httpClient
		}
		return &fallback
	}

	reg := &Registry{}

	emailProvider := cfg.Email.Provider
	smsProvider := cfg.SMS.Provider
	if cfg.IsLocal() {
		emailProvider, smsProvider = "stub", "stub"
	}

	switch emailProvider {
	case "ses":
		reg.Email = NewSESClient(awsCfg, SESClientConfig{
			ConfigSetName: cfg.Email.SESConfigSet,
			Logger:        logger.With("client", "ses"),
		})
	case "smtp":
		reg.Email = NewSMTPClient(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			Logger:   logger.With("client", "smtp"),
		})
	case "stub":
		reg.Email = NewStubEmailSender(logger.With("client", "email-stub"))
	default:
		return nil, fmt.Errorf("unknown email provider %q", emailProvider)
	}

	switch smsProvider {
	case "sns":
		reg.SMS = NewSNSClient(awsCfg, logger.With("client", "sns"))
	case "gateway":
		base := NewBaseClient(httpClient(http.Client{Timeout: cfg.SMS.Timeout}), "sms-gateway", DefaultRetryPolicy(), rc.userAgent)
		reg.SMS = NewGatewayClient(base, GatewayConfig{
			BaseURL: cfg.SMS.GatewayURL,
			APIKey:  cfg.SMS.GatewayKey,
			Logger:  logger.With("client", "sms-gateway"),
		})
	case "stub":
		reg.SMS = NewStubSMSSender(logger.With("client", "sms-stub"))
	default:
		return nil, fmt.Errorf("unknown sms provider %q", smsProvider)
	}

	if cfg.Identity.URL != "" {
		base := NewBaseClient(httpClient(http.Client{Timeout: cfg.Identity.Timeout}), "identity", DefaultRetryPolicy(), rc.userAgent)
		reg.Identity = NewIdentityClient(base, cfg.Identity.URL)
	}

	logger.Info("external clients initialized",
		"email_provider", reg.Email.Provider(),
		"sms_provider", reg.SMS.Provider(),
		"identity", reg.Identity != nil,
	)
	return reg, nil
}

func buildVersion(cfg *config.Config) string {
	if cfg.Build.Version != "" {
		return cfg.Build.Version
	}
	return "dev"
}
