// Package config defines the configuration of the notification service.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Mounted secret files (Lowest)
//
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"strings"
	"time"

	"medinotify/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Sub-components receive only the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"notification-service"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	Redis         RedisConfig
	Broker        BrokerConfig
	Queue         QueueConfig
	Delivery      DeliveryConfig
	Email         EmailConfig
	SMS           SMSConfig
	Identity      IdentityConfig
	AWS           AWSConfig
	Observability ObservabilityConfig
	Retention     RetentionConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	ApplySchema       bool          `envconfig:"DB_APPLY_SCHEMA" default:"false"`
}

// RedisConfig locates the Redis instance backing the channel job queues.
type RedisConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" default:"localhost:6379" validate:"required,hostname_port"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0" validate:"min=0"`
	Prefix   string       `envconfig:"QUEUE_PREFIX" default:"medinotify" validate:"required"`
}

// BrokerConfig configures the domain event subscription.
type BrokerConfig struct {
	URL            SecretString  `envconfig:"AMQP_URL" validate:"required"`
	Exchange       string        `envconfig:"EVENT_EXCHANGE" default:"healthcare.events" validate:"required"`
	Queue          string        `envconfig:"EVENT_QUEUE" default:"notification-service.events" validate:"required"`
	Bindings       []string      `envconfig:"EVENT_BINDINGS" default:"user.*,appointment.*,prescription.*,payment.*" validate:"min=1,dive,required"`
	Prefetch       int           `envconfig:"EVENT_PREFETCH" default:"10" validate:"min=1"`
	ReconnectDelay time.Duration `envconfig:"BROKER_RECONNECT_DELAY" default:"5s"`
	ConsumerTag    string        `envconfig:"EVENT_CONSUMER_TAG" default:"notification-service"`
}

// QueueConfig holds per-channel queue and worker pool settings.
type QueueConfig struct {
	EmailQueue         string        `envconfig:"EMAIL_QUEUE_NAME" default:"email-notifications"`
	SMSQueue           string        `envconfig:"SMS_QUEUE_NAME" default:"sms-notifications"`
	Attempts           int           `envconfig:"JOB_ATTEMPTS" default:"3" validate:"min=1"`
	Backoff            time.Duration `envconfig:"JOB_BACKOFF" default:"5s"`
	BackoffMax         time.Duration `envconfig:"JOB_BACKOFF_MAX" default:"5m"`
	KeepCompleted      int64         `envconfig:"KEEP_COMPLETED" default:"1000"`
	CompletedTTL       time.Duration `envconfig:"COMPLETED_TTL" default:"24h"`
	KeepFailed         int64         `envconfig:"KEEP_FAILED" default:"5000"`
	FailedTTL          time.Duration `envconfig:"FAILED_TTL" default:"168h"`
	EmailConcurrency   int           `envconfig:"EMAIL_CONCURRENCY" default:"5" validate:"min=1"`
	EmailRatePerMinute int           `envconfig:"EMAIL_RATE_PER_MINUTE" default:"100" validate:"min=1"`
	SMSConcurrency     int           `envconfig:"SMS_CONCURRENCY" default:"3" validate:"min=1"`
	SMSRatePerMinute   int           `envconfig:"SMS_RATE_PER_MINUTE" default:"50" validate:"min=1"`
	LockDuration       time.Duration `envconfig:"JOB_LOCK_DURATION" default:"30s"`
	PromoteInterval    time.Duration `envconfig:"JOB_PROMOTE_INTERVAL" default:"1s"`
	StalledCheckPeriod time.Duration `envconfig:"JOB_STALLED_CHECK_PERIOD" default:"30s"`
}

// DeliveryConfig holds delivery attempt and content settings.
type DeliveryConfig struct {
	MaxRetries      int    `envconfig:"MAX_DELIVERY_RETRIES" default:"3" validate:"min=0"`
	SMSMaxLength    int    `envconfig:"SMS_MAX_LENGTH" default:"160" validate:"min=1"`
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"en" validate:"required"`
}

// EmailConfig selects and configures the email transport.
type EmailConfig struct {
	Provider     string       `envconfig:"EMAIL_PROVIDER" default:"stub" validate:"oneof=ses smtp stub"`
	FromAddress  string       `envconfig:"EMAIL_FROM_ADDRESS" default:"no-reply@medinotify.local" validate:"required,email"`
	FromName     string       `envconfig:"EMAIL_FROM_NAME" default:"Care Notifications"`
	SESConfigSet string       `envconfig:"SES_CONFIGURATION_SET"`
	SMTPHost     string       `envconfig:"SMTP_HOST" validate:"required_if=Provider smtp"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string       `envconfig:"SMTP_USERNAME"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`
}

// SMSConfig selects and configures the SMS transport.
type SMSConfig struct {
	Provider   string        `envconfig:"SMS_PROVIDER" default:"stub" validate:"oneof=sns gateway stub"`
	SenderID   string        `envconfig:"SMS_SENDER_ID" default:"CARE"`
	GatewayURL string        `envconfig:"SMS_GATEWAY_URL" validate:"required_if=Provider gateway"`
	GatewayKey SecretString  `envconfig:"SMS_GATEWAY_API_KEY"`
	Timeout    time.Duration `envconfig:"SMS_GATEWAY_TIMEOUT" default:"10s"`
}

// IdentityConfig points at the identity service used when a job lacks an address.
type IdentityConfig struct {
	URL     string        `envconfig:"IDENTITY_SERVICE_URL" validate:"omitempty,url"`
	Timeout time.Duration `envconfig:"IDENTITY_SERVICE_TIMEOUT" default:"5s"`
}

// AWSConfig holds AWS region, endpoint override and resource identifiers.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL   string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
	AlertQueueURL string `envconfig:"ALERT_QUEUE_URL" validate:"omitempty,url"`
}

// ObservabilityConfig holds metrics and ops endpoint settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"MediNotify"`
	OpsPort         string `envconfig:"OPS_PORT" default:"9090"`
}

// RetentionConfig controls the scheduled cleanup of old rows.
type RetentionConfig struct {
	Notifications time.Duration `envconfig:"NOTIFICATION_RETENTION" default:"2160h"`
	Schedule      string        `envconfig:"CLEANUP_SCHEDULE" default:"0 3 * * *" validate:"required"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// NormalizedBindings trims whitespace from the configured routing-key patterns
// and drops empty entries.
func (b BrokerConfig) NormalizedBindings() []string {
	out := make([]string, 0, len(b.Bindings))
	for _, key := range b.Bindings {
		key = strings.TrimSpace(key)
		if key != "" {
			out = append(out, key)
		}
	}
	return out
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure reading a mounted secret file.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
