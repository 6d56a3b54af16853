package core

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"medinotify/internal/types"
)

// Metric names and dimensions published to CloudWatch.
const (
	DefaultMetricNamespace = "MediNotify"

	MetricDeliveryAttempt     = "DeliveryAttempt"
	MetricDeliveryLatency     = "DeliveryLatency"
	MetricQueueLag            = "QueueLag"
	MetricNotificationCreated = "NotificationCreated"

	DimChannel      = "Channel"
	DimResult       = "Result"
	DimType         = "Type"
	DimDeduplicated = "Deduplicated"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	_ NotificationMetrics = (*CloudWatchMetrics)(nil)
	_ NotificationMetrics = (*PrometheusMetrics)(nil)
	_ NotificationMetrics = NopMetrics{}
)

// CloudWatchMetrics emits one datum per call. Publishing failures are logged
// and never reach the delivery path.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace uses
// DefaultMetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = DefaultMetricNamespace
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, channel types.Channel, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dimension(DimChannel, string(channel)),
			dimension(DimResult, string(result)),
		},
	})
}

// RecordLatency records provider call time in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, channel types.Channel, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dimension(DimChannel, string(channel))},
	})
}

// RecordQueueLag records the time between enqueue and the first attempt.
func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, channel types.Channel, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dimension(DimChannel, string(channel))},
	})
}

func (m *CloudWatchMetrics) RecordNotificationCreated(ctx context.Context, kind types.NotificationType, deduplicated bool) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricNotificationCreated),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dimension(DimType, string(kind)),
			dimension(DimDeduplicated, strconv.FormatBool(deduplicated)),
		},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric",
			"error", err.Error(),
			"metric", aws.ToString(datum.MetricName),
		)
	}
}

func dimension(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// PrometheusMetrics exposes delivery metrics for scraping.
type PrometheusMetrics struct {
	deliveries    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	queueLag      *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_delivery_attempts_total",
				Help: "Delivery attempts by channel and outcome",
			},
			[]string{"channel", "result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notification_delivery_duration_seconds",
				Help:    "Provider send duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		queueLag: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notification_queue_lag_seconds",
				Help:    "Time between enqueue and first processing attempt",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"channel"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_created_total",
				Help: "Notification intents by type, including suppressed duplicates",
			},
			[]string{"type", "deduplicated"},
		),
	}
}

func (m *PrometheusMetrics) RecordDelivery(_ context.Context, channel types.Channel, result MetricResult) {
	m.deliveries.WithLabelValues(string(channel), string(result)).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, channel types.Channel, duration time.Duration) {
	m.latency.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordQueueLag(_ context.Context, channel types.Channel, lag time.Duration) {
	m.queueLag.WithLabelValues(string(channel)).Observe(lag.Seconds())
}

func (m *PrometheusMetrics) RecordNotificationCreated(_ context.Context, kind types.NotificationType, deduplicated bool) {
	m.notifications.WithLabelValues(string(kind), strconv.FormatBool(deduplicated)).Inc()
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, types.Channel, MetricResult)              {}
func (NopMetrics) RecordLatency(context.Context, types.Channel, time.Duration)              {}
func (NopMetrics) RecordQueueLag(context.Context, types.Channel, time.Duration)             {}
func (NopMetrics) RecordNotificationCreated(context.Context, types.NotificationType, bool) {}
