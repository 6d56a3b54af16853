package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"medinotify/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchMetrics_RecordDelivery(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	metrics.RecordDelivery(context.Background(), types.ChannelEmail, MetricSuccess)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != DefaultMetricNamespace {
		t.Errorf("expected namespace %q, got %q", DefaultMetricNamespace, *input.Namespace)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != MetricDeliveryAttempt || *datum.Value != 1.0 || datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("unexpected datum: %+v", datum)
	}
	assertDimension(t, datum.Dimensions, DimChannel, string(types.ChannelEmail))
	assertDimension(t, datum.Dimensions, DimResult, string(MetricSuccess))
}

func TestCloudWatchMetrics_Durations(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "Clinic/Notify", &mockLogger{})

	metrics.RecordLatency(context.Background(), types.ChannelSMS, 1500*time.Millisecond)
	metrics.RecordQueueLag(context.Background(), types.ChannelSMS, 3*time.Second)

	if len(cw.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(cw.calls))
	}
	latency := cw.calls[0].MetricData[0]
	if *latency.MetricName != MetricDeliveryLatency || *latency.Value != 1500 || latency.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("unexpected latency datum: %+v", latency)
	}
	lag := cw.calls[1].MetricData[0]
	if *lag.MetricName != MetricQueueLag || *lag.Value != 3000 {
		t.Errorf("unexpected lag datum: %+v", lag)
	}
	assertDimension(t, lag.Dimensions, DimChannel, string(types.ChannelSMS))
	if *cw.calls[0].Namespace != "Clinic/Notify" {
		t.Errorf("namespace not applied")
	}
}

func TestCloudWatchMetrics_NotificationCreated(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	metrics.RecordNotificationCreated(context.Background(), types.NotificationPaymentFailed, true)

	datum := cw.calls[0].MetricData[0]
	assertDimension(t, datum.Dimensions, DimType, string(types.NotificationPaymentFailed))
	assertDimension(t, datum.Dimensions, DimDeduplicated, "true")
}

func TestCloudWatchMetrics_ErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: fmt.Errorf("throttled")}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	// Must not panic or block delivery.
	metrics.RecordDelivery(context.Background(), types.ChannelSMS, MetricFailed)

	if len(cw.calls) != 1 {
		t.Errorf("expected the call to be attempted")
	}
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	ctx := context.Background()

	metrics.RecordDelivery(ctx, types.ChannelEmail, MetricSuccess)
	metrics.RecordDelivery(ctx, types.ChannelEmail, MetricSuccess)
	metrics.RecordDelivery(ctx, types.ChannelSMS, MetricRejected)
	metrics.RecordLatency(ctx, types.ChannelEmail, 200*time.Millisecond)
	metrics.RecordQueueLag(ctx, types.ChannelSMS, time.Second)
	metrics.RecordNotificationCreated(ctx, types.NotificationAccountCreated, false)

	if got := testutil.ToFloat64(metrics.deliveries.WithLabelValues("email", "success")); got != 2 {
		t.Errorf("expected 2 email successes, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.deliveries.WithLabelValues("sms", "rejected")); got != 1 {
		t.Errorf("expected 1 sms rejection, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.notifications.WithLabelValues("account_created", "false")); got != 1 {
		t.Errorf("expected 1 created notification, got %v", got)
	}
	if n := testutil.CollectAndCount(metrics.latency); n != 1 {
		t.Errorf("expected one latency series, got %d", n)
	}
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, expectedValue string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != expectedValue {
				t.Errorf("dimension %q: expected %q, got %q", name, expectedValue, *d.Value)
			}
			return
		}
	}
	t.Errorf("dimension %q not found", name)
}
