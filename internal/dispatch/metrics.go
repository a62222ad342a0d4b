package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"paygate/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits gateway telemetry:
//
//   - EventDispatched / EventDuplicate / EventFailed: Dims {Provider, EventKind, Outcome}
//   - DispatchLatency: Dims {Provider}
//   - WebhookReceived / WebhookRejected: Dims {Provider}
//   - APILatency: Dims {Endpoint, Outcome}
//
// PutMetricData failures are logged and never returned.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordDispatch(ctx context.Context, ev types.PaymentEvent, outcome Outcome, duration time.Duration) {
	name := types.MetricEventDispatched
	switch outcome {
	case OutcomeDuplicate:
		name = types.MetricEventDuplicate
	case OutcomeFailed:
		name = types.MetricEventFailed
	}
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims(
				types.DimProvider, string(ev.Provider),
				types.DimEventKind, string(ev.Kind),
				types.DimOutcome, string(outcome),
			),
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricDispatchLatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims(types.DimProvider, string(ev.Provider)),
		},
	)
}

// RecordWebhook counts an inbound webhook, accepted or rejected at the
// signature/parse stage.
func (m *CloudWatchMetrics) RecordWebhook(ctx context.Context, provider types.Provider, rejected bool) {
	name := types.MetricWebhookReceived
	if rejected {
		name = types.MetricWebhookRejected
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(types.DimProvider, string(provider)),
	})
}

// RecordOrder counts a created payment order.
func (m *CloudWatchMetrics) RecordOrder(ctx context.Context, provider types.Provider) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricOrderCreated),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(types.DimProvider, string(provider)),
	})
}

// RecordRequest satisfies core.MetricsCollector.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.put(context.Background(), cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricAPILatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: dims(
			types.DimEndpoint, method+" "+endpoint,
			types.DimOutcome, status,
		),
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func dims(kv ...string) []cwtypes.Dimension {
	out := make([]cwtypes.Dimension, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, cwtypes.Dimension{Name: aws.String(kv[i]), Value: aws.String(kv[i+1])})
	}
	return out
}

// NoopMetrics discards everything. Used locally and when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordDispatch(context.Context, types.PaymentEvent, Outcome, time.Duration) {}
func (NoopMetrics) RecordWebhook(context.Context, types.Provider, bool)                        {}
func (NoopMetrics) RecordOrder(context.Context, types.Provider)                                {}
func (NoopMetrics) RecordRequest(string, string, string, time.Duration)                        {}

var (
	_ Metrics = (*CloudWatchMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
