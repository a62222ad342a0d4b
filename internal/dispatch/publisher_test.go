package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/events"
	"paygate/internal/types"
)

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func TestPublisher_PublishEncodesEnvelope(t *testing.T) {
	client := &fakeSQS{}
	codec := events.NewCodec()
	p := NewPublisher(client, "https://sqs.local/q", codec, nil)

	ctx := types.WithRequestID(context.Background(), "req-9")
	ev := capturedEvent("evt_q")
	require.NoError(t, p.Publish(ctx, ev))

	require.NotNil(t, client.input)
	assert.Equal(t, "https://sqs.local/q", aws.ToString(client.input.QueueUrl))
	assert.Equal(t, "razorpay", aws.ToString(client.input.MessageAttributes[AttrProvider].StringValue))
	assert.Equal(t, "payment_captured", aws.ToString(client.input.MessageAttributes[AttrKind].StringValue))

	got, requestID, err := codec.DecodeEnvelope([]byte(aws.ToString(client.input.MessageBody)))
	require.NoError(t, err)
	assert.Equal(t, "req-9", requestID)
	assert.Equal(t, ev.ProviderEventID, got.ProviderEventID)
	assert.JSONEq(t, string(ev.RawPayload), string(got.RawPayload))
}

func TestPublisher_SendFailureIsQueueError(t *testing.T) {
	p := NewPublisher(&fakeSQS{err: errors.New("throttled")}, "q", events.NewCodec(), nil)
	err := p.Publish(context.Background(), capturedEvent("evt_q"))

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalQueue, appErr.Code)
	assert.Equal(t, 500, appErr.Code.HTTPStatus())
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchMetrics_RecordDispatch(t *testing.T) {
	cw := &fakeCloudWatch{}
	m := NewCloudWatchMetrics(cw, "", nil)

	m.RecordDispatch(context.Background(), capturedEvent("e"), OutcomeDuplicate, 40*time.Millisecond)

	require.Len(t, cw.inputs, 1)
	in := cw.inputs[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 2)
	assert.Equal(t, types.MetricEventDuplicate, aws.ToString(in.MetricData[0].MetricName))
	assert.Len(t, in.MetricData[0].Dimensions, 3)
	assert.Equal(t, types.MetricDispatchLatency, aws.ToString(in.MetricData[1].MetricName))
	assert.Equal(t, float64(40), aws.ToFloat64(in.MetricData[1].Value))
}

func TestCloudWatchMetrics_ErrorsAreSwallowed(t *testing.T) {
	cw := &fakeCloudWatch{err: errors.New("denied")}
	m := NewCloudWatchMetrics(cw, "Custom", nil)

	m.RecordWebhook(context.Background(), types.ProviderStripe, true)
	m.RecordRequest("POST", "/v1/payments/orders", "201", time.Second)

	require.Len(t, cw.inputs, 2)
	assert.Equal(t, "Custom", aws.ToString(cw.inputs[0].Namespace))
	assert.Equal(t, types.MetricWebhookRejected, aws.ToString(cw.inputs[0].MetricData[0].MetricName))
	assert.Equal(t, types.MetricAPILatency, aws.ToString(cw.inputs[1].MetricData[0].MetricName))
}
