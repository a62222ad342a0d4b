package dispatch

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"paygate/internal/events"
	"paygate/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Message attribute names set on every published event.
const (
	AttrProvider = "provider"
	AttrKind     = "kind"
)

// Publisher hands verified, normalized events to the event worker queue.
type Publisher struct {
	client   SQSSender
	queueURL string
	codec    *events.Codec
	logger   *slog.Logger
}

func NewPublisher(client SQSSender, queueURL string, codec *events.Codec, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, queueURL: queueURL, codec: codec, logger: logger}
}

// Publish enqueues ev. The raw payload travels zstd-compressed inside the
// envelope. A failure is reported as internal_queue_error so the webhook
// answers 500 and the provider redelivers.
func (p *Publisher) Publish(ctx context.Context, ev types.PaymentEvent) error {
	body, err := p.codec.EncodeEnvelope(ev, types.GetRequestID(ctx))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to encode event", err)
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			AttrProvider: {DataType: aws.String("String"), StringValue: aws.String(string(ev.Provider))},
			AttrKind:     {DataType: aws.String("String"), StringValue: aws.String(string(ev.Kind))},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue event", err)
	}

	p.logger.InfoContext(ctx, "event enqueued",
		"provider", string(ev.Provider),
		"event_id", ev.ProviderEventID,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}
