package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"paygate/internal/events"
	"paygate/internal/types"
)

// EventDispatcher is the part of Dispatcher the consumer needs.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev types.PaymentEvent) (Outcome, error)
}

// Consumer drains SQS batches published by Publisher.
type Consumer struct {
	dispatcher  EventDispatcher
	codec       *events.Codec
	concurrency int
	logger      *slog.Logger
}

func NewConsumer(d EventDispatcher, codec *events.Codec, concurrency int, logger *slog.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{dispatcher: d, codec: codec, concurrency: concurrency, logger: logger}
}

// Handle dispatches every record concurrently and reports the ones that
// failed transiently as batch item failures, so SQS redelivers only those.
// Records that can never succeed (undecodable bodies, invalid events) are
// logged and acknowledged.
func (c *Consumer) Handle(ctx context.Context, batch lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var (
		mu   sync.Mutex
		resp lambdaevents.SQSEventResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, record := range batch.Records {
		g.Go(func() error {
			if err := c.process(gctx, record); err != nil {
				mu.Lock()
				resp.BatchItemFailures = append(resp.BatchItemFailures,
					lambdaevents.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				mu.Unlock()
			}
			// Per-record failures are reported, never abort the batch.
			return nil
		})
	}
	_ = g.Wait()

	if n := len(resp.BatchItemFailures); n > 0 {
		c.logger.WarnContext(ctx, "batch finished with retryable failures",
			"records", len(batch.Records), "failed", n)
	}
	return resp, nil
}

func (c *Consumer) process(ctx context.Context, record lambdaevents.SQSMessage) error {
	logger := c.logger.With("message_id", record.MessageId)

	ev, requestID, err := c.codec.DecodeEnvelope([]byte(record.Body))
	if err != nil {
		logger.ErrorContext(ctx, "dropping undecodable message", "error", err)
		return nil
	}
	if requestID != "" {
		ctx = types.WithRequestID(ctx, requestID)
		logger = logger.With("request_id", requestID)
	}
	ctx = types.WithLogger(ctx, logger)

	if _, err := c.dispatcher.Dispatch(ctx, ev); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && !appErr.Code.IsTransient() {
			logger.ErrorContext(ctx, "dropping event that cannot be applied", "error", err)
			return nil
		}
		return err
	}
	return nil
}
