package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"paygate/internal/types"
)

// Codec compresses raw webhook payloads for the ledger and the queue
// envelope. It is safe for concurrent use.
type Codec struct {
	encoder     *zstd.Encoder
	decoderPool sync.Pool
}

func NewCodec() *Codec {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		// Only fails on invalid options.
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	return &Codec{
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// Compress returns the zstd frame for data.
func (c *Codec) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress reverses Compress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	decoder := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

// Envelope is the queue message body for asynchronous dispatch. The raw
// payload travels compressed; everything else is the normalized event.
type Envelope struct {
	Event      types.PaymentEvent `json:"event"`
	RawPayload []byte             `json:"raw_zstd,omitempty"`
	RequestID  string             `json:"request_id,omitempty"`
}

// EncodeEnvelope serializes ev for the queue.
func (c *Codec) EncodeEnvelope(ev types.PaymentEvent, requestID string) ([]byte, error) {
	env := Envelope{Event: ev, RequestID: requestID}
	if len(ev.RawPayload) > 0 {
		env.RawPayload = c.Compress(ev.RawPayload)
		env.Event.RawPayload = nil
	}
	return json.Marshal(env)
}

// DecodeEnvelope restores the event published by EncodeEnvelope.
func (c *Codec) DecodeEnvelope(body []byte) (types.PaymentEvent, string, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return types.PaymentEvent{}, "", types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "queue message is not a valid envelope", err)
	}
	if !env.Event.Provider.Valid() || env.Event.ProviderEventID == "" {
		return types.PaymentEvent{}, "", types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "queue message is missing provider or event id", nil)
	}
	if len(env.RawPayload) > 0 {
		raw, err := c.Decompress(env.RawPayload)
		if err != nil {
			return types.PaymentEvent{}, "", types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "queue message payload is corrupt", err)
		}
		env.Event.RawPayload = raw
	}
	return env.Event, env.RequestID, nil
}
