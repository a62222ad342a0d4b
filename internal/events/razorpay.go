package events

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"paygate/internal/types"
)

// Razorpay event names handled by the gateway.
const (
	RazorpayPaymentCaptured       = "payment.captured"
	RazorpayOrderPaid             = "order.paid"
	RazorpaySubscriptionActivated = "subscription.activated"
	RazorpaySubscriptionCancelled = "subscription.cancelled"
)

var razorpayKinds = map[string]types.EventKind{
	RazorpayPaymentCaptured:       types.EventPaymentCaptured,
	RazorpayOrderPaid:             types.EventPaymentCaptured,
	RazorpaySubscriptionActivated: types.EventSubscriptionCreated,
	RazorpaySubscriptionCancelled: types.EventSubscriptionCancelled,
}

// notes decodes Razorpay notes, which arrive as an object or, when empty,
// as an empty JSON array.
type notes map[string]string

func (n *notes) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		*n = nil
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	out := make(notes, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	*n = out
	return nil
}

type razorpayEntity struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountPaid     int64  `json:"amount_paid"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	OrderID        string `json:"order_id"`
	SubscriptionID string `json:"subscription_id"`
	Notes          notes  `json:"notes"`
	CreatedAt      int64  `json:"created_at"`
}

type razorpayWrapped struct {
	Entity razorpayEntity `json:"entity"`
}

type razorpayEvent struct {
	Entity    string `json:"entity"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment      *razorpayWrapped `json:"payment"`
		Order        *razorpayWrapped `json:"order"`
		Subscription *razorpayWrapped `json:"subscription"`
	} `json:"payload"`
}

// RazorpayNormalizer decodes Razorpay webhook bodies. The event id comes from
// X-Razorpay-Event-Id; bodies delivered without it fall back to the primary
// entity id joined with the event name, which is stable across redeliveries.
type RazorpayNormalizer struct {
	logger *slog.Logger
}

func NewRazorpayNormalizer(logger *slog.Logger) *RazorpayNormalizer {
	return &RazorpayNormalizer{logger: logger}
}

func (n *RazorpayNormalizer) Provider() types.Provider { return types.ProviderRazorpay }

func (n *RazorpayNormalizer) Normalize(payload []byte, headers http.Header) (types.PaymentEvent, error) {
	var evt razorpayEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return types.PaymentEvent{}, payloadError("Razorpay payload is not valid JSON", err)
	}
	if evt.Event == "" {
		return types.PaymentEvent{}, payloadError("Razorpay payload has no event name", nil)
	}

	ev := types.PaymentEvent{
		Provider:     types.ProviderRazorpay,
		Kind:         types.EventUnknown,
		ProviderType: evt.Event,
		OccurredAt:   time.Unix(evt.CreatedAt, 0).UTC(),
		RawPayload:   append(json.RawMessage(nil), payload...),
	}

	primary := n.fill(&ev, &evt)

	ev.ProviderEventID = strings.TrimSpace(headers.Get("X-Razorpay-Event-Id"))
	if ev.ProviderEventID == "" {
		if primary == "" {
			return types.PaymentEvent{}, payloadError("Razorpay payload has no event id and no entity id", nil)
		}
		ev.ProviderEventID = primary + ":" + evt.Event
	}

	if kind, ok := razorpayKinds[evt.Event]; ok {
		ev.Kind = kind
	} else {
		n.logger.Info("unmapped Razorpay event type", "type", evt.Event, "event_id", ev.ProviderEventID)
	}
	return ev, nil
}

// fill copies entity fields into ev and returns the id of the entity the
// event is about.
func (n *RazorpayNormalizer) fill(ev *types.PaymentEvent, evt *razorpayEvent) string {
	var primary string

	if sub := evt.Payload.Subscription; sub != nil {
		ev.SubscriptionRef = sub.Entity.ID
		linkage(ev, sub.Entity.Notes)
		primary = sub.Entity.ID
	}
	if order := evt.Payload.Order; order != nil {
		ev.OrderRef = order.Entity.ID
		ev.Amount = order.Entity.AmountPaid
		ev.Currency = strings.ToUpper(order.Entity.Currency)
		linkage(ev, order.Entity.Notes)
		primary = order.Entity.ID
	}
	if pay := evt.Payload.Payment; pay != nil {
		e := pay.Entity
		ev.PaymentRef = e.ID
		ev.Amount = e.Amount
		ev.Currency = strings.ToUpper(e.Currency)
		if e.OrderID != "" {
			ev.OrderRef = e.OrderID
		}
		if e.SubscriptionID != "" && ev.SubscriptionRef == "" {
			ev.SubscriptionRef = e.SubscriptionID
		}
		linkage(ev, e.Notes)
		primary = e.ID
	}
	return primary
}

var _ Normalizer = (*RazorpayNormalizer)(nil)
