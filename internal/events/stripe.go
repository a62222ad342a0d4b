package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"paygate/internal/types"
)

var stripeKinds = map[stripe.EventType]types.EventKind{
	stripe.EventTypePaymentIntentSucceeded:      types.EventPaymentCaptured,
	stripe.EventTypeChargeCaptured:              types.EventPaymentCaptured,
	stripe.EventTypeCheckoutSessionCompleted:    types.EventCheckoutCompleted,
	stripe.EventTypeCustomerSubscriptionCreated: types.EventSubscriptionCreated,
	stripe.EventTypeCustomerSubscriptionDeleted: types.EventSubscriptionCancelled,
}

// StripeNormalizer decodes Stripe Event objects with stripe-go's types.
type StripeNormalizer struct {
	logger *slog.Logger
}

func NewStripeNormalizer(logger *slog.Logger) *StripeNormalizer {
	return &StripeNormalizer{logger: logger}
}

func (n *StripeNormalizer) Provider() types.Provider { return types.ProviderStripe }

func (n *StripeNormalizer) Normalize(payload []byte, _ http.Header) (types.PaymentEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return types.PaymentEvent{}, payloadError("Stripe payload is not a valid event", err)
	}
	if evt.ID == "" || evt.Type == "" {
		return types.PaymentEvent{}, payloadError("Stripe event is missing id or type", nil)
	}

	ev := types.PaymentEvent{
		Provider:        types.ProviderStripe,
		Kind:            types.EventUnknown,
		ProviderType:    string(evt.Type),
		ProviderEventID: evt.ID,
		OccurredAt:      time.Unix(evt.Created, 0).UTC(),
		RawPayload:      append(json.RawMessage(nil), payload...),
	}

	kind, known := stripeKinds[evt.Type]
	if !known {
		n.logger.Info("unmapped Stripe event type", "type", evt.Type, "event_id", evt.ID)
		return ev, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return types.PaymentEvent{}, payloadError("Stripe event has no data.object", nil)
	}
	ev.Kind = kind

	var err error
	switch evt.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		err = n.paymentIntent(&ev, evt.Data.Raw)
	case stripe.EventTypeChargeCaptured:
		err = n.charge(&ev, evt.Data.Raw)
	case stripe.EventTypeCheckoutSessionCompleted:
		err = n.checkoutSession(&ev, evt.Data.Raw)
	default:
		err = n.subscription(&ev, evt.Data.Raw)
	}
	if err != nil {
		return types.PaymentEvent{}, err
	}
	return ev, nil
}

func (n *StripeNormalizer) paymentIntent(ev *types.PaymentEvent, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return payloadError("invalid PaymentIntent object", err)
	}
	ev.Amount = pi.AmountReceived
	if ev.Amount == 0 {
		ev.Amount = pi.Amount
	}
	ev.Currency = strings.ToUpper(string(pi.Currency))
	// The intent id is the payment reference so charge.captured for the same
	// intent resolves to the same payment.
	ev.PaymentRef = pi.ID
	ev.OrderRef = pi.ID
	linkage(ev, pi.Metadata)
	return nil
}

func (n *StripeNormalizer) charge(ev *types.PaymentEvent, raw json.RawMessage) error {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return payloadError("invalid Charge object", err)
	}
	ev.Amount = ch.AmountCaptured
	ev.Currency = strings.ToUpper(string(ch.Currency))
	ev.PaymentRef = ch.ID
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		ev.PaymentRef = ch.PaymentIntent.ID
		ev.OrderRef = ch.PaymentIntent.ID
	}
	linkage(ev, ch.Metadata)
	return nil
}

func (n *StripeNormalizer) checkoutSession(ev *types.PaymentEvent, raw json.RawMessage) error {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return payloadError("invalid Checkout Session object", err)
	}
	ev.Amount = cs.AmountTotal
	ev.Currency = strings.ToUpper(string(cs.Currency))
	ev.PaymentRef = cs.ID
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		ev.PaymentRef = cs.PaymentIntent.ID
		ev.OrderRef = cs.PaymentIntent.ID
	}
	if cs.Subscription != nil {
		ev.SubscriptionRef = cs.Subscription.ID
	}
	linkage(ev, cs.Metadata)
	if ev.SubjectRef == "" {
		ev.SubjectRef = cs.ClientReferenceID
	}
	return nil
}

func (n *StripeNormalizer) subscription(ev *types.PaymentEvent, raw json.RawMessage) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return payloadError("invalid Subscription object", err)
	}
	if sub.ID == "" {
		return payloadError("subscription object has no id", nil)
	}
	ev.SubscriptionRef = sub.ID
	ev.Currency = strings.ToUpper(string(sub.Currency))
	linkage(ev, sub.Metadata)
	return nil
}

var _ Normalizer = (*StripeNormalizer)(nil)
