package types

import (
	"encoding/json"
	"time"
)

// Provider identifies the payment provider that originated an event or order.
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderRazorpay Provider = "razorpay"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderRazorpay:
		return true
	}
	return false
}

// ParseProvider converts a raw string (path segment, query param, queue
// attribute) into a Provider.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(s)
	return p, p.Valid()
}

// EventKind is the closed set of normalized payment event kinds.
type EventKind string

const (
	EventPaymentCaptured       EventKind = "payment_captured"
	EventSubscriptionCreated   EventKind = "subscription_created"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventCheckoutCompleted     EventKind = "checkout_completed"
	EventUnknown               EventKind = "unknown"
)

// AllEventKinds lists every kind, including EventUnknown.
var AllEventKinds = []EventKind{
	EventPaymentCaptured,
	EventSubscriptionCreated,
	EventSubscriptionCancelled,
	EventCheckoutCompleted,
	EventUnknown,
}

// RequiresSubject reports whether the kind mutates subject-owned state and
// therefore cannot be applied without a linked subject.
func (k EventKind) RequiresSubject() bool {
	switch k {
	case EventPaymentCaptured, EventCheckoutCompleted, EventSubscriptionCreated:
		return true
	}
	return false
}

// PaymentEvent is a provider event normalized into the gateway's vocabulary.
// It is immutable once persisted.
type PaymentEvent struct {
	Provider        Provider  `json:"provider"`
	Kind            EventKind `json:"kind"`
	ProviderType    string    `json:"provider_type"`
	ProviderEventID string    `json:"provider_event_id"`

	// Amount is in the currency's minor unit (cents, paise).
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	// SubjectRef and TenantRef are read back from the order metadata/notes
	// written when the order was created.
	SubjectRef string `json:"subject_ref,omitempty"`
	TenantRef  string `json:"tenant_ref,omitempty"`

	PaymentRef      string `json:"payment_ref,omitempty"`
	OrderRef        string `json:"order_ref,omitempty"`
	SubscriptionRef string `json:"subscription_ref,omitempty"`

	OccurredAt time.Time       `json:"occurred_at"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// LedgerStatus records how an event was resolved by the dispatcher.
type LedgerStatus string

const (
	LedgerStatusProcessed LedgerStatus = "processed"
	LedgerStatusIgnored   LedgerStatus = "ignored"
	LedgerStatusUnlinked  LedgerStatus = "unlinked"
)

// ProcessedEventRecord is the idempotence ledger entry for a provider event.
// (Provider, ProviderEventID) is unique; a record is never mutated.
type ProcessedEventRecord struct {
	Provider        Provider     `json:"provider"`
	ProviderEventID string       `json:"provider_event_id"`
	Kind            EventKind    `json:"kind"`
	Status          LedgerStatus `json:"status"`
	ProcessedAt     time.Time    `json:"processed_at"`
}

// OrderStatus is the lifecycle state of a PaymentOrder.
type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "created"
	OrderStatusPaid    OrderStatus = "paid"
)

// PaymentOrder is an order created through the callable endpoint on behalf of
// a verified subject.
type PaymentOrder struct {
	ID              string            `json:"id"`
	Provider        Provider          `json:"provider"`
	ProviderOrderID string            `json:"provider_order_id"`
	SubjectID       string            `json:"subject_id"`
	TenantID        string            `json:"tenant_id,omitempty"`
	PlanID          string            `json:"plan_id,omitempty"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Receipt         string            `json:"receipt,omitempty"`
	Notes           map[string]string `json:"notes,omitempty"`
	Status          OrderStatus       `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Payment is the business record written when a capture is applied.
type Payment struct {
	ID         string    `json:"id"`
	Provider   Provider  `json:"provider"`
	PaymentRef string    `json:"payment_ref"`
	OrderRef   string    `json:"order_ref,omitempty"`
	SubjectID  string    `json:"subject_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	CapturedAt time.Time `json:"captured_at"`
}

// SubscriptionStatus is the gateway's view of a provider subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is keyed by the provider's subscription id.
type Subscription struct {
	Provider        Provider           `json:"provider"`
	SubscriptionRef string             `json:"subscription_ref"`
	SubjectID       string             `json:"subject_id"`
	TenantID        string             `json:"tenant_id,omitempty"`
	Status          SubscriptionStatus `json:"status"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Metadata keys written into provider order notes/metadata at creation time
// and read back by the normalizers.
const (
	MetaSubjectID = "subject_id"
	MetaTenantID  = "tenant_id"
	MetaOrderID   = "gateway_order_id"
	MetaPlanID    = "plan_id"
)
