package types

import "time"

// Telemetry metric names for CloudWatch.
const (
	MetricWebhookReceived   = "WebhookReceived"
	MetricWebhookRejected   = "WebhookRejected"
	MetricEventDispatched   = "EventDispatched"
	MetricEventDuplicate    = "EventDuplicate"
	MetricEventFailed       = "EventFailed"
	MetricDispatchLatency   = "DispatchLatency"
	MetricOrderCreated      = "OrderCreated"
	MetricAPILatency        = "APILatency"
	MetricExternalAPIFailed = "ExternalAPIFailure"

	DimProvider  = "Provider"
	DimEventKind = "EventKind"
	DimOutcome   = "Outcome"
	DimEndpoint  = "Endpoint"

	MetricNamespace = "PayGate"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock, always in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
