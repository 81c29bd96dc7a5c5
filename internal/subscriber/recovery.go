package subscriber

import (
	"net/http"

	obsmetrics "github.com/lineagelab/eventline/internal/observability/metrics"
)

type deliveryOutcome int

const (
	outcomeAccepted deliveryOutcome = iota
	outcomeBusy
	outcomeTransient
	outcomePermanent
	outcomeGone
)

// String renders the outcome with the delivery metric's label vocabulary
// so wire results and capacity exhaustion share one label set.
func (o deliveryOutcome) String() string {
	switch o {
	case outcomeAccepted:
		return obsmetrics.DeliveryOutcomeDelivered
	case outcomeBusy:
		return obsmetrics.DeliveryOutcomeBusy
	case outcomeTransient:
		return obsmetrics.DeliveryOutcomeRetried
	case outcomePermanent:
		return obsmetrics.DeliveryOutcomeRejected
	case outcomeGone:
		return obsmetrics.DeliveryOutcomeGone
	default:
		return "unknown"
	}
}

// classifyDelivery maps an HTTP exchange to a dispatch recovery outcome.
// A network error counts as transient; the subscriber may just be slow
// to come back.
func classifyDelivery(statusCode int, err error) deliveryOutcome {
	if err != nil {
		return outcomeTransient
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return outcomeAccepted
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		return outcomeGone
	case statusCode == http.StatusServiceUnavailable, statusCode == http.StatusTooManyRequests:
		return outcomeBusy
	case statusCode >= 500:
		return outcomeTransient
	default:
		// The subscriber saw the event and rejected it for good.
		return outcomePermanent
	}
}
