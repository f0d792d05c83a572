package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the transfer module.
type Metrics struct {
	OffersCreated    prometheus.Counter
	OffersAccepted   prometheus.Counter
	OffersCancelled  prometheus.Counter
	OffersExpired    prometheus.Counter
	RequestsCreated  prometheus.Counter
	RequestsAccepted prometheus.Counter
	AcceptConflicts  prometheus.Counter
	AcceptDuration   prometheus.Histogram
}

// New creates a new Metrics instance with all transfer module metrics registered.
func New() *Metrics {
	return &Metrics{
		OffersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_transfer_offers_created_total",
			Help: "Total number of transfer offers created",
		}),
		OffersAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_transfer_offers_accepted_total",
			Help: "Total number of transfer offers accepted",
		}),
		OffersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_transfer_offers_cancelled_total",
			Help: "Total number of transfer offers cancelled",
		}),
		OffersExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_transfer_offers_expired_total",
			Help: "Total number of transfer offers expired by the sweep",
		}),
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_transfer_requests_created_total",
			Help: "Total number of serial-number transfer requests created",
		}),
		RequestsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_transfer_requests_accepted_total",
			Help: "Total number of serial-number transfer requests accepted",
		}),
		AcceptConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_transfer_accept_conflicts_total",
			Help: "Total number of custody acceptances lost to a concurrent transfer",
		}),
		AcceptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodian_transfer_accept_duration_seconds",
			Help:    "Duration of acceptance transactions (custody critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementOffersCreated records a successful offer creation.
func (m *Metrics) IncrementOffersCreated() { m.OffersCreated.Inc() }

// IncrementOffersAccepted records a successful offer acceptance.
func (m *Metrics) IncrementOffersAccepted() { m.OffersAccepted.Inc() }

// IncrementOffersCancelled records an offer cancellation.
func (m *Metrics) IncrementOffersCancelled() { m.OffersCancelled.Inc() }

// AddOffersExpired records offers expired by one sweep pass.
func (m *Metrics) AddOffersExpired(n int) { m.OffersExpired.Add(float64(n)) }

// IncrementRequestsCreated records a new serial-number request.
func (m *Metrics) IncrementRequestsCreated() { m.RequestsCreated.Inc() }

// IncrementRequestsAccepted records a request resolved in the requester's favor.
func (m *Metrics) IncrementRequestsAccepted() { m.RequestsAccepted.Inc() }

// IncrementAcceptConflicts records an acceptance lost to a concurrent transfer.
func (m *Metrics) IncrementAcceptConflicts() { m.AcceptConflicts.Inc() }

// ObserveAccept records the duration of an acceptance transaction.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAccept(start time.Time) {
	m.AcceptDuration.Observe(time.Since(start).Seconds())
}
