package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the connection module.
type Metrics struct {
	ConnectionsRequested prometheus.Counter
	ConnectionsAccepted  prometheus.Counter
	ConnectionsBlocked   prometheus.Counter
}

// New creates a new Metrics instance with all connection module metrics registered.
func New() *Metrics {
	return &Metrics{
		ConnectionsRequested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_connections_requested_total",
			Help: "Total number of connection requests created",
		}),
		ConnectionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_connections_accepted_total",
			Help: "Total number of connection requests accepted",
		}),
		ConnectionsBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodian_connections_blocked_total",
			Help: "Total number of connections blocked",
		}),
	}
}

// IncrementRequested records a new connection request.
func (m *Metrics) IncrementRequested() {
	m.ConnectionsRequested.Inc()
}

// IncrementAccepted records an accepted connection.
func (m *Metrics) IncrementAccepted() {
	m.ConnectionsAccepted.Inc()
}

// IncrementBlocked records a blocked connection.
func (m *Metrics) IncrementBlocked() {
	m.ConnectionsBlocked.Inc()
}
