// Package metric defines the prometheus instrumentation for the hub.
package metric

import "github.com/prometheus/client_golang/prometheus"

// Set bundles every collector the hub maintains. A single Set is registered
// per process; tests construct their own against a private registry.
type Set struct {
	broadcastsTotal *prometheus.CounterVec
	deliveredTotal  prometheus.Counter
	droppedTotal    *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	blocksTotal     prometheus.Counter
	connections     *prometheus.GaugeVec
}

func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		broadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "broadcasts_total",
			Help:      "Broadcast passes completed, by outcome.",
		}, []string{"outcome"}),
		deliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "deliveries_total",
			Help:      "Sockets successfully written to across all broadcasts.",
		}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "messages_dropped_total",
			Help:      "Messages silently dropped, by reason.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "rate_limited_total",
			Help:      "Actions rejected by the rate limiter, by kind.",
		}, []string{"kind"}),
		blocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "address_blocks_total",
			Help:      "Remote addresses placed on the block list.",
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatbridge",
			Name:      "connections",
			Help:      "Live connections per population.",
		}, []string{"population"}),
	}
	if reg != nil {
		reg.MustRegister(
			s.broadcastsTotal,
			s.deliveredTotal,
			s.droppedTotal,
			s.rateLimited,
			s.blocksTotal,
			s.connections,
		)
	}
	return s
}

// Broadcast records a completed pass and its delivery count.
func (s *Set) Broadcast(delivered int) {
	outcome := "delivered"
	if delivered == 0 {
		outcome = "no_recipients"
	}
	s.broadcastsTotal.WithLabelValues(outcome).Inc()
	s.deliveredTotal.Add(float64(delivered))
}

// Dropped records a silent drop.
func (s *Set) Dropped(reason string) {
	s.droppedTotal.WithLabelValues(reason).Inc()
}

// RateLimited records a limiter rejection.
func (s *Set) RateLimited(kind string) {
	s.rateLimited.WithLabelValues(kind).Inc()
}

// Blocked records a new address block.
func (s *Set) Blocked() { s.blocksTotal.Inc() }

// SetConnections publishes the current pool occupancy.
func (s *Set) SetConnections(population string, n int) {
	s.connections.WithLabelValues(population).Set(float64(n))
}
