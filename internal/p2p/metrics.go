package p2p

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the driver updates as it runs.
// Callers register it with MustRegister (or each collector from Collectors()
// individually) on whatever registry their process exposes on /metrics.
type Metrics struct {
	ConnectedPeers      prometheus.Gauge
	GreylistedPeers     prometheus.Gauge
	BannedPeers         prometheus.Gauge
	CommitmentsReceived prometheus.Counter
	RawTxListsReceived  prometheus.Counter
	RequestsSent        *prometheus.CounterVec
	RequestsServed      *prometheus.CounterVec
	RequestsRateLimited *prometheus.CounterVec
	ReputationEvents    *prometheus.CounterVec
}

// NewMetrics constructs a Metrics bundle with every collector registered
// under the given Prometheus namespace, defaulting to "preconf_net" when
// namespace is empty.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "preconf_net"
	}
	return &Metrics{
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Number of currently connected libp2p peers.",
		}),
		GreylistedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "greylisted_peers",
			Help:      "Number of peers currently greylisted by reputation.",
		}),
		BannedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "banned_peers",
			Help:      "Number of peers currently hard banned by reputation.",
		}),
		CommitmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commitments_gossip_received_total",
			Help:      "Total number of valid commitment gossip messages received.",
		}),
		RawTxListsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_txlists_gossip_received_total",
			Help:      "Total number of valid raw transaction list gossip messages received.",
		}),
		RequestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Total number of outbound requests sent, by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		RequestsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_served_total",
			Help:      "Total number of inbound requests served, by protocol.",
		}, []string{"protocol"}),
		RequestsRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rate_limited_total",
			Help:      "Total number of inbound requests rejected by the rate limiter, by protocol.",
		}, []string{"protocol"}),
		ReputationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reputation_events_total",
			Help:      "Total number of reputation actions applied, by action and resulting state.",
		}, []string{"action", "state"}),
	}
}

// Collectors returns every collector in m, for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectedPeers,
		m.GreylistedPeers,
		m.BannedPeers,
		m.CommitmentsReceived,
		m.RawTxListsReceived,
		m.RequestsSent,
		m.RequestsServed,
		m.RequestsRateLimited,
		m.ReputationEvents,
	}
}

// MustRegister registers every collector in m with reg, panicking on
// duplicate registration as prometheus.MustRegister does.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Collectors()...)
}
