package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bullycast"

// Registry holds the collectors a node reports. A nil *Registry is valid and
// records nothing.
type Registry struct {
	registry *prometheus.Registry

	ElectionsTotal     *prometheus.CounterVec
	ElectionDuration   prometheus.Histogram
	LeaderGeneration   prometheus.Gauge
	IsLeader           prometheus.Gauge
	SequenceID         prometheus.Gauge
	Members            prometheus.Gauge
	HeartbeatsSent     prometheus.Counter
	HeartbeatsReceived prometheus.Counter
	MessagesRelayed    prometheus.Counter
	Dropped            *prometheus.CounterVec
}

// New creates a registry with every collector registered on a fresh
// prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		registry: reg,
		ElectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "elections_total",
				Help:      "Total number of election rounds by outcome.",
			},
			[]string{"result"}, // won, lost, aborted
		),
		ElectionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "election_duration_seconds",
				Help:      "Duration of election rounds in seconds.",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
		),
		LeaderGeneration: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "leader_generation",
				Help:      "Current leadership generation of this node.",
			},
		),
		IsLeader: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "is_leader",
				Help:      "Whether this node holds leadership (1=yes, 0=no).",
			},
		),
		SequenceID: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sequence_id",
				Help:      "Highest message sequence id known to this node.",
			},
		),
		Members: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "members",
				Help:      "Size of the last membership set.",
			},
		),
		HeartbeatsSent: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_sent_total",
				Help:      "Heartbeats broadcast while leading.",
			},
		),
		HeartbeatsReceived: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_received_total",
				Help:      "Heartbeats received from a leader.",
			},
		),
		MessagesRelayed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_relayed_total",
				Help:      "Message requests sequenced and broadcast while leading.",
			},
		),
		Dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_envelopes_total",
				Help:      "Inbound envelopes dropped, by reason.",
			},
			[]string{"reason"}, // decode, unexpected, address
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) Election(result string, seconds float64) {
	if r == nil {
		return
	}
	r.ElectionsTotal.WithLabelValues(result).Inc()
	r.ElectionDuration.Observe(seconds)
}

func (r *Registry) Leadership(leading bool, generation uint64) {
	if r == nil {
		return
	}
	r.LeaderGeneration.Set(float64(generation))
	if leading {
		r.IsLeader.Set(1)
	} else {
		r.IsLeader.Set(0)
	}
}

func (r *Registry) Sequence(id uint64) {
	if r == nil {
		return
	}
	r.SequenceID.Set(float64(id))
}

func (r *Registry) MemberCount(n int) {
	if r == nil {
		return
	}
	r.Members.Set(float64(n))
}

func (r *Registry) HeartbeatSent() {
	if r == nil {
		return
	}
	r.HeartbeatsSent.Inc()
}

func (r *Registry) HeartbeatReceived() {
	if r == nil {
		return
	}
	r.HeartbeatsReceived.Inc()
}

func (r *Registry) Relayed() {
	if r == nil {
		return
	}
	r.MessagesRelayed.Inc()
}

func (r *Registry) Drop(reason string) {
	if r == nil {
		return
	}
	r.Dropped.WithLabelValues(reason).Inc()
}
