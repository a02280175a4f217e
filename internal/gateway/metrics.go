package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Signature results.
const (
	resultAccepted = "accepted"
	resultReplayed = "replayed"
	resultRejected = "rejected"
)

// metrics holds the gateway's Prometheus collectors.
type metrics struct {
	signatures    *prometheus.CounterVec
	sessionsOpen  prometheus.Counter
	sessionsValid prometheus.Counter
	messages      *prometheus.CounterVec
	rotations     prometheus.Counter
	epoch         prometheus.Gauge
	verifyLatency prometheus.Histogram
}

// newMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		signatures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_signatures_total",
			Help: "Signatures submitted to verification sessions, by result.",
		}, []string{"result"}),
		sessionsOpen: f.NewCounter(prometheus.CounterOpts{
			Name: "attestor_sessions_opened_total",
			Help: "Verification sessions created.",
		}),
		sessionsValid: f.NewCounter(prometheus.CounterOpts{
			Name: "attestor_sessions_valid_total",
			Help: "Verification sessions that reached quorum.",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_messages_total",
			Help: "Message state transitions, by resulting status.",
		}, []string{"status"}),
		rotations: f.NewCounter(prometheus.CounterOpts{
			Name: "attestor_rotations_total",
			Help: "Verifier set rotations.",
		}),
		epoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "attestor_current_epoch",
			Help: "Epoch of the current verifier set.",
		}),
		verifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_signature_verify_seconds",
			Help:    "Time spent checking one signature submission.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
	}
}
