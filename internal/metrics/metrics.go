// Package metrics provides Prometheus metrics collection for the consensus node.
// It defines and manages the ledger, consensus, provider and peer metrics that
// are exposed via the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	// Ledger metrics
	Registrations prometheus.Counter   // Total number of model registrations
	Slashes       prometheus.Counter   // Total number of slash transactions
	SlashedStake  prometheus.Counter   // Total stake removed by slashing
	ModelAccuracy prometheus.Histogram // Accuracy observations fed into the ledger

	// Consensus metrics
	Rounds               prometheus.Counter   // Total number of consensus rounds started
	RoundFailures        prometheus.Counter   // Rounds that ended without a consensus
	RoundLatency         prometheus.Histogram // End-to-end consensus round latency in seconds
	EligibleContributors prometheus.Histogram // Number of contributors included per round
	Outcomes             prometheus.Counter   // Total number of outcome feedback updates

	// Contributor metrics
	ProviderFailures prometheus.Counter   // Local provider prediction failures
	ProviderLatency  prometheus.Histogram // Local provider prediction latency in seconds
	PeerFailures     prometheus.Counter   // Peer query failures (errors and malformed responses)
	PeerTimeouts     prometheus.Counter   // Peer queries that hit their deadline
	PeerLatency      prometheus.Histogram // Peer query latency in seconds

	// HTTP metrics
	HTTPRequests prometheus.Counter // Total number of API requests served
	RateLimited  prometheus.Counter // API requests rejected by the rate limiter
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	latencyBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

	return &Metrics{
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_registrations_total",
			Help: "Total number of model registrations",
		}),
		Slashes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_slashes_total",
			Help: "Total number of slash transactions",
		}),
		SlashedStake: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_slashed_stake_total",
			Help: "Total stake removed by slashing",
		}),
		ModelAccuracy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_model_accuracy",
			Help:    "Accuracy observations recorded in the ledger",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Rounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "consensus_rounds_total",
			Help: "Total number of consensus rounds started",
		}),
		RoundFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "consensus_round_failures_total",
			Help: "Consensus rounds that ended without a prediction",
		}),
		RoundLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "consensus_round_latency_seconds",
			Help:    "Consensus round latency in seconds (end-to-end)",
			Buckets: latencyBuckets,
		}),
		EligibleContributors: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "consensus_eligible_contributors",
			Help:    "Number of contributors included in a consensus round",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		Outcomes: factory.NewCounter(prometheus.CounterOpts{
			Name: "consensus_outcomes_total",
			Help: "Total number of per-model outcome updates",
		}),
		ProviderFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "provider_failures_total",
			Help: "Total number of local provider prediction failures",
		}),
		ProviderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "provider_latency_seconds",
			Help:    "Local provider prediction latency in seconds",
			Buckets: latencyBuckets,
		}),
		PeerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "peer_failures_total",
			Help: "Total number of failed peer queries",
		}),
		PeerTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "peer_timeouts_total",
			Help: "Total number of peer queries that timed out",
		}),
		PeerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "peer_latency_seconds",
			Help:    "Peer query latency in seconds",
			Buckets: latencyBuckets,
		}),
		HTTPRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Total number of API requests rejected by the rate limiter",
		}),
	}
}
