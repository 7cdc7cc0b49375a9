package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

// MetricsWrapper adapts Metrics to the narrow interfaces declared by the
// ledger, consensus and api packages.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Ledger

func (w *MetricsWrapper) RegistrationsInc()         { w.m.Registrations.Inc() }
func (w *MetricsWrapper) SlashesInc()               { w.m.Slashes.Inc() }
func (w *MetricsWrapper) SlashedStakeAdd(v float64) { w.m.SlashedStake.Add(v) }
func (w *MetricsWrapper) AccuracyObserve(v float64) { w.m.ModelAccuracy.Observe(v) }

// Consensus

func (w *MetricsWrapper) RoundsInc()        { w.m.Rounds.Inc() }
func (w *MetricsWrapper) RoundFailuresInc() { w.m.RoundFailures.Inc() }
func (w *MetricsWrapper) OutcomesInc()      { w.m.Outcomes.Inc() }

func (w *MetricsWrapper) RoundLatencyObserve(d time.Duration) {
	w.m.RoundLatency.Observe(d.Seconds())
}

func (w *MetricsWrapper) EligibleContributorsObserve(n int) {
	w.m.EligibleContributors.Observe(float64(n))
}

func (w *MetricsWrapper) ProviderFailuresInc() { w.m.ProviderFailures.Inc() }
func (w *MetricsWrapper) PeerFailuresInc()     { w.m.PeerFailures.Inc() }
func (w *MetricsWrapper) PeerTimeoutsInc()     { w.m.PeerTimeouts.Inc() }

func (w *MetricsWrapper) ProviderLatencyObserve(d time.Duration) {
	w.m.ProviderLatency.Observe(d.Seconds())
}

func (w *MetricsWrapper) PeerLatencyObserve(d time.Duration) {
	w.m.PeerLatency.Observe(d.Seconds())
}

// API

func (w *MetricsWrapper) HTTPRequests() MetricsCounter {
	return &CounterWrapper{w.m.HTTPRequests}
}

func (w *MetricsWrapper) RateLimited() MetricsCounter {
	return &CounterWrapper{w.m.RateLimited}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}
