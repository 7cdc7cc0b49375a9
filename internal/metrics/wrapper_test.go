package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestWrapper(t *testing.T) (*Metrics, *MetricsWrapper) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	return m, NewWrapper(m)
}

func TestNewWrapper(t *testing.T) {
	m, wrapper := newTestWrapper(t)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != m {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestMetricsWrapper_LedgerCounters(t *testing.T) {
	m, w := newTestWrapper(t)

	w.RegistrationsInc()
	w.RegistrationsInc()
	w.SlashesInc()
	w.SlashedStakeAdd(100)
	w.SlashedStakeAdd(90)

	if v := testutil.ToFloat64(m.Registrations); v != 2 {
		t.Errorf("Expected 2 registrations, got %f", v)
	}
	if v := testutil.ToFloat64(m.Slashes); v != 1 {
		t.Errorf("Expected 1 slash, got %f", v)
	}
	if v := testutil.ToFloat64(m.SlashedStake); v != 190 {
		t.Errorf("Expected slashed stake 190, got %f", v)
	}
}

func TestMetricsWrapper_ConsensusCounters(t *testing.T) {
	m, w := newTestWrapper(t)

	w.RoundsInc()
	w.RoundsInc()
	w.RoundFailuresInc()
	w.OutcomesInc()
	w.ProviderFailuresInc()
	w.PeerFailuresInc()
	w.PeerTimeoutsInc()

	checks := map[string]struct {
		c    prometheus.Counter
		want float64
	}{
		"rounds":            {m.Rounds, 2},
		"round failures":    {m.RoundFailures, 1},
		"outcomes":          {m.Outcomes, 1},
		"provider failures": {m.ProviderFailures, 1},
		"peer failures":     {m.PeerFailures, 1},
		"peer timeouts":     {m.PeerTimeouts, 1},
	}
	for name, c := range checks {
		if v := testutil.ToFloat64(c.c); v != c.want {
			t.Errorf("%s: expected %f, got %f", name, c.want, v)
		}
	}
}

func TestMetricsWrapper_HistogramOperations(t *testing.T) {
	m, w := newTestWrapper(t)

	w.AccuracyObserve(0.5)
	w.AccuracyObserve(0.9)
	w.RoundLatencyObserve(10 * time.Millisecond)
	w.EligibleContributorsObserve(3)
	w.ProviderLatencyObserve(time.Millisecond)
	w.PeerLatencyObserve(time.Second)

	for name, c := range map[string]prometheus.Collector{
		"ledger_model_accuracy":           m.ModelAccuracy,
		"consensus_round_latency_seconds": m.RoundLatency,
		"consensus_eligible_contributors": m.EligibleContributors,
		"provider_latency_seconds":        m.ProviderLatency,
		"peer_latency_seconds":            m.PeerLatency,
	} {
		if n := testutil.CollectAndCount(c, name); n != 1 {
			t.Errorf("%s: expected 1 series, got %d", name, n)
		}
	}
}

func TestMetricsWrapper_HTTPCounters(t *testing.T) {
	m, w := newTestWrapper(t)

	w.HTTPRequests().Inc()
	w.HTTPRequests().Inc()
	w.RateLimited().Inc()

	if v := testutil.ToFloat64(m.HTTPRequests); v != 2 {
		t.Errorf("Expected 2 requests, got %f", v)
	}
	if v := testutil.ToFloat64(m.RateLimited); v != 1 {
		t.Errorf("Expected 1 rate limited request, got %f", v)
	}
}

func TestNewWithRegistry_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewWithRegistry(registry)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic when registering metrics twice on the same registry")
		}
	}()
	NewWithRegistry(registry)
}
