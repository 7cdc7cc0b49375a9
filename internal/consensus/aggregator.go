// Package consensus combines the predictions of local providers and peer
// nodes into one stake-weighted consensus vector, and feeds observed outcomes
// back into the stake ledger.
package consensus

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stake-consensus/internal/common"
	"stake-consensus/internal/ledger"
	"stake-consensus/internal/ml"
	"stake-consensus/internal/peer"
)

// MetricsInterface defines metrics methods needed by the aggregator
type MetricsInterface interface {
	RoundsInc()
	RoundFailuresInc()
	OutcomesInc()
	RoundLatencyObserve(time.Duration)
	EligibleContributorsObserve(int)
	ProviderFailuresInc()
	ProviderLatencyObserve(time.Duration)
	PeerFailuresInc()
	PeerTimeoutsInc()
	PeerLatencyObserve(time.Duration)
}

// Options bound eligibility and contributor latency.
type Options struct {
	MinStakeRequired float64
	ProviderTimeout  time.Duration
	PeerTimeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		MinStakeRequired: common.DefaultMinStakeRequired,
		ProviderTimeout:  common.DefaultProviderTimeout,
		PeerTimeout:      common.DefaultPeerTimeout,
	}
}

// Aggregator owns the local providers and the peer set of one node. The
// provider list is fixed at construction.
type Aggregator struct {
	ledger    *ledger.Ledger
	providers []ml.Provider
	transport peer.Transport
	peers     *peer.Set
	opts      Options
	metrics   MetricsInterface
}

// New creates an aggregator. transport may be nil when the node never
// queries peers; metrics may be nil.
func New(l *ledger.Ledger, providers []ml.Provider, transport peer.Transport, opts Options, metrics MetricsInterface) *Aggregator {
	def := DefaultOptions()
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = def.ProviderTimeout
	}
	if opts.PeerTimeout <= 0 {
		opts.PeerTimeout = def.PeerTimeout
	}
	if opts.MinStakeRequired < 0 {
		opts.MinStakeRequired = def.MinStakeRequired
	}
	ps := make([]ml.Provider, len(providers))
	copy(ps, providers)

	return &Aggregator{
		ledger:    l,
		providers: ps,
		transport: transport,
		peers:     peer.NewSet(),
		opts:      opts,
		metrics:   metrics,
	}
}

func (a *Aggregator) Options() Options { return a.opts }

// AddPeer registers a peer address. It reports whether the address was new;
// no liveness check is made.
func (a *Aggregator) AddPeer(address string) bool {
	added := a.peers.Add(address)
	if added {
		log.Info().Str("peer", peer.Normalize(address)).Msg("peer registered")
	}
	return added
}

// Peers returns the registered peer addresses, sorted.
func (a *Aggregator) Peers() []string {
	return a.peers.List()
}

// LocalModelIDs returns the ids of the local providers in construction order.
func (a *Aggregator) LocalModelIDs() []string {
	ids := make([]string, len(a.providers))
	for i, p := range a.providers {
		ids[i] = p.ID()
	}
	return ids
}

// Train fits every local provider that supports in-process training and
// returns the ids that were trained. Failures of individual providers are
// joined into the returned error; the others are still trained.
func (a *Aggregator) Train(X [][]float64, y []int) ([]string, error) {
	var (
		trained []string
		errs    []error
	)
	for _, p := range a.providers {
		t, ok := p.(ml.Trainable)
		if !ok {
			continue
		}
		start := time.Now()
		if err := t.Train(X, y); err != nil {
			log.Error().Err(err).Str("model_id", p.ID()).Msg("training failed")
			errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
			continue
		}
		log.Info().
			Str("model_id", p.ID()).
			Int("samples", len(X)).
			Dur("elapsed", time.Since(start)).
			Msg("model trained")
		trained = append(trained, p.ID())
	}
	return trained, errors.Join(errs...)
}
