package consensus

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stake-consensus/internal/ledger"
	"stake-consensus/internal/ml"
	"stake-consensus/internal/peer"
)

type Source string

const (
	SourceLocal Source = "local"
	SourcePeer  Source = "peer"
)

// VoteStatus classifies the result of one contributor call.
type VoteStatus string

const (
	StatusOK        VoteStatus = "ok"
	StatusTimeout   VoteStatus = "timeout"
	StatusError     VoteStatus = "error"
	StatusMalformed VoteStatus = "malformed"
)

// Exclusion reasons reported per contributor.
const (
	ReasonFailed            = "failed"
	ReasonUnregistered      = "unregistered"
	ReasonInsufficientStake = "insufficient_stake"
	ReasonDuplicate         = "duplicate"
)

// Vote is the result of querying one local provider or one peer.
type Vote struct {
	ModelID    string        `json:"model_id,omitempty"`
	Source     Source        `json:"source"`
	Address    string        `json:"address,omitempty"`
	Prediction []float64     `json:"prediction,omitempty"`
	Status     VoteStatus    `json:"status"`
	Err        error         `json:"-"`
	Latency    time.Duration `json:"latency"`
}

// Contributor describes how a successful vote was treated by the round.
type Contributor struct {
	ModelID  string  `json:"model_id"`
	Source   Source  `json:"source"`
	Weight   float64 `json:"weight"`
	Stake    float64 `json:"stake"`
	Included bool    `json:"included"`
	Reason   string  `json:"reason,omitempty"`
}

// Round is the detailed outcome of one consensus computation.
type Round struct {
	Prediction   []float64     `json:"prediction"`
	Votes        []Vote        `json:"votes"`
	Contributors []Contributor `json:"contributors"`
}

// Predict returns the stake-weighted consensus for features.
func (a *Aggregator) Predict(ctx context.Context, features []float64, includePeers bool) ([]float64, error) {
	round, err := a.PredictDetailed(ctx, features, includePeers)
	if err != nil {
		return nil, err
	}
	return round.Prediction, nil
}

// PredictDetailed queries every local provider and, if includePeers is set,
// every peer concurrently, each bounded by its own timeout. Failed
// contributors are dropped from the round. Surviving votes count only when
// the model is registered in the ledger with enough stake; each is weighted
// by its ledger weight.
func (a *Aggregator) PredictDetailed(ctx context.Context, features []float64, includePeers bool) (Round, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RoundsInc()
	}

	var peers []string
	if includePeers && a.transport != nil {
		peers = a.peers.List()
	}
	votes := a.collect(ctx, features, peers)

	round, err := a.combine(votes, a.ledger.Models())
	if a.metrics != nil {
		a.metrics.RoundLatencyObserve(time.Since(start))
		if err != nil {
			a.metrics.RoundFailuresInc()
		} else {
			a.metrics.EligibleContributorsObserve(countIncluded(round.Contributors))
		}
	}
	if err != nil {
		log.Warn().
			Err(err).
			Int("votes", len(votes)).
			Msg("consensus round failed")
		return round, err
	}

	log.Debug().
		Int("votes", len(votes)).
		Int("included", countIncluded(round.Contributors)).
		Dur("elapsed", time.Since(start)).
		Msg("consensus round complete")
	return round, nil
}

// collect fans out to every contributor and waits for all of them. Local
// providers come first in construction order, then peers in sorted order.
func (a *Aggregator) collect(ctx context.Context, features []float64, peers []string) []Vote {
	votes := make([]Vote, len(a.providers)+len(peers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p ml.Provider) {
			defer wg.Done()
			votes[i] = a.queryLocal(ctx, p, features)
		}(i, p)
	}
	for j, addr := range peers {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			votes[i] = a.queryPeer(ctx, addr, features)
		}(len(a.providers)+j, addr)
	}
	wg.Wait()
	return votes
}

func (a *Aggregator) queryLocal(ctx context.Context, p ml.Provider, features []float64) Vote {
	id := p.ID()
	callCtx, cancel := context.WithTimeout(ctx, a.opts.ProviderTimeout)
	defer cancel()

	start := time.Now()
	prediction, err := predictWithin(callCtx, p, features)
	v := Vote{ModelID: id, Source: SourceLocal, Latency: time.Since(start)}
	if a.metrics != nil {
		a.metrics.ProviderLatencyObserve(v.Latency)
	}

	switch {
	case err != nil:
		v.Err = err
		v.Status = classify(callCtx, err)
	case !wellFormed(prediction):
		v.Status = StatusMalformed
	default:
		v.Status = StatusOK
		v.Prediction = prediction
	}

	if v.Status != StatusOK {
		if a.metrics != nil {
			a.metrics.ProviderFailuresInc()
		}
		log.Warn().
			Err(v.Err).
			Str("model_id", id).
			Str("status", string(v.Status)).
			Msg("local provider excluded from round")
	}
	return v
}

func (a *Aggregator) queryPeer(ctx context.Context, addr string, features []float64) Vote {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.PeerTimeout)
	defer cancel()

	start := time.Now()
	resp, err := a.transport.Query(callCtx, addr, features)
	v := Vote{Source: SourcePeer, Address: addr, Latency: time.Since(start)}
	if a.metrics != nil {
		a.metrics.PeerLatencyObserve(v.Latency)
	}

	switch {
	case err != nil:
		v.Err = err
		v.Status = classify(callCtx, err)
	case resp.ModelID == "" || !wellFormed(resp.Prediction):
		v.Status = StatusMalformed
	default:
		v.Status = StatusOK
		v.ModelID = resp.ModelID
		v.Prediction = resp.Prediction
	}

	if v.Status != StatusOK {
		if a.metrics != nil {
			if v.Status == StatusTimeout {
				a.metrics.PeerTimeoutsInc()
			} else {
				a.metrics.PeerFailuresInc()
			}
		}
		log.Warn().
			Err(v.Err).
			Str("peer", addr).
			Str("status", string(v.Status)).
			Msg("peer excluded from round")
	}
	return v
}

type predictResult struct {
	prediction []float64
	err        error
}

// predictWithin returns as soon as ctx is done, whether or not the provider
// honours it. A provider still running at that point finishes in the
// background and its answer is discarded.
func predictWithin(ctx context.Context, p ml.Provider, features []float64) ([]float64, error) {
	done := make(chan predictResult, 1)
	go func() {
		prediction, err := p.Predict(ctx, features)
		done <- predictResult{prediction: prediction, err: err}
	}()

	select {
	case r := <-done:
		return r.prediction, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func classify(callCtx context.Context, err error) VoteStatus {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, peer.ErrMalformedResponse):
		return StatusMalformed
	default:
		return StatusError
	}
}

func wellFormed(prediction []float64) bool {
	if len(prediction) == 0 {
		return false
	}
	for _, v := range prediction {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// combine filters votes against the ledger models and computes the weighted
// average of the eligible ones.
func (a *Aggregator) combine(votes []Vote, models map[string]ledger.ModelRecord) (Round, error) {
	round := Round{Votes: votes}
	seen := make(map[string]bool, len(votes))

	var (
		sum         []float64
		totalWeight float64
		first       string
	)
	for _, v := range votes {
		if v.Status != StatusOK {
			continue
		}
		c := Contributor{ModelID: v.ModelID, Source: v.Source}
		rec, known := models[v.ModelID]
		switch {
		case seen[v.ModelID]:
			c.Reason = ReasonDuplicate
		case !known:
			c.Reason = ReasonUnregistered
		case !rec.Eligible(a.opts.MinStakeRequired):
			c.Weight, c.Stake = rec.Weight, rec.Stake
			c.Reason = ReasonInsufficientStake
		default:
			c.Weight, c.Stake = rec.Weight, rec.Stake
			c.Included = true
		}
		seen[v.ModelID] = true
		round.Contributors = append(round.Contributors, c)
		if !c.Included {
			continue
		}

		if sum == nil {
			sum = make([]float64, len(v.Prediction))
			first = v.ModelID
		} else if len(v.Prediction) != len(sum) {
			log.Warn().
				Str("model_id", v.ModelID).
				Str("reference_model_id", first).
				Int("want", len(sum)).
				Int("got", len(v.Prediction)).
				Msg("prediction shape mismatch")
			return round, &ShapeMismatchError{ModelID: v.ModelID, Want: len(sum), Got: len(v.Prediction)}
		}
		for i, p := range v.Prediction {
			sum[i] += rec.Weight * p
		}
		totalWeight += rec.Weight
	}

	if sum == nil || totalWeight <= 0 {
		return round, ErrNoEligibleModels
	}
	for i := range sum {
		sum[i] /= totalWeight
	}
	round.Prediction = sum
	return round, nil
}

func countIncluded(cs []Contributor) int {
	n := 0
	for _, c := range cs {
		if c.Included {
			n++
		}
	}
	return n
}
