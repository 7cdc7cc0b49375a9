// Package evaluate replays a labelled dataset through a consensus node and
// measures how the consensus and each model's stake evolve.
package evaluate

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"stake-consensus/internal/consensus"
	"stake-consensus/internal/dataset"
	"stake-consensus/internal/ledger"
)

// Point is a model's ledger state after one replayed sample.
type Point struct {
	Step   int     `json:"step"`
	Stake  float64 `json:"stake"`
	Weight float64 `json:"weight"`
}

// ModelStats summarises one model over the replay.
type ModelStats struct {
	ModelID      string  `json:"model_id"`
	Predictions  int     `json:"predictions"`
	Correct      int     `json:"correct"`
	HitRate      float64 `json:"hit_rate"`
	MeanAccuracy float64 `json:"mean_accuracy"`
	Slashes      int     `json:"slashes"`
	SlashedStake float64 `json:"slashed_stake"`
	FinalStake   float64 `json:"final_stake"`
	FinalWeight  float64 `json:"final_weight"`
	Trajectory   []Point `json:"trajectory"`

	accuracySum float64
	outcomes    int
}

// Results holds the replay results.
type Results struct {
	Source            string                 `json:"source"`
	Samples           int                    `json:"samples"`
	Rounds            int                    `json:"rounds"`
	FailedRounds      int                    `json:"failed_rounds"`
	Correct           int                    `json:"correct"`
	ConsensusAccuracy float64                `json:"consensus_accuracy"`
	Models            map[string]*ModelStats `json:"models"`
	StartTime         time.Time              `json:"start_time"`
	EndTime           time.Time              `json:"end_time"`
}

// SortedModels returns the per-model stats ordered by model id.
func (r *Results) SortedModels() []*ModelStats {
	out := make([]*ModelStats, 0, len(r.Models))
	for _, m := range r.Models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Options control a replay.
type Options struct {
	IncludePeers bool
	// RecordOutcomes feeds each sample's label back into the ledger.
	RecordOutcomes bool
}

// Engine replays samples through an aggregator.
type Engine struct {
	agg     *consensus.Aggregator
	ledger  *ledger.Ledger
	data    *dataset.Dataset
	opts    Options
	results *Results
}

// NewEngine creates a replay engine over data.
func NewEngine(agg *consensus.Aggregator, l *ledger.Ledger, data *dataset.Dataset, opts Options) *Engine {
	return &Engine{
		agg:    agg,
		ledger: l,
		data:   data,
		opts:   opts,
		results: &Results{
			Source: data.Source,
			Models: make(map[string]*ModelStats),
		},
	}
}

// Run replays every remaining sample. It stops early only when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Str("source", e.data.Source).
		Int("samples", e.data.Len()).
		Bool("include_peers", e.opts.IncludePeers).
		Bool("record_outcomes", e.opts.RecordOutcomes).
		Msg("Starting evaluation")

	e.results.StartTime = time.Now()
	for _, id := range e.agg.LocalModelIDs() {
		e.model(id)
	}

	step := 0
	for e.data.HasNext() {
		if err := ctx.Err(); err != nil {
			e.finish()
			return err
		}
		sample := e.data.Next()
		step++
		e.results.Samples++
		e.replay(ctx, step, sample)

		if step%50 == 0 {
			log.Debug().Float64("progress", e.data.Progress()).Msg("evaluation progress")
		}
	}

	e.finish()
	log.Info().
		Int("samples", e.results.Samples).
		Float64("consensus_accuracy", e.results.ConsensusAccuracy).
		Msg("Evaluation complete")
	return nil
}

func (e *Engine) replay(ctx context.Context, step int, sample dataset.Sample) {
	round, err := e.agg.PredictDetailed(ctx, sample.Features, e.opts.IncludePeers)
	e.results.Rounds++
	switch {
	case errors.Is(err, consensus.ErrNoEligibleModels), errors.Is(err, consensus.ErrShapeMismatch):
		e.results.FailedRounds++
	case err != nil:
		e.results.FailedRounds++
		log.Warn().Err(err).Int("step", step).Msg("consensus round failed")
	default:
		if argmax(round.Prediction) == sample.Label {
			e.results.Correct++
		}
	}

	for _, v := range round.Votes {
		if v.Status != consensus.StatusOK || v.Source != consensus.SourceLocal {
			continue
		}
		m := e.model(v.ModelID)
		m.Predictions++
		if argmax(v.Prediction) == sample.Label {
			m.Correct++
		}
	}

	if e.opts.RecordOutcomes {
		classes := len(round.Prediction)
		if classes == 0 {
			classes = e.data.Classes
		}
		truth := []float64{float64(sample.Label)}
		if oneHot, err := consensus.OneHot(sample.Label, classes); err == nil && classes > 1 {
			truth = oneHot
		}

		for _, o := range e.agg.RecordOutcome(ctx, sample.Features, truth) {
			if o.Err != nil {
				continue
			}
			m := e.model(o.ModelID)
			m.accuracySum += o.Accuracy
			m.outcomes++
			if o.Update.Slashed {
				m.Slashes++
				m.SlashedStake += o.Update.Amount
			}
		}
	}

	for id, m := range e.results.Models {
		if rec, ok := e.ledger.Model(id); ok {
			m.Trajectory = append(m.Trajectory, Point{Step: step, Stake: rec.Stake, Weight: rec.Weight})
		}
	}
}

func (e *Engine) model(id string) *ModelStats {
	m, ok := e.results.Models[id]
	if !ok {
		m = &ModelStats{ModelID: id}
		e.results.Models[id] = m
	}
	return m
}

func (e *Engine) finish() {
	r := e.results
	r.EndTime = time.Now()
	if r.Samples > 0 {
		r.ConsensusAccuracy = float64(r.Correct) / float64(r.Samples)
	}
	for id, m := range r.Models {
		if m.Predictions > 0 {
			m.HitRate = float64(m.Correct) / float64(m.Predictions)
		}
		if m.outcomes > 0 {
			m.MeanAccuracy = m.accuracySum / float64(m.outcomes)
		}
		if rec, ok := e.ledger.Model(id); ok {
			m.FinalStake = rec.Stake
			m.FinalWeight = rec.Weight
		}
	}
}

// GetResults returns the results of the last Run.
func (e *Engine) GetResults() *Results {
	return e.results
}

func argmax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
