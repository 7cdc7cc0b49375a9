package consensus

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"stake-consensus/internal/ledger"
	"stake-consensus/internal/ml"
)

// Outcome is the per-model result of feeding an observed truth back into
// the ledger.
type Outcome struct {
	ModelID  string        `json:"model_id"`
	Accuracy float64       `json:"accuracy"`
	Update   ledger.Update `json:"update"`
	Err      error         `json:"-"`
}

// RecordOutcome re-runs every local provider on features, scores each
// prediction against truth and records the score in the ledger. Each model
// is handled independently: one failure never blocks the others. Results are
// returned in provider order.
//
// A truth of length one is broadcast to every component of the prediction;
// otherwise it must have the prediction's length.
func (a *Aggregator) RecordOutcome(ctx context.Context, features, truth []float64) []Outcome {
	outcomes := make([]Outcome, len(a.providers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p ml.Provider) {
			defer wg.Done()
			outcomes[i] = a.recordOne(ctx, p, features, truth)
		}(i, p)
	}
	wg.Wait()
	return outcomes
}

func (a *Aggregator) recordOne(ctx context.Context, p ml.Provider, features, truth []float64) Outcome {
	out := Outcome{ModelID: p.ID()}

	callCtx, cancel := context.WithTimeout(ctx, a.opts.ProviderTimeout)
	defer cancel()

	prediction, err := predictWithin(callCtx, p, features)
	if err == nil && !wellFormed(prediction) {
		err = fmt.Errorf("provider returned a malformed prediction")
	}
	if err == nil {
		out.Accuracy, err = Accuracy(prediction, truth)
	}
	if err == nil {
		out.Update, err = a.ledger.RecordPerformance(out.ModelID, out.Accuracy, prediction)
	}
	if err != nil {
		out.Err = err
		log.Warn().Err(err).Str("model_id", out.ModelID).Msg("failed to record outcome")
		return out
	}

	if a.metrics != nil {
		a.metrics.OutcomesInc()
	}
	return out
}

// Accuracy scores a prediction against truth as one minus the mean absolute
// error, clipped to [0, 1].
func Accuracy(prediction, truth []float64) (float64, error) {
	if len(prediction) == 0 {
		return 0, fmt.Errorf("%w: empty prediction", ErrInvalidTruth)
	}
	switch len(truth) {
	case 0:
		return 0, fmt.Errorf("%w: empty", ErrInvalidTruth)
	case 1:
	case len(prediction):
	default:
		return 0, fmt.Errorf("%w: %d values for a %d-class prediction", ErrInvalidTruth, len(truth), len(prediction))
	}
	for _, t := range truth {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("%w: not finite", ErrInvalidTruth)
		}
	}

	total := 0.0
	for i, p := range prediction {
		t := truth[0]
		if len(truth) > 1 {
			t = truth[i]
		}
		total += math.Abs(p - t)
	}
	acc := 1 - total/float64(len(prediction))
	return math.Max(0, math.Min(1, acc)), nil
}

// OneHot expands a class index into a truth vector of the given width.
func OneHot(label, classes int) ([]float64, error) {
	if label < 0 || label >= classes {
		return nil, fmt.Errorf("%w: label %d outside %d classes", ErrInvalidTruth, label, classes)
	}
	v := make([]float64, classes)
	v[label] = 1
	return v, nil
}
