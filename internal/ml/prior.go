package ml

import (
	"context"
	"sync"
)

// Prior predicts the training class frequencies regardless of the input.
// It is the baseline every other family should beat.
type Prior struct {
	id    string
	mu    sync.RWMutex
	probs []float64
	dim   int
}

// NewPrior creates an untrained class-prior model.
func NewPrior(id string) *Prior {
	return &Prior{id: id}
}

func (p *Prior) ID() string { return p.id }

func (p *Prior) Train(X [][]float64, y []int) error {
	dim, classes, err := validateTrainingSet(X, y)
	if err != nil {
		return err
	}
	probs := make([]float64, classes)
	for _, label := range y {
		probs[label] += 1 / float64(len(y))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.probs = probs
	p.dim = dim
	return nil
}

func (p *Prior) Predict(ctx context.Context, features []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.probs == nil {
		return nil, ErrNotTrained
	}
	if err := validateFeatures(features, p.dim); err != nil {
		return nil, err
	}
	return append([]float64(nil), p.probs...), nil
}
