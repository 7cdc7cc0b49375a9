package ml

import (
	"context"
	"math"
	"sync"
)

const (
	defaultLogisticEpochs = 300
	defaultLogisticRate   = 0.1
)

// Logistic is a multinomial logistic regression fitted with batch gradient
// descent on standardized features.
type Logistic struct {
	id     string
	epochs int
	rate   float64

	mu      sync.RWMutex
	weights [][]float64 // [class][feature]
	bias    []float64
	mean    []float64
	scale   []float64
}

// NewLogistic creates an untrained logistic regression. Zero epochs or rate
// select the defaults.
func NewLogistic(id string, epochs int, rate float64) *Logistic {
	if epochs <= 0 {
		epochs = defaultLogisticEpochs
	}
	if rate <= 0 {
		rate = defaultLogisticRate
	}
	return &Logistic{id: id, epochs: epochs, rate: rate}
}

func (m *Logistic) ID() string { return m.id }

func (m *Logistic) Train(X [][]float64, y []int) error {
	dim, classes, err := validateTrainingSet(X, y)
	if err != nil {
		return err
	}

	mean, scale := standardization(X, dim)
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = standardize(row, mean, scale)
	}

	w := make([][]float64, classes)
	for k := range w {
		w[k] = make([]float64, dim)
	}
	b := make([]float64, classes)
	n := float64(len(Z))

	gradW := make([][]float64, classes)
	for k := range gradW {
		gradW[k] = make([]float64, dim)
	}
	gradB := make([]float64, classes)

	for epoch := 0; epoch < m.epochs; epoch++ {
		for k := range gradW {
			for j := range gradW[k] {
				gradW[k][j] = 0
			}
			gradB[k] = 0
		}
		for i, row := range Z {
			p := softmax(logits(w, b, row))
			for k := range p {
				diff := p[k]
				if k == y[i] {
					diff -= 1
				}
				for j, v := range row {
					gradW[k][j] += diff * v
				}
				gradB[k] += diff
			}
		}
		for k := range w {
			for j := range w[k] {
				w[k][j] -= m.rate * gradW[k][j] / n
			}
			b[k] -= m.rate * gradB[k] / n
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights, m.bias, m.mean, m.scale = w, b, mean, scale
	return nil
}

func (m *Logistic) Predict(ctx context.Context, features []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.weights == nil {
		return nil, ErrNotTrained
	}
	if err := validateFeatures(features, len(m.mean)); err != nil {
		return nil, err
	}
	return softmax(logits(m.weights, m.bias, standardize(features, m.mean, m.scale))), nil
}

func logits(w [][]float64, b []float64, x []float64) []float64 {
	z := make([]float64, len(w))
	for k := range w {
		z[k] = b[k]
		for j, v := range x {
			z[k] += w[k][j] * v
		}
	}
	return z
}

func standardization(X [][]float64, dim int) ([]float64, []float64) {
	mean := make([]float64, dim)
	scale := make([]float64, dim)
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			mean[j] += v / n
		}
	}
	for _, row := range X {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d / n
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j])
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return mean, scale
}

func standardize(x, mean, scale []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - mean[j]) / scale[j]
	}
	return out
}
