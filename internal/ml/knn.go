package ml

import (
	"context"
	"sort"
	"sync"
)

const defaultNeighbours = 5

// KNN classifies by the label share among the k nearest training samples.
type KNN struct {
	id string
	k  int

	mu      sync.RWMutex
	X       [][]float64
	y       []int
	classes int
}

// NewKNN creates an untrained k nearest neighbours model. k <= 0 selects 5.
func NewKNN(id string, k int) *KNN {
	if k <= 0 {
		k = defaultNeighbours
	}
	return &KNN{id: id, k: k}
}

func (m *KNN) ID() string { return m.id }

func (m *KNN) Train(X [][]float64, y []int) error {
	_, classes, err := validateTrainingSet(X, y)
	if err != nil {
		return err
	}

	xs := make([][]float64, len(X))
	for i, row := range X {
		xs[i] = append([]float64(nil), row...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.X = xs
	m.y = append([]int(nil), y...)
	m.classes = classes
	return nil
}

func (m *KNN) Predict(ctx context.Context, features []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.X == nil {
		return nil, ErrNotTrained
	}
	if err := validateFeatures(features, len(m.X[0])); err != nil {
		return nil, err
	}

	type neighbour struct {
		dist  float64
		label int
	}
	ns := make([]neighbour, len(m.X))
	for i, row := range m.X {
		ns[i] = neighbour{dist: sqDist(features, row), label: m.y[i]}
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].dist < ns[j].dist })

	k := m.k
	if k > len(ns) {
		k = len(ns)
	}
	probs := make([]float64, m.classes)
	for _, n := range ns[:k] {
		probs[n.label] += 1 / float64(k)
	}
	return probs, nil
}
