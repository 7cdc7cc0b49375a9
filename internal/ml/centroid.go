package ml

import (
	"context"
	"sync"
)

// Centroid is a nearest-centroid classifier. Class probabilities are a softmax
// over the negative squared distances to each class centroid.
type Centroid struct {
	id        string
	mu        sync.RWMutex
	centroids [][]float64
	dim       int
}

// NewCentroid creates an untrained nearest-centroid model.
func NewCentroid(id string) *Centroid {
	return &Centroid{id: id}
}

func (c *Centroid) ID() string { return c.id }

// Train computes the per-class mean of the samples.
func (c *Centroid) Train(X [][]float64, y []int) error {
	dim, classes, err := validateTrainingSet(X, y)
	if err != nil {
		return err
	}

	sums := make([][]float64, classes)
	counts := make([]int, classes)
	for k := range sums {
		sums[k] = make([]float64, dim)
	}
	for i, row := range X {
		counts[y[i]]++
		for j, v := range row {
			sums[y[i]][j] += v
		}
	}
	for k := range sums {
		if counts[k] == 0 {
			continue
		}
		for j := range sums[k] {
			sums[k][j] /= float64(counts[k])
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.centroids = sums
	c.dim = dim
	return nil
}

func (c *Centroid) Predict(ctx context.Context, features []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.centroids == nil {
		return nil, ErrNotTrained
	}
	if err := validateFeatures(features, c.dim); err != nil {
		return nil, err
	}

	neg := make([]float64, len(c.centroids))
	for k, centroid := range c.centroids {
		neg[k] = -sqDist(features, centroid)
	}
	return softmax(neg), nil
}
