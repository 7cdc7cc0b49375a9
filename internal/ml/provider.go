// Package ml provides the prediction providers a consensus node aggregates.
// Every model family is exposed through the Provider capability: given a
// feature vector it returns a probability-like vector or fails. Families that
// can be fitted in-process also implement Trainable.
//
// The package includes in-process classifiers (nearest centroid, logistic
// regression, k nearest neighbours, class prior), an adapter for external
// inference scripts, and the HTTP model server peers query.
package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotTrained      = errors.New("model not trained yet")
	ErrInvalidFeatures = errors.New("invalid features")
	ErrInvalidDataset  = errors.New("invalid training set")
)

// Provider defines the prediction capability consumed by the aggregator.
type Provider interface {
	// ID returns the model identity the ledger knows this provider by.
	ID() string

	// Predict returns a probability vector for the features, or an error.
	Predict(ctx context.Context, features []float64) ([]float64, error)
}

// Trainable is implemented by providers that can be fitted in-process.
// Labels are class indices starting at zero.
type Trainable interface {
	Train(X [][]float64, y []int) error
}

// NewModelID builds the default model identity: the model name followed by
// the creation time.
func NewModelID(name string, now time.Time) string {
	return fmt.Sprintf("%s_%s", name, now.Format("20060102_150405"))
}

func validateFeatures(features []float64, dim int) error {
	if len(features) == 0 {
		return fmt.Errorf("%w: empty feature vector", ErrInvalidFeatures)
	}
	if dim > 0 && len(features) != dim {
		return fmt.Errorf("%w: expected %d features, got %d", ErrInvalidFeatures, dim, len(features))
	}
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: feature %d is not finite", ErrInvalidFeatures, i)
		}
	}
	return nil
}

// validateTrainingSet checks X and y and returns the feature dimension and
// the number of classes.
func validateTrainingSet(X [][]float64, y []int) (int, int, error) {
	if len(X) == 0 {
		return 0, 0, fmt.Errorf("%w: no samples", ErrInvalidDataset)
	}
	if len(X) != len(y) {
		return 0, 0, fmt.Errorf("%w: %d samples but %d labels", ErrInvalidDataset, len(X), len(y))
	}
	dim := len(X[0])
	classes := 0
	for i, row := range X {
		if err := validateFeatures(row, dim); err != nil {
			return 0, 0, fmt.Errorf("%w: sample %d: %v", ErrInvalidDataset, i, err)
		}
		if y[i] < 0 {
			return 0, 0, fmt.Errorf("%w: negative label at sample %d", ErrInvalidDataset, i)
		}
		if y[i]+1 > classes {
			classes = y[i] + 1
		}
	}
	return dim, classes, nil
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func sqDist(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}
