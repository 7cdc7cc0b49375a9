// Package dataset loads labelled feature vectors for training and replay.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrEmptyDataset = errors.New("dataset is empty")

// Sample is one labelled feature vector.
type Sample struct {
	Features []float64 `json:"features"`
	Label    int       `json:"label"`
}

// Dataset holds labelled samples and serves them in order, like a cursor.
type Dataset struct {
	Source     string
	Classes    int
	LabelNames []string

	samples []Sample
	index   int
}

// New builds a dataset from samples. The class count is derived from the
// largest label.
func New(source string, samples []Sample) *Dataset {
	d := &Dataset{Source: source, samples: samples}
	for _, s := range samples {
		if s.Label+1 > d.Classes {
			d.Classes = s.Label + 1
		}
	}
	return d
}

// XY returns the samples as a feature matrix and a label vector.
func (d *Dataset) XY() ([][]float64, []int) {
	X := make([][]float64, len(d.samples))
	y := make([]int, len(d.samples))
	for i, s := range d.samples {
		X[i] = s.Features
		y[i] = s.Label
	}
	return X, y
}

// Samples returns the underlying samples.
func (d *Dataset) Samples() []Sample {
	return d.samples
}

// Split shuffles a copy of the samples with seed and returns the train and
// test partitions. testFraction is clamped to [0, 1).
func (d *Dataset) Split(testFraction float64, seed int64) (*Dataset, *Dataset, error) {
	if len(d.samples) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	if testFraction < 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction %.2f outside [0, 1)", testFraction)
	}

	shuffled := make([]Sample, len(d.samples))
	copy(shuffled, d.samples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nTest := int(float64(len(shuffled)) * testFraction)
	train := New(d.Source, shuffled[nTest:])
	test := New(d.Source, shuffled[:nTest])
	train.Classes, test.Classes = d.Classes, d.Classes
	train.LabelNames, test.LabelNames = d.LabelNames, d.LabelNames
	return train, test, nil
}

// Reset rewinds the cursor to the first sample.
func (d *Dataset) Reset() {
	d.index = 0
}

// HasNext returns true if there's more data to process
func (d *Dataset) HasNext() bool {
	return d.index < len(d.samples)
}

// Next returns the next sample, or a zero Sample past the end.
func (d *Dataset) Next() Sample {
	if d.index >= len(d.samples) {
		return Sample{}
	}
	s := d.samples[d.index]
	d.index++
	return s
}

func (d *Dataset) Len() int {
	return len(d.samples)
}

// Progress returns the current progress as a percentage
func (d *Dataset) Progress() float64 {
	if len(d.samples) == 0 {
		return 100.0
	}
	return float64(d.index) / float64(len(d.samples)) * 100.0
}
