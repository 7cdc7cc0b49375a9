package ml

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// twoBlobs returns two well separated classes around (0,0) and (5,5).
func twoBlobs() ([][]float64, []int) {
	X := [][]float64{
		{0, 0}, {0.5, 0}, {0, 0.5}, {-0.5, 0}, {0, -0.5},
		{5, 5}, {5.5, 5}, {5, 5.5}, {4.5, 5}, {5, 4.5},
	}
	y := []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}
	return X, y
}

func trainableModels() map[string]interface {
	Provider
	Trainable
} {
	return map[string]interface {
		Provider
		Trainable
	}{
		"centroid": NewCentroid("centroid"),
		"logistic": NewLogistic("logistic", 0, 0),
		"knn":      NewKNN("knn", 3),
		"prior":    NewPrior("prior"),
	}
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}

func TestModels_NotTrained(t *testing.T) {
	for name, m := range trainableModels() {
		t.Run(name, func(t *testing.T) {
			_, err := m.Predict(context.Background(), []float64{1, 2})
			if !errors.Is(err, ErrNotTrained) {
				t.Fatalf("expected ErrNotTrained, got %v", err)
			}
		})
	}
}

func TestModels_ProbabilityVectors(t *testing.T) {
	X, y := twoBlobs()
	for name, m := range trainableModels() {
		t.Run(name, func(t *testing.T) {
			if err := m.Train(X, y); err != nil {
				t.Fatalf("train failed: %v", err)
			}
			p, err := m.Predict(context.Background(), []float64{0.1, 0.2})
			if err != nil {
				t.Fatalf("predict failed: %v", err)
			}
			if len(p) != 2 {
				t.Fatalf("expected 2 classes, got %d", len(p))
			}
			if math.Abs(sum(p)-1) > 1e-9 {
				t.Errorf("probabilities sum to %f", sum(p))
			}
			for i, v := range p {
				if v < 0 || v > 1 {
					t.Errorf("probability %d out of range: %f", i, v)
				}
			}
		})
	}
}

func TestModels_SeparateBlobs(t *testing.T) {
	X, y := twoBlobs()
	for name, m := range trainableModels() {
		if name == "prior" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			if err := m.Train(X, y); err != nil {
				t.Fatalf("train failed: %v", err)
			}
			near0, _ := m.Predict(context.Background(), []float64{0.2, -0.1})
			near1, _ := m.Predict(context.Background(), []float64{5.1, 4.9})
			if near0[0] <= near0[1] {
				t.Errorf("expected class 0 near origin, got %v", near0)
			}
			if near1[1] <= near1[0] {
				t.Errorf("expected class 1 near (5,5), got %v", near1)
			}
		})
	}
}

func TestPrior_ClassFrequencies(t *testing.T) {
	p := NewPrior("prior")
	if err := p.Train([][]float64{{1}, {2}, {3}, {4}}, []int{0, 1, 1, 1}); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	got, err := p.Predict(context.Background(), []float64{100})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if got[0] != 0.25 || got[1] != 0.75 {
		t.Errorf("expected [0.25 0.75], got %v", got)
	}

	// The returned slice must not alias model state.
	got[0] = 9
	again, _ := p.Predict(context.Background(), []float64{100})
	if again[0] != 0.25 {
		t.Errorf("prediction aliases model state: %v", again)
	}
}

func TestModels_InvalidFeatures(t *testing.T) {
	X, y := twoBlobs()
	m := NewCentroid("c")
	if err := m.Train(X, y); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	testCases := []struct {
		name     string
		features []float64
	}{
		{"empty", []float64{}},
		{"wrong dimension", []float64{1, 2, 3}},
		{"nan", []float64{math.NaN(), 1}},
		{"inf", []float64{math.Inf(1), 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Predict(context.Background(), tc.features)
			if !errors.Is(err, ErrInvalidFeatures) {
				t.Errorf("expected ErrInvalidFeatures, got %v", err)
			}
		})
	}
}

func TestModels_InvalidTrainingSet(t *testing.T) {
	testCases := []struct {
		name string
		X    [][]float64
		y    []int
	}{
		{"no samples", nil, nil},
		{"length mismatch", [][]float64{{1}, {2}}, []int{0}},
		{"ragged rows", [][]float64{{1, 2}, {3}}, []int{0, 1}},
		{"negative label", [][]float64{{1}, {2}}, []int{0, -1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for name, m := range trainableModels() {
				if err := m.Train(tc.X, tc.y); !errors.Is(err, ErrInvalidDataset) {
					t.Errorf("%s: expected ErrInvalidDataset, got %v", name, err)
				}
			}
		})
	}
}

func TestModels_CancelledContext(t *testing.T) {
	X, y := twoBlobs()
	m := NewKNN("knn", 0)
	if err := m.Train(X, y); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Predict(ctx, []float64{0, 0}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestKNN_KLargerThanSamples(t *testing.T) {
	m := NewKNN("knn", 50)
	if err := m.Train([][]float64{{0}, {1}}, []int{0, 1}); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	p, err := m.Predict(context.Background(), []float64{0})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if p[0] != 0.5 || p[1] != 0.5 {
		t.Errorf("expected even split, got %v", p)
	}
}

func TestNewModelID(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	if got := NewModelID("Centroid", now); got != "Centroid_20240309_140507" {
		t.Errorf("unexpected model id %q", got)
	}
}

func TestSoftmax_Stable(t *testing.T) {
	p := softmax([]float64{1000, 1000})
	if p[0] != 0.5 || p[1] != 0.5 {
		t.Errorf("expected [0.5 0.5], got %v", p)
	}
}
