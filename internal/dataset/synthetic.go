package dataset

import (
	"fmt"
	"math/rand"
)

// Synthetic generates n samples of Gaussian blobs: classes clusters with unit
// spread in a features-dimensional space, centred on well separated points.
// The same seed always yields the same dataset.
func Synthetic(n, features, classes int, seed int64) (*Dataset, error) {
	if n <= 0 || features <= 0 || classes <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset shape: n=%d features=%d classes=%d", n, features, classes)
	}

	rng := rand.New(rand.NewSource(seed))
	centers := make([][]float64, classes)
	for k := range centers {
		centers[k] = make([]float64, features)
		for j := range centers[k] {
			centers[k][j] = rng.Float64()*20 - 10
		}
	}

	samples := make([]Sample, n)
	for i := range samples {
		label := i % classes
		x := make([]float64, features)
		for j := range x {
			x[j] = centers[label][j] + rng.NormFloat64()
		}
		samples[i] = Sample{Features: x, Label: label}
	}

	d := New(fmt.Sprintf("synthetic(seed=%d)", seed), samples)
	d.Classes = classes
	return d, nil
}
