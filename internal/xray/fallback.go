package xray

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// DemoPrediction synthesizes a structurally valid classification when no
// model artifact exists: a uniformly chosen label carrying dominant mass in a
// confidence band of [0.60, 0.98), residual mass spread over the other
// classes, renormalized to sum to 1. The generator is injected so tests can
// pin a seed and assert exact outputs.
func DemoPrediction(rng *rand.Rand, classes []string) (label string, confidence float64, vector []float64) {
	idx := rng.Intn(len(classes))
	vector = make([]float64, len(classes))
	for i := range vector {
		if i == idx {
			vector[i] = 0.60 + rng.Float64()*0.38
			continue
		}
		vector[i] = 0.01 + rng.Float64()*0.09
	}
	floats.Scale(1/floats.Sum(vector), vector)
	return classes[idx], vector[idx], vector
}
