package xray

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"lungai/internal/graph"
)

// Classify runs one forward pass and returns the arg-max label, the
// probability mass assigned to it, and the full ordered distribution over
// classes. It does not mutate the model handle and is deterministic for a
// fixed model and tensor.
func Classify(t *graph.Tensor, m *graph.Model, classes []string) (string, float64, []float64, error) {
	out, err := m.Forward(t)
	if err != nil {
		return "", 0, nil, fmt.Errorf("xray: forward pass: %w", err)
	}
	if out.Size() != len(classes) {
		return "", 0, nil, fmt.Errorf("xray: model outputs %d classes, configured %d", out.Size(), len(classes))
	}
	vector := append([]float64(nil), out.Data...)
	idx := floats.MaxIdx(vector)
	return classes[idx], vector[idx], vector, nil
}
