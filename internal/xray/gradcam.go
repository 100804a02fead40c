package xray

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"lungai/internal/graph"
)

// Explainability failures are never fatal: each one folds into the
// "no artifact" outcome at the ExplainImage boundary.
var (
	// ErrNoConvLayer: the graph holds no convolutional layer to attribute to.
	ErrNoConvLayer = errors.New("xray: model has no convolutional layer")
	// ErrFlatSaliency: the class gradient produced no positive activation
	// weight anywhere, so there is nothing to visualize.
	ErrFlatSaliency = errors.New("xray: saliency map is all zero")
)

// saliencyMap computes the Grad-CAM map for the predicted class of t: the
// gradient of the arg-max probability with respect to the last convolutional
// activations, average-pooled into per-channel weights and combined with the
// feature maps. The result is H×W in [0,1], at the conv layer's spatial
// resolution.
func saliencyMap(m *graph.Model, t *graph.Tensor) ([][]float64, error) {
	convIdx, ok := m.LastConv()
	if !ok {
		return nil, ErrNoConvLayer
	}

	tape, err := m.Record(t)
	if err != nil {
		return nil, fmt.Errorf("xray: recorded forward pass: %w", err)
	}

	// Differentiate the score of the predicted class only.
	out := tape.Output()
	seed := graph.NewTensor(out.Shape...)
	seed.Data[floats.MaxIdx(out.Data)] = 1

	grads, err := tape.GradientAt(convIdx, seed)
	if err != nil {
		return nil, err
	}
	acts, err := tape.OutputOf(convIdx)
	if err != nil {
		return nil, err
	}

	_, h, w, c, err := acts.Dims4()
	if err != nil {
		return nil, fmt.Errorf("xray: conv activations: %w", err)
	}
	if grads.Size() != acts.Size() {
		return nil, fmt.Errorf("xray: gradient size %d, activation size %d", grads.Size(), acts.Size())
	}

	// Global average pooling of the gradient: one weight per channel.
	weights := make([]float64, c)
	for i, g := range grads.Data {
		weights[i%c] += g
	}
	floats.Scale(1/float64(h*w), weights)

	// Weighted sum of the feature maps, positive influence only.
	cam := make([][]float64, h)
	maxv := 0.0
	for y := 0; y < h; y++ {
		cam[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			sum := 0.0
			base := (y*w + x) * c
			for ch := 0; ch < c; ch++ {
				sum += acts.Data[base+ch] * weights[ch]
			}
			if sum < 0 {
				sum = 0
			}
			cam[y][x] = sum
			if sum > maxv {
				maxv = sum
			}
		}
	}
	if maxv < 1e-8 {
		return nil, ErrFlatSaliency
	}
	for y := range cam {
		floats.Scale(1/maxv, cam[y])
	}
	return cam, nil
}
