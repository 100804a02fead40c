package graph

import (
	"errors"
	"fmt"
)

// ErrNotDifferentiable reports that the gradient walk hit a layer it cannot
// propagate through, leaving the requested activations disconnected from the
// output.
var ErrNotDifferentiable = errors.New("graph: layer does not support gradient propagation")

// Model is a fixed inference graph plus its trained weights. After loading it
// is read-only; all methods are safe for concurrent use.
type Model struct {
	Version   int
	InputSize int
	Layers    []Layer
}

// flatten walks the layer tree depth-first, descending into nested sub-graphs,
// and returns the execution order as a flat list.
func (m *Model) flatten() []Layer {
	var out []Layer
	var walk func(ls []Layer)
	walk = func(ls []Layer) {
		for _, l := range ls {
			if g, ok := l.(Graph); ok {
				walk(g.Sublayers())
				continue
			}
			out = append(out, l)
		}
	}
	walk(m.Layers)
	return out
}

// Forward runs one forward pass and returns the final output tensor.
func (m *Model) Forward(x *Tensor) (*Tensor, error) {
	out := x
	for _, l := range m.flatten() {
		var err error
		if out, err = l.Forward(out); err != nil {
			return nil, fmt.Errorf("graph: forward through %s: %w", l.Name(), err)
		}
	}
	return out, nil
}

// LastConv returns the flattened index of the last feature-producing layer,
// searching from the output toward the input. The walk descends into nested
// sub-graphs, so a feature extractor wrapped in a Sequential is found too.
func (m *Model) LastConv() (int, bool) {
	flat := m.flatten()
	for i := len(flat) - 1; i >= 0; i-- {
		if _, ok := flat[i].(FeatureSource); ok {
			return i, true
		}
	}
	return 0, false
}

// Tape is the record of one forward pass: per-layer inputs and outputs kept
// for differentiation. It references the model's layers but owns its tensors,
// so concurrent tapes over one model are safe.
type Tape struct {
	layers  []Layer
	inputs  []*Tensor
	outputs []*Tensor
}

// Record runs a forward pass retaining every intermediate activation.
func (m *Model) Record(x *Tensor) (*Tape, error) {
	flat := m.flatten()
	if len(flat) == 0 {
		return nil, fmt.Errorf("graph: empty model")
	}
	tp := &Tape{
		layers:  flat,
		inputs:  make([]*Tensor, len(flat)),
		outputs: make([]*Tensor, len(flat)),
	}
	out := x
	for i, l := range flat {
		tp.inputs[i] = out
		var err error
		if out, err = l.Forward(out); err != nil {
			return nil, fmt.Errorf("graph: forward through %s: %w", l.Name(), err)
		}
		tp.outputs[i] = out
	}
	return tp, nil
}

// Output returns the final activation of the recorded pass.
func (tp *Tape) Output() *Tensor { return tp.outputs[len(tp.outputs)-1] }

// OutputOf returns the recorded output of the layer at flattened index i.
func (tp *Tape) OutputOf(i int) (*Tensor, error) {
	if i < 0 || i >= len(tp.outputs) {
		return nil, fmt.Errorf("graph: layer index %d out of range", i)
	}
	return tp.outputs[i], nil
}

// GradientAt back-propagates seed (a gradient with respect to the model
// output) down to the output of layer i and returns it. Every layer between
// the output and layer i must be Differentiable.
func (tp *Tape) GradientAt(i int, seed *Tensor) (*Tensor, error) {
	if i < 0 || i >= len(tp.layers) {
		return nil, fmt.Errorf("graph: layer index %d out of range", i)
	}
	if seed.Size() != tp.Output().Size() {
		return nil, fmt.Errorf("graph: seed size %d, output size %d", seed.Size(), tp.Output().Size())
	}
	dy := seed
	for j := len(tp.layers) - 1; j > i; j-- {
		d, ok := tp.layers[j].(Differentiable)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotDifferentiable, tp.layers[j].Name())
		}
		var err error
		if dy, err = d.Backward(tp.inputs[j], tp.outputs[j], dy); err != nil {
			return nil, fmt.Errorf("graph: backward through %s: %w", tp.layers[j].Name(), err)
		}
	}
	return dy, nil
}
