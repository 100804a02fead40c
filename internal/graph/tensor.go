package graph

import "fmt"

// Tensor is a dense row-major float64 array. Image batches use NHWC layout
// (batch, height, width, channels); vectors use (batch, features).
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Size returns the total element count.
func (t *Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{Shape: append([]int(nil), t.Shape...), Data: make([]float64, len(t.Data))}
	copy(c.Data, t.Data)
	return c
}

// Dims4 interprets the tensor as NHWC and returns its dimensions.
func (t *Tensor) Dims4() (n, h, w, c int, err error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("graph: expected 4-d tensor, got shape %v", t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// at4 indexes an NHWC tensor. No bounds checks beyond the slice's own.
func (t *Tensor) at4(n, y, x, c int) float64 {
	h, w, ch := t.Shape[1], t.Shape[2], t.Shape[3]
	return t.Data[((n*h+y)*w+x)*ch+c]
}

func (t *Tensor) set4(n, y, x, c int, v float64) {
	h, w, ch := t.Shape[1], t.Shape[2], t.Shape[3]
	t.Data[((n*h+y)*w+x)*ch+c] = v
}
