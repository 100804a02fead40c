package graph

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer is one node of the computation graph. Forward must not mutate the
// layer, so a loaded model is safe for concurrent use.
type Layer interface {
	Name() string
	Forward(x *Tensor) (*Tensor, error)
}

// Differentiable layers can propagate a gradient from their output back to
// their input. x and y are the recorded forward input/output.
type Differentiable interface {
	Layer
	Backward(x, y, dy *Tensor) (*Tensor, error)
}

// FeatureSource marks layers whose output is a stack of spatial feature maps.
// The saliency walk searches for the last of these.
type FeatureSource interface {
	Layer
	FeatureChannels() int
}

// Graph is a layer that contains an ordered sub-graph of layers.
type Graph interface {
	Layer
	Sublayers() []Layer
}

// Activation names accepted by Dense.
const (
	ActNone    = ""
	ActReLU    = "relu"
	ActSoftmax = "softmax"
)

// ── Conv2D ──────────────────────────────────────────────────────────────────

// Conv2D is a 2-d convolution over NHWC input. W is laid out
// [KH][KW][InC][OutC]; SamePad pads so the output keeps ceil(H/stride) rows.
// Conv2D is deliberately not Differentiable: the gradient walk stops at the
// activations of the last convolution and never crosses one.
type Conv2D struct {
	LayerName        string
	InC, OutC        int
	KH, KW           int
	StrideH, StrideW int
	SamePad          bool
	W                []float64
	B                []float64
}

func (c *Conv2D) Name() string         { return c.LayerName }
func (c *Conv2D) FeatureChannels() int { return c.OutC }

func (c *Conv2D) Forward(x *Tensor) (*Tensor, error) {
	n, h, w, ch, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.LayerName, err)
	}
	if ch != c.InC {
		return nil, fmt.Errorf("%s: input has %d channels, want %d", c.LayerName, ch, c.InC)
	}
	if len(c.W) != c.KH*c.KW*c.InC*c.OutC || len(c.B) != c.OutC {
		return nil, fmt.Errorf("%s: weight size mismatch", c.LayerName)
	}
	sh, sw := c.StrideH, c.StrideW
	if sh == 0 {
		sh = 1
	}
	if sw == 0 {
		sw = 1
	}
	var oh, ow, padTop, padLeft int
	if c.SamePad {
		oh = (h + sh - 1) / sh
		ow = (w + sw - 1) / sw
		padH := max0((oh-1)*sh + c.KH - h)
		padW := max0((ow-1)*sw + c.KW - w)
		padTop, padLeft = padH/2, padW/2
	} else {
		oh = (h-c.KH)/sh + 1
		ow = (w-c.KW)/sw + 1
	}
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("%s: input %dx%d too small for %dx%d kernel", c.LayerName, h, w, c.KH, c.KW)
	}
	out := NewTensor(n, oh, ow, c.OutC)
	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				for oc := 0; oc < c.OutC; oc++ {
					sum := c.B[oc]
					for ky := 0; ky < c.KH; ky++ {
						iy := oy*sh + ky - padTop
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < c.KW; kx++ {
							ix := ox*sw + kx - padLeft
							if ix < 0 || ix >= w {
								continue
							}
							for ic := 0; ic < c.InC; ic++ {
								wv := c.W[((ky*c.KW+kx)*c.InC+ic)*c.OutC+oc]
								sum += wv * x.at4(b, iy, ix, ic)
							}
						}
					}
					out.set4(b, oy, ox, oc, sum)
				}
			}
		}
	}
	return out, nil
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// ── ReLU ────────────────────────────────────────────────────────────────────

// ReLU and the other parameter-free layers carry an optional name so saved
// artifacts can label every node; gob also needs at least one exported field.
type ReLU struct {
	LayerName string
}

func (l ReLU) Name() string {
	if l.LayerName != "" {
		return l.LayerName
	}
	return "relu"
}

func (ReLU) Forward(x *Tensor) (*Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out, nil
}

func (ReLU) Backward(x, _, dy *Tensor) (*Tensor, error) {
	if len(x.Data) != len(dy.Data) {
		return nil, fmt.Errorf("relu: gradient shape mismatch")
	}
	dx := dy.Clone()
	for i, v := range x.Data {
		if v <= 0 {
			dx.Data[i] = 0
		}
	}
	return dx, nil
}

// ── MaxPool2D ───────────────────────────────────────────────────────────────

// MaxPool2D applies valid max pooling. A zero stride defaults to the pool size.
type MaxPool2D struct {
	PoolH, PoolW     int
	StrideH, StrideW int
}

func (p *MaxPool2D) Name() string { return "maxpool" }

func (p *MaxPool2D) strides() (int, int) {
	sh, sw := p.StrideH, p.StrideW
	if sh == 0 {
		sh = p.PoolH
	}
	if sw == 0 {
		sw = p.PoolW
	}
	return sh, sw
}

func (p *MaxPool2D) Forward(x *Tensor) (*Tensor, error) {
	n, h, w, c, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	sh, sw := p.strides()
	oh := (h-p.PoolH)/sh + 1
	ow := (w-p.PoolW)/sw + 1
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("maxpool: input %dx%d too small for %dx%d window", h, w, p.PoolH, p.PoolW)
	}
	out := NewTensor(n, oh, ow, c)
	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				for ch := 0; ch < c; ch++ {
					best := math.Inf(-1)
					for ky := 0; ky < p.PoolH; ky++ {
						for kx := 0; kx < p.PoolW; kx++ {
							if v := x.at4(b, oy*sh+ky, ox*sw+kx, ch); v > best {
								best = v
							}
						}
					}
					out.set4(b, oy, ox, ch, best)
				}
			}
		}
	}
	return out, nil
}

// Backward routes each output gradient to the window position that won the max.
func (p *MaxPool2D) Backward(x, y, dy *Tensor) (*Tensor, error) {
	n, _, _, c, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	_, oh, ow, _, err := y.Dims4()
	if err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	sh, sw := p.strides()
	dx := NewTensor(x.Shape...)
	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				for ch := 0; ch < c; ch++ {
					bestY, bestX := oy*sh, ox*sw
					best := math.Inf(-1)
					for ky := 0; ky < p.PoolH; ky++ {
						for kx := 0; kx < p.PoolW; kx++ {
							if v := x.at4(b, oy*sh+ky, ox*sw+kx, ch); v > best {
								best, bestY, bestX = v, oy*sh+ky, ox*sw+kx
							}
						}
					}
					dx.set4(b, bestY, bestX, ch, dx.at4(b, bestY, bestX, ch)+dy.at4(b, oy, ox, ch))
				}
			}
		}
	}
	return dx, nil
}

// ── GlobalAvgPool2D ─────────────────────────────────────────────────────────

// GlobalAvgPool2D reduces NHWC feature maps to a (batch, channels) vector.
type GlobalAvgPool2D struct {
	LayerName string
}

func (l GlobalAvgPool2D) Name() string {
	if l.LayerName != "" {
		return l.LayerName
	}
	return "global_avg_pool"
}

func (GlobalAvgPool2D) Forward(x *Tensor) (*Tensor, error) {
	n, h, w, c, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("global_avg_pool: %w", err)
	}
	out := NewTensor(n, c)
	area := float64(h * w)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			sum := 0.0
			for y := 0; y < h; y++ {
				for xx := 0; xx < w; xx++ {
					sum += x.at4(b, y, xx, ch)
				}
			}
			out.Data[b*c+ch] = sum / area
		}
	}
	return out, nil
}

func (GlobalAvgPool2D) Backward(x, _, dy *Tensor) (*Tensor, error) {
	n, h, w, c, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("global_avg_pool: %w", err)
	}
	if len(dy.Data) != n*c {
		return nil, fmt.Errorf("global_avg_pool: gradient shape mismatch")
	}
	dx := NewTensor(x.Shape...)
	area := float64(h * w)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			g := dy.Data[b*c+ch] / area
			for y := 0; y < h; y++ {
				for xx := 0; xx < w; xx++ {
					dx.set4(b, y, xx, ch, g)
				}
			}
		}
	}
	return dx, nil
}

// ── BatchNorm ───────────────────────────────────────────────────────────────

// BatchNorm applies the inference-time affine transform over the trailing
// (channel) dimension using frozen moments.
type BatchNorm struct {
	LayerName string
	Gamma     []float64
	Beta      []float64
	Mean      []float64
	Var       []float64
	Eps       float64
}

func (bn *BatchNorm) Name() string { return bn.LayerName }

func (bn *BatchNorm) scale(c int) (float64, float64) {
	eps := bn.Eps
	if eps == 0 {
		eps = 1e-3
	}
	s := bn.Gamma[c] / math.Sqrt(bn.Var[c]+eps)
	return s, bn.Beta[c] - bn.Mean[c]*s
}

func (bn *BatchNorm) channels(t *Tensor) (int, error) {
	c := t.Shape[len(t.Shape)-1]
	if len(bn.Gamma) != c || len(bn.Beta) != c || len(bn.Mean) != c || len(bn.Var) != c {
		return 0, fmt.Errorf("%s: %d channels, parameters sized %d", bn.LayerName, c, len(bn.Gamma))
	}
	return c, nil
}

func (bn *BatchNorm) Forward(x *Tensor) (*Tensor, error) {
	c, err := bn.channels(x)
	if err != nil {
		return nil, err
	}
	out := x.Clone()
	for i := range out.Data {
		s, sh := bn.scale(i % c)
		out.Data[i] = out.Data[i]*s + sh
	}
	return out, nil
}

func (bn *BatchNorm) Backward(x, _, dy *Tensor) (*Tensor, error) {
	c, err := bn.channels(x)
	if err != nil {
		return nil, err
	}
	dx := dy.Clone()
	for i := range dx.Data {
		s, _ := bn.scale(i % c)
		dx.Data[i] *= s
	}
	return dx, nil
}

// ── Dropout ─────────────────────────────────────────────────────────────────

// Dropout is an identity at inference time; the rate is kept only so a saved
// artifact round-trips the training graph faithfully.
type Dropout struct {
	Rate float64
}

func (Dropout) Name() string                               { return "dropout" }
func (Dropout) Forward(x *Tensor) (*Tensor, error)         { return x.Clone(), nil }
func (Dropout) Backward(_, _, dy *Tensor) (*Tensor, error) { return dy.Clone(), nil }

// ── Flatten ─────────────────────────────────────────────────────────────────

type Flatten struct {
	LayerName string
}

func (l Flatten) Name() string {
	if l.LayerName != "" {
		return l.LayerName
	}
	return "flatten"
}

func (Flatten) Forward(x *Tensor) (*Tensor, error) {
	if len(x.Shape) < 1 {
		return nil, fmt.Errorf("flatten: scalar input")
	}
	out := x.Clone()
	out.Shape = []int{x.Shape[0], x.Size() / x.Shape[0]}
	return out, nil
}

func (Flatten) Backward(x, _, dy *Tensor) (*Tensor, error) {
	dx := dy.Clone()
	dx.Shape = append([]int(nil), x.Shape...)
	return dx, nil
}

// ── Dense ───────────────────────────────────────────────────────────────────

// Dense is a fully connected layer over (batch, In) input with an optional
// fused activation. W is row-major In×Out.
type Dense struct {
	LayerName  string
	In, Out    int
	W          []float64
	B          []float64
	Activation string
}

func (d *Dense) Name() string { return d.LayerName }

func (d *Dense) Forward(x *Tensor) (*Tensor, error) {
	if x.Size() != d.In {
		return nil, fmt.Errorf("%s: input size %d, want %d", d.LayerName, x.Size(), d.In)
	}
	if len(d.W) != d.In*d.Out || len(d.B) != d.Out {
		return nil, fmt.Errorf("%s: weight size mismatch", d.LayerName)
	}
	xm := mat.NewDense(1, d.In, x.Data)
	wm := mat.NewDense(d.In, d.Out, d.W)
	var ym mat.Dense
	ym.Mul(xm, wm)
	out := NewTensor(1, d.Out)
	copy(out.Data, ym.RawMatrix().Data)
	floats.Add(out.Data, d.B)
	switch d.Activation {
	case ActNone:
	case ActReLU:
		for i, v := range out.Data {
			if v < 0 {
				out.Data[i] = 0
			}
		}
	case ActSoftmax:
		softmaxInPlace(out.Data)
	default:
		return nil, fmt.Errorf("%s: unknown activation %q", d.LayerName, d.Activation)
	}
	return out, nil
}

func (d *Dense) Backward(_, y, dy *Tensor) (*Tensor, error) {
	if len(dy.Data) != d.Out || len(y.Data) != d.Out {
		return nil, fmt.Errorf("%s: gradient shape mismatch", d.LayerName)
	}
	// Activation backward first, against the post-activation output.
	g := make([]float64, d.Out)
	switch d.Activation {
	case ActNone:
		copy(g, dy.Data)
	case ActReLU:
		for i, v := range y.Data {
			if v > 0 {
				g[i] = dy.Data[i]
			}
		}
	case ActSoftmax:
		dot := floats.Dot(dy.Data, y.Data)
		for i, p := range y.Data {
			g[i] = p * (dy.Data[i] - dot)
		}
	default:
		return nil, fmt.Errorf("%s: unknown activation %q", d.LayerName, d.Activation)
	}
	gm := mat.NewDense(1, d.Out, g)
	wm := mat.NewDense(d.In, d.Out, d.W)
	var dxm mat.Dense
	dxm.Mul(gm, wm.T())
	dx := NewTensor(1, d.In)
	copy(dx.Data, dxm.RawMatrix().Data)
	return dx, nil
}

func softmaxInPlace(v []float64) {
	m := floats.Max(v)
	sum := 0.0
	for i := range v {
		v[i] = math.Exp(v[i] - m)
		sum += v[i]
	}
	floats.Scale(1/sum, v)
}

// ── Sequential ──────────────────────────────────────────────────────────────

// Sequential chains a sub-graph of layers. Feature extractors loaded from an
// artifact arrive as one of these nested inside the top-level model.
type Sequential struct {
	LayerName string
	Layers    []Layer
}

func (s *Sequential) Name() string       { return s.LayerName }
func (s *Sequential) Sublayers() []Layer { return s.Layers }

func (s *Sequential) Forward(x *Tensor) (*Tensor, error) {
	out := x
	for _, l := range s.Layers {
		var err error
		if out, err = l.Forward(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
