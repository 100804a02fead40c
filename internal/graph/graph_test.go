package graph

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// identityConv1x1 maps each input channel straight to the matching output
// channel, so its output equals its input.
func identityConv1x1(c int) *Conv2D {
	w := make([]float64, c*c)
	for i := 0; i < c; i++ {
		w[i*c+i] = 1
	}
	return &Conv2D{LayerName: "conv_id", InC: c, OutC: c, KH: 1, KW: 1, W: w, B: make([]float64, c)}
}

func TestConv2DIdentityKernel(t *testing.T) {
	x := NewTensor(1, 2, 3, 2)
	for i := range x.Data {
		x.Data[i] = float64(i) - 3
	}
	y, err := identityConv1x1(2).Forward(x)
	require.NoError(t, err)
	require.Equal(t, x.Shape, y.Shape)
	require.Equal(t, x.Data, y.Data)
}

func TestConv2DSamePadOutputShape(t *testing.T) {
	c := &Conv2D{
		LayerName: "conv", InC: 1, OutC: 2, KH: 3, KW: 3,
		StrideH: 2, StrideW: 2, SamePad: true,
		W: make([]float64, 3*3*1*2), B: make([]float64, 2),
	}
	y, err := c.Forward(NewTensor(1, 7, 7, 1))
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 4, 2}, y.Shape)
}

func TestConv2DRejectsChannelMismatch(t *testing.T) {
	_, err := identityConv1x1(2).Forward(NewTensor(1, 2, 2, 3))
	require.Error(t, err)
}

func TestMaxPoolForwardBackward(t *testing.T) {
	x := NewTensor(1, 2, 2, 1)
	copy(x.Data, []float64{1, 4, 2, 3})
	p := &MaxPool2D{PoolH: 2, PoolW: 2}
	y, err := p.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []float64{4}, y.Data)

	dy := NewTensor(1, 1, 1, 1)
	dy.Data[0] = 2.5
	dx, err := p.Backward(x, y, dy)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 2.5, 0, 0}, dx.Data)
}

func TestGlobalAvgPool(t *testing.T) {
	x := NewTensor(1, 2, 2, 2)
	copy(x.Data, []float64{1, 10, 2, 20, 3, 30, 4, 40})
	y, err := GlobalAvgPool2D{}.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, y.Shape)
	require.InDelta(t, 2.5, y.Data[0], 1e-12)
	require.InDelta(t, 25, y.Data[1], 1e-12)

	dy := NewTensor(1, 2)
	copy(dy.Data, []float64{4, 8})
	dx, err := GlobalAvgPool2D{}.Backward(x, y, dy)
	require.NoError(t, err)
	require.InDelta(t, 1.0, dx.at4(0, 1, 1, 0), 1e-12)
	require.InDelta(t, 2.0, dx.at4(0, 0, 0, 1), 1e-12)
}

func TestDenseSoftmaxDistribution(t *testing.T) {
	d := &Dense{
		LayerName: "fc", In: 2, Out: 3,
		W:          []float64{1, 0, -1, 0, 1, 2},
		B:          []float64{0.1, -0.1, 0},
		Activation: ActSoftmax,
	}
	x := NewTensor(1, 2)
	copy(x.Data, []float64{0.5, -0.5})
	y, err := d.Forward(x)
	require.NoError(t, err)
	sum := 0.0
	for _, v := range y.Data {
		require.Greater(t, v, 0.0)
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestBatchNormInferenceAffine(t *testing.T) {
	bn := &BatchNorm{
		LayerName: "bn",
		Gamma:     []float64{2}, Beta: []float64{1},
		Mean: []float64{3}, Var: []float64{4}, Eps: 0,
	}
	x := NewTensor(1, 1)
	x.Data[0] = 5
	y, err := bn.Forward(x)
	require.NoError(t, err)
	// gamma*(x-mean)/sqrt(var+eps)+beta with default eps 1e-3
	want := 2*(5-3)/math.Sqrt(4+1e-3) + 1
	require.InDelta(t, want, y.Data[0], 1e-9)
}

func testModel() *Model {
	features := &Sequential{
		LayerName: "features",
		Layers:    []Layer{identityConv1x1(2), ReLU{}},
	}
	head := &Dense{
		LayerName: "fc", In: 2, Out: 3,
		W:          []float64{0.7, -0.3, 0.1, -0.2, 0.5, 0.4},
		B:          []float64{0.05, 0, -0.05},
		Activation: ActSoftmax,
	}
	return &Model{
		Version:   ArtifactVersion,
		InputSize: 4,
		Layers:    []Layer{features, GlobalAvgPool2D{}, head},
	}
}

func TestLastConvDescendsIntoNestedGraph(t *testing.T) {
	m := testModel()
	idx, ok := m.LastConv()
	require.True(t, ok)
	require.Equal(t, "conv_id", m.flatten()[idx].Name())
}

func TestLastConvAbsent(t *testing.T) {
	m := &Model{Layers: []Layer{GlobalAvgPool2D{}, &Dense{LayerName: "fc", In: 1, Out: 1, W: []float64{1}, B: []float64{0}}}}
	_, ok := m.LastConv()
	require.False(t, ok)
}

// The gradient walk should agree with finite differences. The first layer is
// an identity convolution, so the gradient at its output equals the gradient
// with respect to the model input, which finite differences can estimate.
func TestGradientAtMatchesFiniteDifferences(t *testing.T) {
	m := testModel()
	convIdx, ok := m.LastConv()
	require.True(t, ok)

	x := NewTensor(1, 2, 2, 2)
	copy(x.Data, []float64{0.3, -0.1, 0.8, 0.2, 0.5, 0.9, -0.4, 0.6})

	tape, err := m.Record(x)
	require.NoError(t, err)
	out := tape.Output()
	k := 0
	for i, v := range out.Data {
		if v > out.Data[k] {
			k = i
		}
	}
	seed := NewTensor(out.Shape...)
	seed.Data[k] = 1
	grad, err := tape.GradientAt(convIdx, seed)
	require.NoError(t, err)
	require.Equal(t, x.Size(), grad.Size())

	const eps = 1e-6
	for i := range x.Data {
		if x.Data[i] <= 0 {
			continue // ReLU kink: the analytic gradient is one-sided here
		}
		bumped := x.Clone()
		bumped.Data[i] += eps
		outB, err := m.Forward(bumped)
		require.NoError(t, err)
		numeric := (outB.Data[k] - out.Data[k]) / eps
		require.InDelta(t, numeric, grad.Data[i], 1e-5, "element %d", i)
	}
}

func TestGradientWalkStopsAtConvolution(t *testing.T) {
	m := &Model{
		InputSize: 4,
		Layers: []Layer{
			identityConv1x1(2),
			identityConv1x1(2),
			GlobalAvgPool2D{},
			&Dense{LayerName: "fc", In: 2, Out: 2, W: []float64{1, 0, 0, 1}, B: []float64{0, 0}, Activation: ActSoftmax},
		},
	}
	x := NewTensor(1, 2, 2, 2)
	tape, err := m.Record(x)
	require.NoError(t, err)
	seed := NewTensor(1, 2)
	seed.Data[0] = 1

	// Gradient at the second conv is reachable.
	_, err = tape.GradientAt(1, seed)
	require.NoError(t, err)

	// Reaching the first conv would require differentiating through the
	// second one, which the graph refuses.
	_, err = tape.GradientAt(0, seed)
	require.ErrorIs(t, err, ErrNotDifferentiable)
}

func TestArtifactRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := RandomModel(rng, 16, 4)
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, Save(path, m))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, m.InputSize, loaded.InputSize)

	x := NewTensor(1, 16, 16, 3)
	for i := range x.Data {
		x.Data[i] = rng.Float64()*2 - 1
	}
	want, err := m.Forward(x)
	require.NoError(t, err)
	got, err := loaded.Forward(x)
	require.NoError(t, err)
	require.Equal(t, want.Data, got.Data)
}

func TestLoadRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.bin"))
	require.Error(t, err)
}
