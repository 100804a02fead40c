package graph

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
)

// Artifact format: a gob stream holding a magic string, a format version and
// the model itself. The magic/version pair is checked before any layer is
// decoded so a foreign file fails fast.
const (
	artifactMagic   = "lungai-model"
	ArtifactVersion = 1
)

type artifact struct {
	Magic   string
	Version int
	Model   *Model
}

func init() {
	gob.Register(&Conv2D{})
	gob.Register(ReLU{})
	gob.Register(&MaxPool2D{})
	gob.Register(GlobalAvgPool2D{})
	gob.Register(&BatchNorm{})
	gob.Register(Dropout{})
	gob.Register(Flatten{})
	gob.Register(&Dense{})
	gob.Register(&Sequential{})
}

// Load reads a model artifact from disk.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var a artifact
	if err := gob.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("graph: decode artifact %s: %w", path, err)
	}
	if a.Magic != artifactMagic {
		return nil, fmt.Errorf("graph: %s is not a model artifact", path)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("graph: artifact version %d, want %d", a.Version, ArtifactVersion)
	}
	if a.Model == nil || len(a.Model.Layers) == 0 {
		return nil, fmt.Errorf("graph: artifact %s holds an empty model", path)
	}
	return a.Model, nil
}

// Save writes the model as a versioned artifact.
func Save(path string, m *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(artifact{Magic: artifactMagic, Version: ArtifactVersion, Model: m}); err != nil {
		f.Close()
		return fmt.Errorf("graph: encode artifact %s: %w", path, err)
	}
	return f.Close()
}

// RandomModel builds a small randomly initialized classifier with the same
// two-stage shape as the trained one: a convolutional feature extractor
// wrapped in a Sequential, followed by a dense head. Used by `model synth`
// and by tests that need a structurally realistic graph.
func RandomModel(rng *rand.Rand, inputSize, numClasses int) *Model {
	conv1 := &Conv2D{
		LayerName: "conv1", InC: 3, OutC: 8, KH: 3, KW: 3,
		StrideH: 2, StrideW: 2, SamePad: true,
		W: randWeights(rng, 3*3*3*8), B: make([]float64, 8),
	}
	conv2 := &Conv2D{
		LayerName: "conv2", InC: 8, OutC: 16, KH: 3, KW: 3,
		StrideH: 2, StrideW: 2, SamePad: true,
		W: randWeights(rng, 3*3*8*16), B: make([]float64, 16),
	}
	features := &Sequential{
		LayerName: "features",
		Layers: []Layer{
			conv1, ReLU{},
			&MaxPool2D{PoolH: 2, PoolW: 2},
			conv2, ReLU{},
		},
	}
	return &Model{
		Version:   ArtifactVersion,
		InputSize: inputSize,
		Layers: []Layer{
			features,
			GlobalAvgPool2D{},
			&Dense{LayerName: "fc1", In: 16, Out: 32, W: randWeights(rng, 16*32), B: make([]float64, 32), Activation: ActReLU},
			Dropout{Rate: 0.5},
			&Dense{LayerName: "fc2", In: 32, Out: numClasses, W: randWeights(rng, 32*numClasses), B: make([]float64, numClasses), Activation: ActSoftmax},
		},
	}
}

func randWeights(rng *rand.Rand, n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = rng.NormFloat64() * 0.1
	}
	return w
}
