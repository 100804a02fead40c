package xray

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"

	"lungai/internal/graph"
)

// InputSize is the spatial resolution the classifier was trained at.
const InputSize = 224

// Preprocess decodes an image file and produces the (1, 224, 224, 3) tensor
// the classifier expects, with pixel values scaled to [-1, 1]. Lanczos3
// resampling keeps repeated calls on the same file byte-identical.
func Preprocess(path string) (*graph.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return imageToTensor(img), nil
}

func imageToTensor(img image.Image) *graph.Tensor {
	resized := resize.Resize(InputSize, InputSize, img, resize.Lanczos3)
	t := graph.NewTensor(1, InputSize, InputSize, 3)
	i := 0
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			t.Data[i] = float64(r)/32767.5 - 1
			t.Data[i+1] = float64(g)/32767.5 - 1
			t.Data[i+2] = float64(b)/32767.5 - 1
			i += 3
		}
	}
	return t
}
