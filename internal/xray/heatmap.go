package xray

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// Blend weights for the overlay: mostly the radiograph, heatmap on top.
const (
	overlayImageWeight = 0.60
	overlayHeatWeight  = 0.40
)

// renderOverlay resizes the original image to the model resolution, upscales
// the saliency map to match, color-maps it and alpha-blends the two, writing
// the result to outPath (.png by default, .jpg/.jpeg supported).
func renderOverlay(imagePath string, cam [][]float64, outPath string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return &DecodeError{Path: imagePath, Err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return &DecodeError{Path: imagePath, Err: err}
	}
	base := resize.Resize(InputSize, InputSize, img, resize.Lanczos3)

	out := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			hr, hg, hb := jetColor(sampleBilinear(cam, x, y, InputSize, InputSize))
			r, g, b, _ := base.At(x, y).RGBA()
			out.Set(x, y, color.RGBA{
				R: blend(uint8(r>>8), hr),
				G: blend(uint8(g>>8), hg),
				B: blend(uint8(b>>8), hb),
				A: 0xff,
			})
		}
	}
	return encodeImage(outPath, out)
}

func blend(img, heat uint8) uint8 {
	v := overlayImageWeight*float64(img) + overlayHeatWeight*float64(heat)
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}

// sampleBilinear reads the saliency map at the fractional position that maps
// (x, y) in the target raster back onto the map's own grid.
func sampleBilinear(cam [][]float64, x, y, tw, th int) float64 {
	ch := len(cam)
	cw := len(cam[0])
	fy := float64(y) * float64(ch-1) / float64(th-1)
	fx := float64(x) * float64(cw-1) / float64(tw-1)
	y0, x0 := int(fy), int(fx)
	y1, x1 := y0+1, x0+1
	if y1 >= ch {
		y1 = ch - 1
	}
	if x1 >= cw {
		x1 = cw - 1
	}
	dy, dx := fy-float64(y0), fx-float64(x0)
	top := cam[y0][x0]*(1-dx) + cam[y0][x1]*dx
	bot := cam[y1][x0]*(1-dx) + cam[y1][x1]*dx
	return top*(1-dy) + bot*dy
}

// jetColor maps v in [0,1] onto the blue-to-red jet ramp.
func jetColor(v float64) (r, g, b uint8) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return rampByte(1.5 - abs(4*v-3)), rampByte(1.5 - abs(4*v-2)), rampByte(1.5 - abs(4*v-1))
}

func rampByte(v float64) uint8 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return uint8(v*255 + 0.5)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func encodeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	case ".png", "":
		err = png.Encode(f, img)
	default:
		err = fmt.Errorf("xray: unsupported heatmap format %q", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
