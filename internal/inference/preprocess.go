package inference

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/leaf-api/internal/model"
)

// ErrDecode means the upload is not a JPEG or PNG image.
var ErrDecode = errors.New("invalid image")

// Decode parses raw upload bytes. Errors wrap ErrDecode.
func Decode(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("%w: empty upload", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation maps a config name to a resize filter.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	interp, ok := interpolations[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return resize.Bicubic, fmt.Errorf("unknown interpolation %q", name)
	}
	return interp, nil
}

// Preprocessor turns a decoded image into the batch-of-one tensor an artifact expects.
type Preprocessor struct {
	Size   int
	Layout model.Layout
	Interp resize.InterpolationFunction
}

// Resize stretches img to Size x Size without keeping the aspect ratio.
// An image already at that size is returned unchanged.
func (p Preprocessor) Resize(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() == p.Size && b.Dy() == p.Size {
		return img
	}
	return resize.Resize(uint(p.Size), uint(p.Size), img, p.Interp)
}

// Tensor resizes img and scales each 8-bit RGB channel value v to v/255.
// Alpha is dropped; grayscale sources yield three equal channels.
func (p Preprocessor) Tensor(img image.Image) []float32 {
	resized := p.Resize(img)
	b := resized.Bounds()
	width, height := b.Dx(), b.Dy()
	plane := width * height
	data := make([]float32, channelCount*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(resized.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			rgb := [channelCount]uint8{c.R, c.G, c.B}

			pixel := y*width + x
			for ch, v := range rgb {
				if p.Layout == model.LayoutNCHW {
					data[ch*plane+pixel] = Scale(v)
				} else {
					data[pixel*channelCount+ch] = Scale(v)
				}
			}
		}
	}
	return data
}

const channelCount = 3

// Scale maps an 8-bit channel value into [0,1]; 0 and 255 map to exactly 0 and 1.
func Scale(v uint8) float32 {
	return float32(v) / 255
}
