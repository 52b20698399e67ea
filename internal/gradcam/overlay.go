package gradcam

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/nfnt/resize"

	"cxrscan/internal/imaging"
)

// Overlay is the colorized saliency map blended onto the input image,
// PNG encoded.
type Overlay struct {
	PNG []byte
}

// DataURI renders the overlay for inline transport, matching the history
// thumbnail encoding.
func (o *Overlay) DataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(o.PNG)
}

// Colormap maps a saliency value in [0,1] to a color.
type Colormap func(v float64) color.RGBA

func ColormapByName(name string) (Colormap, error) {
	switch name {
	case "jet":
		return jet, nil
	case "gray":
		return grayMap, nil
	default:
		return nil, fmt.Errorf("unknown colormap %q", name)
	}
}

// jet is the classic blue-cyan-yellow-red ramp used for medical heatmaps.
func jet(v float64) color.RGBA {
	ramp := func(x float64) uint8 {
		x = math.Max(0, math.Min(x, 1))
		return uint8(x*255 + 0.5)
	}
	return color.RGBA{
		R: ramp(1.5 - math.Abs(4*v-3)),
		G: ramp(1.5 - math.Abs(4*v-2)),
		B: ramp(1.5 - math.Abs(4*v-1)),
		A: 255,
	}
}

func grayMap(v float64) color.RGBA {
	g := uint8(math.Max(0, math.Min(v, 1))*255 + 0.5)
	return color.RGBA{R: g, G: g, B: g, A: 255}
}

// render upsamples the layer-resolution map to the frame size (bilinear),
// colorizes it, and alpha-blends it onto the pre-normalization frame.
func (e *Explainer) render(sal *SaliencyMap, t *imaging.Tensor) (*Overlay, error) {
	if t.Frame == nil {
		return nil, errors.New("tensor carries no frame to blend against")
	}

	heat := upsample(sal, t.Width, t.Height)

	blended := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			hc := e.colormap(heat[y*t.Width+x])
			i := t.Frame.PixOffset(x, y)
			o := blended.PixOffset(x, y)
			blended.Pix[o] = blend(t.Frame.Pix[i], hc.R, e.alpha)
			blended.Pix[o+1] = blend(t.Frame.Pix[i+1], hc.G, e.alpha)
			blended.Pix[o+2] = blend(t.Frame.Pix[i+2], hc.B, e.alpha)
			blended.Pix[o+3] = 255
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, blended); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return &Overlay{PNG: buf.Bytes()}, nil
}

func blend(img, heat uint8, alpha float64) uint8 {
	return uint8((1-alpha)*float64(img) + alpha*float64(heat) + 0.5)
}

// upsample resizes the saliency grid bilinearly through a 16-bit gray
// plane, returning values back in [0,1].
func upsample(sal *SaliencyMap, w, h int) []float64 {
	gray := image.NewGray16(image.Rect(0, 0, sal.Width, sal.Height))
	for y := 0; y < sal.Height; y++ {
		for x := 0; x < sal.Width; x++ {
			gray.SetGray16(x, y, color.Gray16{Y: uint16(sal.At(y, x)*65535 + 0.5)})
		}
	}

	scaled := resize.Resize(uint(w), uint(h), gray, resize.Bilinear)

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(scaled.At(x, y)).(color.Gray16)
			out[y*w+x] = float64(g.Y) / 65535.0
		}
	}
	return out
}
