package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

const channels = 3

// Preprocessor converts a decoded image into the fixed-size normalized
// tensor the model expects: Lanczos3 resize to size x size, then the
// ResNetV2 convention of value/127.5 - 1 per channel.
type Preprocessor struct {
	size int
}

func NewPreprocessor(size int) *Preprocessor {
	return &Preprocessor{size: size}
}

// Size returns the square edge length of produced tensors.
func (p *Preprocessor) Size() int { return p.size }

func (p *Preprocessor) Process(img image.Image) (*Tensor, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", bounds.Dx(), bounds.Dy())
	}

	resized := resize.Resize(uint(p.size), uint(p.size), img, resize.Lanczos3)

	frame := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.Draw(frame, frame.Bounds(), resized, resized.Bounds().Min, draw.Src)

	data := make([]float32, p.size*p.size*channels)
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			i := frame.PixOffset(x, y)
			o := (y*p.size + x) * channels
			data[o] = float32(frame.Pix[i])/127.5 - 1
			data[o+1] = float32(frame.Pix[i+1])/127.5 - 1
			data[o+2] = float32(frame.Pix[i+2])/127.5 - 1
		}
	}

	return &Tensor{
		Data:      data,
		Width:     p.size,
		Height:    p.size,
		Channels:  channels,
		Frame:     frame,
		SrcWidth:  bounds.Dx(),
		SrcHeight: bounds.Dy(),
	}, nil
}
