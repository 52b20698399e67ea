package imaging

import "image"

// Tensor is the shared preprocessed form of one input image. Every
// consumer (validity gate, classifier, explainer) reads the same instance,
// which is what keeps their normalization conventions identical.
type Tensor struct {
	// Data is NHWC float32 for a single image, normalized to [-1, 1].
	Data     []float32
	Width    int
	Height   int
	Channels int

	// Frame is the resized image before normalization. The overlay
	// renderer and thumbnail generator blend against this, never against
	// the normalized data.
	Frame *image.RGBA

	// Original decoded dimensions, kept for the gate's aspect check.
	SrcWidth  int
	SrcHeight int
}

// At returns the normalized value at (x, y) for channel c.
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}
