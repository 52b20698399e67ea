package gate

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cxrscan/internal/apperr"
	"cxrscan/internal/imaging"
)

// chestLikeImage draws a synthetic frontal radiograph: dark collimated
// background, a bright central field, and a brighter spine column, all
// left-right symmetric.
func chestLikeImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			dx := float64(x-112) / 80
			dy := float64(y-112) / 100
			v := uint8(20)
			if dx*dx+dy*dy < 1 {
				v = 170
			}
			if x >= 94 && x < 130 && dx*dx+dy*dy < 1.2 {
				v = 210
			}
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func colorfulImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(200), uint8(x % 64), uint8(255 - y%128), 255})
		}
	}
	return img
}

func mustTensor(t *testing.T, img image.Image) *imaging.Tensor {
	t.Helper()
	tensor, err := imaging.NewPreprocessor(224).Process(img)
	require.NoError(t, err)
	return tensor
}

func TestValidateAcceptsChestLikeImage(t *testing.T) {
	g := New(0.5)

	res, err := g.Validate(mustTensor(t, chestLikeImage()))
	require.NoError(t, err)
	assert.True(t, res.IsXray)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestValidateRejectsColorfulImage(t *testing.T) {
	g := New(0.5)

	res, err := g.Validate(mustTensor(t, colorfulImage()))
	require.NoError(t, err)
	assert.False(t, res.IsXray)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestValidateFailsClosedOnNilTensor(t *testing.T) {
	g := New(0.5)

	res, err := g.Validate(nil)
	assert.False(t, res.IsXray)
	assert.Equal(t, 0.0, res.Confidence)

	var gateErr *apperr.ValidationGateError
	require.ErrorAs(t, err, &gateErr)
}

func TestValidateFailsClosedOnMalformedTensor(t *testing.T) {
	g := New(0.5)

	res, err := g.Validate(&imaging.Tensor{
		Data: make([]float32, 10), Width: 224, Height: 224, Channels: 3,
	})
	assert.False(t, res.IsXray)

	var gateErr *apperr.ValidationGateError
	require.ErrorAs(t, err, &gateErr)
}

func TestValidateFailsClosedOnNonFiniteValues(t *testing.T) {
	g := New(0.5)

	tensor := mustTensor(t, chestLikeImage())
	tensor.Data[0] = float32(math.NaN())

	res, err := g.Validate(tensor)
	assert.False(t, res.IsXray)

	var gateErr *apperr.ValidationGateError
	require.ErrorAs(t, err, &gateErr)
}

func TestValidateSmallTensorKeepsConfidenceFinite(t *testing.T) {
	g := New(0.5)

	for _, size := range []int{8, 32, 63} {
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				v := uint8(30 + (x+y)%100)
				img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
			}
		}
		tensor, err := imaging.NewPreprocessor(size).Process(img)
		require.NoError(t, err)

		res, err := g.Validate(tensor)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(res.Confidence), "size %d", size)
		assert.GreaterOrEqual(t, res.Confidence, 0.0, "size %d", size)
		assert.LessOrEqual(t, res.Confidence, 1.0, "size %d", size)
	}
}

func TestValidateThresholdIsRespected(t *testing.T) {
	tensor := mustTensor(t, chestLikeImage())

	permissive, err := New(0.0).Validate(tensor)
	require.NoError(t, err)
	strict, err := New(1.0).Validate(tensor)
	require.NoError(t, err)

	assert.True(t, permissive.IsXray)
	assert.False(t, strict.IsXray)
	assert.Equal(t, permissive.Confidence, strict.Confidence)
}
