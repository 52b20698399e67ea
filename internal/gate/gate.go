// Package gate screens inputs before classification runs. Chest
// radiographs have a recognizable statistical signature (near-grayscale,
// dark background with a brighter lung field, left-right symmetric, spine
// column brighter than the lung fields), which a weighted rule score
// separates from arbitrary photos without a second network.
package gate

import (
	"errors"
	"math"

	"cxrscan/internal/apperr"
	"cxrscan/internal/imaging"
)

// Result is the gate verdict for one image.
type Result struct {
	IsXray     bool    `json:"is_xray"`
	Confidence float64 `json:"confidence"`
}

// Images with mean per-pixel channel deviation above this (0-255 scale)
// are rejected outright: radiographs are never that colorful.
const colorCutoff = 15.0

type Gate struct {
	threshold float64
}

func New(threshold float64) *Gate {
	return &Gate{threshold: threshold}
}

// Validate scores the preprocessed tensor. It fails closed: any
// computation problem yields IsXray=false together with a
// ValidationGateError, never a panic.
func (g *Gate) Validate(t *imaging.Tensor) (Result, error) {
	closed := Result{IsXray: false, Confidence: 0}

	if t == nil || len(t.Data) == 0 {
		return closed, &apperr.ValidationGateError{Err: errors.New("empty tensor")}
	}
	if t.Channels != 3 || len(t.Data) != t.Width*t.Height*t.Channels {
		return closed, &apperr.ValidationGateError{Err: errors.New("malformed tensor shape")}
	}

	// Back to 0-255 so the cutoffs keep their original meaning.
	lum, colorVar, ok := luminancePlane(t)
	if !ok {
		return closed, &apperr.ValidationGateError{Err: errors.New("non-finite pixel values")}
	}

	if colorVar > colorCutoff {
		return closed, nil
	}
	grayScore := 1.0 - math.Min(colorVar/colorCutoff, 1.0)

	w, h := t.Width, t.Height

	contrastScore := math.Min(stddev(lum)/80.0, 1.0)

	aspect := float64(t.SrcHeight) / float64(t.SrcWidth)
	aspectScore := 0.5
	if aspect >= 0.8 && aspect <= 1.5 {
		aspectScore = 1.0
	}

	edgeScore := math.Min(edgeDensity(lum, w, h)/0.15, 1.0)

	brightScore := clamp01(centerBorderDiff(lum, w, h) / 50.0)

	symScore := symmetry(lum, w, h)
	if symScore > 0.8 {
		symScore = math.Min(symScore*1.1, 1.0)
	}

	structScore := structure(lum, w, h)

	confidence := 0.20*grayScore +
		0.10*contrastScore +
		0.10*aspectScore +
		0.10*edgeScore +
		0.15*brightScore +
		0.15*symScore +
		0.20*structScore

	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return closed, &apperr.ValidationGateError{Err: errors.New("non-finite confidence")}
	}

	return Result{IsXray: confidence >= g.threshold, Confidence: confidence}, nil
}

// luminancePlane converts the normalized tensor back to a 0-255 luminance
// plane and reports the mean per-pixel channel deviation.
func luminancePlane(t *imaging.Tensor) (lum []float64, colorVar float64, ok bool) {
	n := t.Width * t.Height
	lum = make([]float64, n)
	var devSum float64
	for i := 0; i < n; i++ {
		r := (float64(t.Data[i*3]) + 1) * 127.5
		g := (float64(t.Data[i*3+1]) + 1) * 127.5
		b := (float64(t.Data[i*3+2]) + 1) * 127.5
		if math.IsNaN(r) || math.IsNaN(g) || math.IsNaN(b) ||
			math.IsInf(r, 0) || math.IsInf(g, 0) || math.IsInf(b, 0) {
			return nil, 0, false
		}
		lum[i] = 0.299*r + 0.587*g + 0.114*b
		mean := (r + g + b) / 3
		devSum += math.Sqrt(((r-mean)*(r-mean) + (g-mean)*(g-mean) + (b-mean)*(b-mean)) / 3)
	}
	return lum, devSum / float64(n), true
}

func stddev(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(v)))
}

// edgeDensity is the fraction of pixels whose Sobel gradient magnitude
// exceeds a fixed threshold.
func edgeDensity(lum []float64, w, h int) float64 {
	const threshold = 128.0
	edges := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			at := func(dx, dy int) float64 { return lum[(y+dy)*w+x+dx] }
			gx := -at(-1, -1) - 2*at(-1, 0) - at(-1, 1) +
				at(1, -1) + 2*at(1, 0) + at(1, 1)
			gy := -at(-1, -1) - 2*at(0, -1) - at(1, -1) +
				at(-1, 1) + 2*at(0, 1) + at(1, 1)
			if math.Hypot(gx, gy) > threshold {
				edges++
			}
		}
	}
	return float64(edges) / float64(w*h)
}

// centerBorderDiff is the brightness of the central half-region minus the
// brightness of the border band. Radiographs expose the lung field against
// a dark collimated border.
func centerBorderDiff(lum []float64, w, h int) float64 {
	var cSum, bSum float64
	var cN, bN int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := lum[y*w+x]
			if x >= w/4 && x < 3*w/4 && y >= h/4 && y < 3*h/4 {
				cSum += v
				cN++
			} else {
				bSum += v
				bN++
			}
		}
	}
	return cSum/float64(cN) - bSum/float64(bN)
}

// symmetry compares a downsample against its mirror image. The grid is
// 64x64 at most, clamped so tensors smaller than that still get whole
// blocks instead of a zero block size.
func symmetry(lum []float64, w, h int) float64 {
	side := 64
	if w < side {
		side = w
	}
	if h < side {
		side = h
	}
	small := make([]float64, side*side)
	bw, bh := w/side, h/side
	for sy := 0; sy < side; sy++ {
		for sx := 0; sx < side; sx++ {
			var sum float64
			for y := sy * bh; y < (sy+1)*bh; y++ {
				for x := sx * bw; x < (sx+1)*bw; x++ {
					sum += lum[y*w+x]
				}
			}
			small[sy*side+sx] = sum / float64(bw*bh)
		}
	}
	var diff float64
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			diff += math.Abs(small[y*side+x] - small[y*side+side-1-x])
		}
	}
	return 1.0 - diff/float64(side*side)/255.0
}

// structure checks two radiograph landmarks: dark top corners (collimated
// background around the shoulders) and a spine column brighter than the
// lung fields either side of it.
func structure(lum []float64, w, h int) float64 {
	corner := min(w, h) / 8
	var tl, tr float64
	for y := 0; y < corner; y++ {
		for x := 0; x < corner; x++ {
			tl += lum[y*w+x]
			tr += lum[y*w+w-1-x]
		}
	}
	cornerBrightness := (tl + tr) / float64(2*corner*corner)
	cornerScore := 1.0 - math.Min(cornerBrightness/100.0, 1.0)

	strip := w / 6
	var spine, left, right float64
	for y := 0; y < h; y++ {
		for x := 0; x < strip; x++ {
			left += lum[y*w+x]
			right += lum[y*w+w-1-x]
			spine += lum[y*w+w/2-strip/2+x]
		}
	}
	spineScore := 0.3
	if spine > (left+right)/2 {
		spineScore = 1.0
	}

	return 0.6*cornerScore + 0.4*spineScore
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
