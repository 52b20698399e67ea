// Package gradcam renders class-discriminative saliency overlays.
//
// The classifier head is global-average-pool followed by a dense layer, so
// the gradient of a class logit with respect to the target convolutional
// activation is spatially constant: d logit_k / d A[h,w,c] = W[c,k]/(H*W).
// Spatially averaging that gradient gives the channel weight directly from
// the dense weights, which is how Grad-CAM stays computable on an
// inference-only runtime.
package gradcam

import (
	"errors"
	"fmt"

	"cxrscan/internal/apperr"
	"cxrscan/internal/imaging"
	"cxrscan/internal/model"
)

// SaliencyMap is the normalized class activation map at the source conv
// layer's resolution. Values are in [0,1]; a flat activation yields all
// zeros.
type SaliencyMap struct {
	Width  int
	Height int
	Values []float64
}

func (m *SaliencyMap) At(y, x int) float64 { return m.Values[y*m.Width+x] }

type Explainer struct {
	fw       model.Forwarder
	weights  [][]float32 // C x K dense head
	classes  int
	channels int
	alpha    float64
	colormap Colormap
}

// New validates the explainer configuration against the model metadata.
// The target layer and head weights are deployment configuration; any
// mismatch is an ExplainabilityConfigError at startup, not a per-request
// failure.
func New(fw model.Forwarder, meta model.Metadata, targetLayer string, alpha float64, colormapName string) (*Explainer, error) {
	if targetLayer != meta.ActivationLayer {
		return nil, &apperr.ExplainabilityConfigError{
			Layer: targetLayer,
			Err:   fmt.Errorf("model exposes layer %q", meta.ActivationLayer),
		}
	}
	if len(meta.HeadWeights) == 0 {
		return nil, &apperr.ExplainabilityConfigError{
			Layer: targetLayer,
			Err:   errors.New("metadata carries no head weights, no differentiable path to the logits"),
		}
	}
	channels := int(meta.ActivationShape[3])
	if len(meta.HeadWeights) != channels {
		return nil, &apperr.ExplainabilityConfigError{
			Layer: targetLayer,
			Err:   fmt.Errorf("head has %d rows, activation has %d channels", len(meta.HeadWeights), channels),
		}
	}
	classes := len(meta.Classes)
	for c, row := range meta.HeadWeights {
		if len(row) != classes {
			return nil, &apperr.ExplainabilityConfigError{
				Layer: targetLayer,
				Err:   fmt.Errorf("head row %d has %d columns, model has %d classes", c, len(row), classes),
			}
		}
	}
	if alpha < 0 || alpha > 1 {
		return nil, &apperr.ExplainabilityConfigError{
			Layer: targetLayer,
			Err:   fmt.Errorf("blend alpha %v outside [0,1]", alpha),
		}
	}
	cm, err := ColormapByName(colormapName)
	if err != nil {
		return nil, &apperr.ExplainabilityConfigError{Layer: targetLayer, Err: err}
	}
	return &Explainer{
		fw:       fw,
		weights:  meta.HeadWeights,
		classes:  classes,
		channels: channels,
		alpha:    alpha,
		colormap: cm,
	}, nil
}

// Explain computes the saliency map for classIdx and renders it over the
// tensor's pre-normalization frame. Failures here never invalidate the
// classification result.
func (e *Explainer) Explain(t *imaging.Tensor, classIdx int) (*SaliencyMap, *Overlay, error) {
	out, err := e.fw.Forward(t)
	if err != nil {
		return nil, nil, &apperr.ExplainabilityError{Err: err}
	}
	return e.ExplainOutputs(out, t, classIdx)
}

// ExplainOutputs works from an already-computed forward pass, so the
// pipeline can reuse the classifier's inference instead of running a
// second one.
func (e *Explainer) ExplainOutputs(out *model.Outputs, t *imaging.Tensor, classIdx int) (*SaliencyMap, *Overlay, error) {
	if classIdx < 0 || classIdx >= e.classes {
		return nil, nil, &apperr.ExplainabilityError{
			Err: fmt.Errorf("target class %d outside [0,%d)", classIdx, e.classes),
		}
	}

	act := out.Activation
	if act == nil {
		return nil, nil, &apperr.ExplainabilityError{Err: errors.New("forward pass captured no activation")}
	}
	if act.Channels != e.channels {
		return nil, nil, &apperr.ExplainabilityConfigError{
			Err: fmt.Errorf("activation has %d channels, head expects %d", act.Channels, e.channels),
		}
	}

	sal := e.saliency(act, classIdx)

	ov, err := e.render(sal, t)
	if err != nil {
		return sal, nil, &apperr.ExplainabilityError{Err: err}
	}
	return sal, ov, nil
}

// saliency is steps 2-5 of Grad-CAM: channel weights from the analytic
// gradient, ReLU of the weighted sum, min-max normalization with a
// flat-map guard.
func (e *Explainer) saliency(act *model.Activation, classIdx int) *SaliencyMap {
	spatial := float64(act.Height * act.Width)

	values := make([]float64, act.Height*act.Width)
	for y := 0; y < act.Height; y++ {
		for x := 0; x < act.Width; x++ {
			var sum float64
			for c := 0; c < act.Channels; c++ {
				w := float64(e.weights[c][classIdx]) / spatial
				sum += w * float64(act.At(y, x, c))
			}
			if sum < 0 {
				sum = 0
			}
			values[y*act.Width+x] = sum
		}
	}

	minV, maxV := values[0], values[0]
	for _, v := range values[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	if maxV == minV {
		// Flat map carries no class-discriminative signal.
		for i := range values {
			values[i] = 0
		}
	} else {
		span := maxV - minV
		for i := range values {
			values[i] = (values[i] - minV) / span
		}
	}

	return &SaliencyMap{Width: act.Width, Height: act.Height, Values: values}
}
