// Package classify turns raw model logits into a probability distribution
// over the configured disease labels.
package classify

import (
	"fmt"
	"math"

	"cxrscan/internal/apperr"
	"cxrscan/internal/imaging"
	"cxrscan/internal/model"
)

// Prediction is the classifier output for one image. Scores keeps the
// label-configuration order; presentation-layer sorting is the caller's
// business.
type Prediction struct {
	Index      int
	Label      string
	Confidence float32
	Scores     []float32

	labels []string
}

// AllPredictions materializes the label -> probability map.
func (p *Prediction) AllPredictions() map[string]float32 {
	out := make(map[string]float32, len(p.labels))
	for i, l := range p.labels {
		out[l] = p.Scores[i]
	}
	return out
}

type Classifier struct {
	fw     model.Forwarder
	labels []string
}

func New(fw model.Forwarder, labels []string) *Classifier {
	return &Classifier{fw: fw, labels: labels}
}

// Predict runs a forward pass and applies softmax. The predicted class is
// the strict argmax; exact ties go to the lowest label index.
func (c *Classifier) Predict(t *imaging.Tensor) (*Prediction, error) {
	out, err := c.fw.Forward(t)
	if err != nil {
		return nil, &apperr.InferenceError{Err: err}
	}
	return c.FromOutputs(out)
}

// FromOutputs scores an already-computed forward pass, so a caller that
// also needs the activation can pay for inference once.
func (c *Classifier) FromOutputs(out *model.Outputs) (*Prediction, error) {
	if len(out.Logits) != len(c.labels) {
		return nil, &apperr.InferenceError{
			Err: fmt.Errorf("model produced %d logits for %d labels", len(out.Logits), len(c.labels)),
		}
	}

	scores := softmax(out.Logits)

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}

	return &Prediction{
		Index:      best,
		Label:      c.labels[best],
		Confidence: scores[best],
		Scores:     scores,
		labels:     c.labels,
	}, nil
}

// softmax is computed max-shifted in float64 so large logits cannot
// overflow.
func softmax(logits []float32) []float32 {
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}

	exps := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		exps[i] = math.Exp(float64(l) - maxLogit)
		sum += exps[i]
	}

	out := make([]float32, len(logits))
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}
