// Package pipeline runs one prediction request end to end:
// preprocess -> validity gate -> classify -> explain -> record.
package pipeline

import (
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cxrscan/internal/apperr"
	"cxrscan/internal/classify"
	"cxrscan/internal/gate"
	"cxrscan/internal/gradcam"
	"cxrscan/internal/history"
	"cxrscan/internal/imaging"
	"cxrscan/internal/model"
)

// Options tunes a single Process call.
type Options struct {
	// TargetClass overrides which class the overlay explains. Negative
	// means the predicted class.
	TargetClass int
}

// DefaultOptions explains the predicted class.
func DefaultOptions() Options { return Options{TargetClass: -1} }

// Result is everything one request produced. Prediction and Overlay are
// nil when the gate rejected the image; Overlay alone is nil when
// explanation failed. GateErr carries a fail-closed gate failure as a
// distinct signal next to the IsXray=false verdict.
type Result struct {
	Validation gate.Result
	GateErr    error
	Prediction *classify.Prediction
	Overlay    *gradcam.Overlay
	EntryID    string
}

type Pipeline struct {
	pre  *imaging.Preprocessor
	gate *gate.Gate
	fw   model.Forwarder
	cls  *classify.Classifier
	exp  *gradcam.Explainer
	hist history.Store
	log  *zap.Logger
}

func New(pre *imaging.Preprocessor, g *gate.Gate, fw model.Forwarder, cls *classify.Classifier,
	exp *gradcam.Explainer, hist history.Store, log *zap.Logger) *Pipeline {
	return &Pipeline{pre: pre, gate: g, fw: fw, cls: cls, exp: exp, hist: hist, log: log}
}

// Process classifies one decoded image.
//
// The gate hard-blocks: a rejected image returns a Result holding only the
// validation verdict, and neither the classifier nor the explainer runs.
// Explanation and history failures are logged and tolerated; only
// preprocessing and inference failures abort the request.
func (p *Pipeline) Process(img image.Image, opts Options) (*Result, error) {
	t, err := p.pre.Process(img)
	if err != nil {
		return nil, &apperr.InputError{Err: err}
	}

	validation, gateErr := p.gate.Validate(t)
	if gateErr != nil {
		p.log.Warn("gate failed closed", zap.Error(gateErr))
		return &Result{Validation: validation, GateErr: gateErr}, nil
	}
	if !validation.IsXray {
		p.log.Info("image rejected by gate",
			zap.Float64("confidence", validation.Confidence))
		return &Result{Validation: validation}, nil
	}

	// One forward pass serves both the classifier and the explainer; the
	// outputs already carry the logits and the target layer activation.
	out, err := p.fw.Forward(t)
	if err != nil {
		return nil, &apperr.InferenceError{Err: err}
	}

	pred, err := p.cls.FromOutputs(out)
	if err != nil {
		return nil, err
	}
	p.log.Info("prediction",
		zap.String("class", pred.Label),
		zap.Float32("confidence", pred.Confidence))

	target := opts.TargetClass
	if target < 0 {
		target = pred.Index
	}

	var overlay *gradcam.Overlay
	if _, ov, err := p.exp.ExplainOutputs(out, t, target); err != nil {
		p.log.Warn("continuing without overlay", zap.Error(err))
	} else {
		overlay = ov
	}

	entry := p.buildEntry(t, pred, overlay)
	if err := p.hist.Record(entry); err != nil {
		p.log.Error("history record failed", zap.Error(err))
	}

	return &Result{
		Validation: validation,
		Prediction: pred,
		Overlay:    overlay,
		EntryID:    entry.ID,
	}, nil
}

// buildEntry exists even when recording later fails; the entry ID is part
// of the response either way.
func (p *Pipeline) buildEntry(t *imaging.Tensor, pred *classify.Prediction, overlay *gradcam.Overlay) history.Entry {
	thumb, err := history.Thumbnail(t.Frame)
	if err != nil {
		p.log.Warn("thumbnail generation failed", zap.Error(err))
		thumb = ""
	}
	overlayRef := ""
	if overlay != nil {
		overlayRef = overlay.DataURI()
	}
	return history.Entry{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Thumbnail:      thumb,
		PredictedClass: pred.Label,
		Confidence:     pred.Confidence,
		AllPredictions: pred.AllPredictions(),
		OverlayRef:     overlayRef,
	}
}
