package model

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"cxrscan/internal/apperr"
	"cxrscan/internal/imaging"
)

var ortInit sync.Once

// Registry owns the loaded classifier for the process lifetime. It is
// built once at startup and passed by reference to everything that needs
// inference.
//
// The session binds reusable input/output tensors, so concurrent Run
// calls would race on their buffers; Forward serializes on a mutex and
// copies results out before releasing it.
type Registry struct {
	mu sync.Mutex

	session    *ort.AdvancedSession
	meta       Metadata
	input      *ort.Tensor[float32]
	logits     *ort.Tensor[float32]
	activation *ort.Tensor[float32]
}

// Load reads the model and its metadata, checks them against the
// configured labels and input size, and creates the inference session.
// Any failure is an apperr.ModelLoadError and fatal to startup.
func Load(modelPath, metadataPath string, labels []string, imageSize int) (*Registry, error) {
	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, &apperr.ModelLoadError{Path: modelPath, Err: fmt.Errorf("onnx runtime: %w", initErr)}
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, &apperr.ModelLoadError{Path: modelPath, Err: err}
	}

	meta, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, &apperr.ModelLoadError{Path: metadataPath, Err: err}
	}
	if err := meta.Validate(labels, imageSize); err != nil {
		return nil, &apperr.ModelLoadError{Path: modelPath, Err: err}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, &apperr.ModelLoadError{Path: modelPath, Err: fmt.Errorf("input tensor: %w", err)}
	}

	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(meta.Classes))))
	if err != nil {
		input.Destroy()
		return nil, &apperr.ModelLoadError{Path: modelPath, Err: fmt.Errorf("logits tensor: %w", err)}
	}

	activation, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.ActivationShape...))
	if err != nil {
		input.Destroy()
		logits.Destroy()
		return nil, &apperr.ModelLoadError{Path: modelPath, Err: fmt.Errorf("activation tensor: %w", err)}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{meta.LogitsOutput, meta.ActivationLayer},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{logits, activation},
		nil)
	if err != nil {
		input.Destroy()
		logits.Destroy()
		activation.Destroy()
		return nil, &apperr.ModelLoadError{Path: modelPath, Err: fmt.Errorf("create session: %w", err)}
	}

	return &Registry{
		session:    session,
		meta:       meta,
		input:      input,
		logits:     logits,
		activation: activation,
	}, nil
}

func (r *Registry) Meta() Metadata { return r.meta }

// Forward runs one inference pass and returns copies of the logits and
// the target layer activation, so callers keep valid data after the next
// request reuses the session buffers.
func (r *Registry) Forward(t *imaging.Tensor) (*Outputs, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	in := r.input.GetData()
	if len(t.Data) != len(in) {
		return nil, fmt.Errorf("tensor has %d values, model expects %d", len(t.Data), len(in))
	}
	copy(in, t.Data)

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}

	logits := make([]float32, len(r.logits.GetData()))
	copy(logits, r.logits.GetData())

	actData := make([]float32, len(r.activation.GetData()))
	copy(actData, r.activation.GetData())

	shape := r.meta.ActivationShape
	return &Outputs{
		Logits: logits,
		Activation: &Activation{
			Data:     actData,
			Height:   int(shape[1]),
			Width:    int(shape[2]),
			Channels: int(shape[3]),
		},
	}, nil
}

// Close releases the session and its bound tensors. The ONNX environment
// itself stays up for the process lifetime: initialization sits behind a
// sync.Once, so destroying it here would leave a later Load unable to
// re-initialize.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.input != nil {
		r.input.Destroy()
	}
	if r.logits != nil {
		r.logits.Destroy()
	}
	if r.activation != nil {
		r.activation.Destroy()
	}
	if r.session != nil {
		r.session.Destroy()
	}
}
