package model

import (
	"encoding/json"
	"fmt"
	"os"

	"cxrscan/internal/imaging"
)

// Metadata describes the exported ONNX model: tensor shapes, the output
// names to fetch, and the dense head parameters the explainer needs.
// It ships next to the model file as JSON.
type Metadata struct {
	InputShape []int64  `json:"input_shape"`
	ImageSize  int      `json:"image_size"`
	Classes    []string `json:"classes"`

	// LogitsOutput is the graph output carrying raw class scores.
	LogitsOutput string `json:"logits_output"`

	// ActivationLayer is the graph output exposing the target conv
	// layer's activation, with its static shape.
	ActivationLayer string  `json:"activation_layer"`
	ActivationShape []int64 `json:"activation_shape"`

	// HeadWeights is the final dense layer as a C x K matrix (C =
	// activation channels, K = classes), HeadBias its bias. The head sits
	// after global average pooling, which makes the gradient of any logit
	// with respect to the activation spatially constant; the explainer
	// relies on that.
	HeadWeights [][]float32 `json:"head_weights,omitempty"`
	HeadBias    []float32   `json:"head_bias,omitempty"`
}

func LoadMetadata(path string) (Metadata, error) {
	var m Metadata
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse metadata: %w", err)
	}
	return m, nil
}

// Validate checks the metadata against the externally configured label
// list and input size.
func (m Metadata) Validate(labels []string, imageSize int) error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape must have 4 dims, got %d", len(m.InputShape))
	}
	if m.ImageSize != imageSize {
		return fmt.Errorf("model expects %dpx input, configured %dpx", m.ImageSize, imageSize)
	}
	if len(m.Classes) != len(labels) {
		return fmt.Errorf("model has %d classes, configured %d labels", len(m.Classes), len(labels))
	}
	for i, c := range m.Classes {
		if c != labels[i] {
			return fmt.Errorf("class %d is %q in model, %q in configuration", i, c, labels[i])
		}
	}
	if m.LogitsOutput == "" {
		return fmt.Errorf("logits_output is required")
	}
	if m.ActivationLayer == "" {
		return fmt.Errorf("activation_layer is required")
	}
	if len(m.ActivationShape) != 4 {
		return fmt.Errorf("activation_shape must have 4 dims, got %d", len(m.ActivationShape))
	}
	return nil
}

// Activation is a captured intermediate layer output in HWC layout.
type Activation struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
}

func (a *Activation) At(y, x, c int) float32 {
	return a.Data[(y*a.Width+x)*a.Channels+c]
}

// Outputs is one forward pass: final logits plus the target layer
// activation.
type Outputs struct {
	Logits     []float32
	Activation *Activation
}

// Forwarder runs inference on a preprocessed tensor. The ONNX-backed
// Registry implements it; tests substitute fixed-output stubs.
type Forwarder interface {
	Forward(t *imaging.Tensor) (*Outputs, error)
}
