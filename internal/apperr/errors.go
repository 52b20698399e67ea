// Package apperr defines the error taxonomy shared by the prediction
// pipeline. Each kind is a distinct type so callers can branch with
// errors.As and decide user-facing handling per kind.
package apperr

import "fmt"

// InputError marks a request image that is malformed or unusable before
// the pipeline runs.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return fmt.Sprintf("invalid input image: %v", e.Err) }
func (e *InputError) Unwrap() error { return e.Err }

// ModelLoadError is fatal at startup: the model file is missing,
// unreadable, or incompatible with the configured labels/input shape.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading model %q: %v", e.Path, e.Err)
}
func (e *ModelLoadError) Unwrap() error { return e.Err }

// ValidationGateError reports a gate computation failure. The gate fails
// closed, so this always accompanies an is_xray=false verdict.
type ValidationGateError struct {
	Err error
}

func (e *ValidationGateError) Error() string { return fmt.Sprintf("x-ray validation: %v", e.Err) }
func (e *ValidationGateError) Unwrap() error { return e.Err }

// InferenceError is a classifier forward-pass failure. Fatal to the
// current request only; it must reach the caller.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("inference failed: %v", e.Err) }
func (e *InferenceError) Unwrap() error { return e.Err }

// ExplainabilityError is a per-request Grad-CAM failure. Classification
// still succeeds, the response just carries no overlay.
type ExplainabilityError struct {
	Err error
}

func (e *ExplainabilityError) Error() string { return fmt.Sprintf("grad-cam failed: %v", e.Err) }
func (e *ExplainabilityError) Unwrap() error { return e.Err }

// ExplainabilityConfigError means the explainer configuration does not
// match the loaded model (wrong target layer, absent head weights). It is
// a deployment problem, not a per-request one.
type ExplainabilityConfigError struct {
	Layer string
	Err   error
}

func (e *ExplainabilityConfigError) Error() string {
	return fmt.Sprintf("grad-cam configuration (layer %q): %v", e.Layer, e.Err)
}
func (e *ExplainabilityConfigError) Unwrap() error { return e.Err }

// PersistenceError is a history write or read failure. Recording history
// is a side effect; prediction results are returned regardless.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("history store: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
