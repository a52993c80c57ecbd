package voice

import (
	"errors"
	"fmt"

	"github.com/ent0n29/novavoice/internal/reliability"
)

// Stage names a pipeline step for errors, logs and metrics.
type Stage string

const (
	StageRecognition Stage = "recognition"
	StageGeneration  Stage = "generation"
	StageSynthesis   Stage = "synthesis"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("invalid request")

// ValidationError rejects a request before any provider is called.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderError wraps a failed recognition, generation or synthesis call.
type ProviderError struct {
	Stage Stage
	Kind  reliability.Kind
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsQuota reports whether the provider signalled exhausted quota or billing.
func (e *ProviderError) IsQuota() bool { return e.Kind == reliability.KindQuota }

func newProviderError(stage Stage, err error) *ProviderError {
	kind := reliability.Classify(err)
	if kind == reliability.KindNone {
		kind = reliability.KindGeneric
	}
	return &ProviderError{Stage: stage, Kind: kind, Err: err}
}
