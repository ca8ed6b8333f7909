package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/kindred/internal/index"
	"github.com/kalambet/kindred/internal/profile"
)

// Error kinds surfaced by the service. Match them with errors.Is.
var (
	// ErrInvalidProfile means the profile failed validation. Not retryable.
	ErrInvalidProfile = profile.ErrInvalid

	// ErrEmbeddingUnavailable means no vector could be produced.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexUnavailable means an upsert, read or search on the vector index failed.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrStorageUnavailable means the raw answers could not be recorded.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotIndexed means the requested id has no index entry.
	ErrNotIndexed = errors.New("profile not indexed")
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageRecord   Stage = "record"
	StageEmbed    Stage = "embed"
	StageUpsert   Stage = "upsert"
	StageLookup   Stage = "lookup"
	StageSearch   Stage = "search"
	StageRemove   Stage = "remove"
)

// Error reports which stage failed, the kind of failure and its cause.
// errors.Is matches both Kind and anything in the Err chain.
type Error struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("match: %s: %v", e.Stage, e.Kind)
	}
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("match: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("match: %s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the same call may succeed later. Invalid input
// and configuration problems such as a dimension mismatch are permanent.
func (e *Error) Retryable() bool {
	switch {
	case errors.Is(e.Kind, ErrInvalidProfile), errors.Is(e.Kind, ErrNotIndexed):
		return false
	case errors.Is(e.Err, index.ErrDimensionMismatch), errors.Is(e.Err, index.ErrInvalidArgument):
		return false
	case errors.Is(e.Err, context.Canceled):
		return false
	}
	return true
}

// Retryable reports whether err is a retryable *Error.
func Retryable(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Retryable()
	}
	return false
}

// StageOf returns the failed stage, or "" when err did not come from the service.
func StageOf(err error) Stage {
	var me *Error
	if errors.As(err, &me) {
		return me.Stage
	}
	return ""
}

func stageErr(stage Stage, kind, err error) error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}
