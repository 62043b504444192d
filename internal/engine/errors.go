package engine

import (
	"errors"
	"fmt"
)

var (
	ErrModelsNotLoaded     = errors.New("engine: models not loaded")
	ErrDuplicateStudentID  = errors.New("engine: student id already registered")
	ErrDuplicateEmail      = errors.New("engine: email already registered")
	ErrValidation          = errors.New("engine: registration data rejected")
	ErrInsufficientSamples = errors.New("engine: insufficient face samples")
	ErrNetwork             = errors.New("engine: worker unreachable")
)

// Wire error codes sent by the worker.
const (
	CodeModelsNotLoaded     = "models_not_loaded"
	CodeDuplicateStudentID  = "duplicate_student_id"
	CodeDuplicateEmail      = "duplicate_email"
	CodeValidation          = "validation_error"
	CodeInsufficientSamples = "insufficient_samples"
)

// RemoteError is an error reported by the worker process.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("engine: %s failed [%s]: %s", e.Op, e.Code, e.Message)
}

// Unwrap maps the wire code onto the package sentinels.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeModelsNotLoaded:
		return ErrModelsNotLoaded
	case CodeDuplicateStudentID:
		return ErrDuplicateStudentID
	case CodeDuplicateEmail:
		return ErrDuplicateEmail
	case CodeValidation:
		return ErrValidation
	case CodeInsufficientSamples:
		return ErrInsufficientSamples
	}
	return nil
}
