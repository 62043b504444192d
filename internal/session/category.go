// Package session coordinates enrollment and login sessions: mode
// selection, the cancellation token, and guaranteed camera release.
package session

import (
	"context"
	"errors"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/enroll"
	"github.com/e7canasta/orion-faceid/internal/login"
)

// Category is the user-facing error class of a failed session.
type Category string

const (
	CategoryModelsNotLoaded         Category = "models_not_loaded"
	CategoryCameraPermissionDenied  Category = "camera_permission_denied"
	CategoryCameraUnavailable       Category = "camera_unavailable"
	CategoryPoseTimeout             Category = "pose_timeout"
	CategoryValidation              Category = "validation_error"
	CategoryDuplicateStudentID      Category = "duplicate_student_id"
	CategoryDuplicateEmail          Category = "duplicate_email"
	CategoryInsufficientSamples     Category = "insufficient_samples"
	CategoryAuthenticationExhausted Category = "authentication_exhausted"
	CategoryNetwork                 Category = "network_error"
	CategoryCancelled               Category = "cancelled"
)

// Classify maps an error onto its category. Unknown errors are treated
// as engine communication failures.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capture.ErrCancelled), errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, engine.ErrModelsNotLoaded):
		return CategoryModelsNotLoaded
	case errors.Is(err, camera.ErrPermissionDenied):
		return CategoryCameraPermissionDenied
	case errors.Is(err, camera.ErrDeviceUnavailable),
		errors.Is(err, camera.ErrSinkNotReady),
		errors.Is(err, camera.ErrAlreadyOpen):
		return CategoryCameraUnavailable
	case errors.Is(err, engine.ErrDuplicateStudentID):
		return CategoryDuplicateStudentID
	case errors.Is(err, engine.ErrDuplicateEmail):
		return CategoryDuplicateEmail
	case errors.Is(err, engine.ErrValidation):
		return CategoryValidation
	case errors.Is(err, engine.ErrInsufficientSamples):
		return CategoryInsufficientSamples
	case errors.Is(err, login.ErrExhausted):
		return CategoryAuthenticationExhausted
	default:
		return CategoryNetwork
	}
}

// Message returns the display text for a failure. It never exposes the
// raw error, except for the rule a form violated.
func Message(cat Category, err error) string {
	switch cat {
	case CategoryModelsNotLoaded:
		return "Face recognition models are not loaded. Restart the service and try again"
	case CategoryCameraPermissionDenied:
		return "Camera access was denied. Allow camera access and try again"
	case CategoryCameraUnavailable:
		return "No camera is available. Check that it is connected and not in use"
	case CategoryPoseTimeout:
		return "Some poses could not be confirmed; recognition may be less accurate"
	case CategoryValidation:
		var verr *enroll.ValidationError
		if errors.As(err, &verr) {
			return "Invalid " + verr.Field + ": " + verr.Rule
		}
		return "The registration data is invalid"
	case CategoryDuplicateStudentID:
		return "This student ID is already registered"
	case CategoryDuplicateEmail:
		return "This email is already registered"
	case CategoryInsufficientSamples:
		return "Not enough good face samples were captured. Restart enrollment in better light"
	case CategoryAuthenticationExhausted:
		var ex *login.ExhaustedError
		if errors.As(err, &ex) {
			return ex.Message()
		}
		return "Face not recognized. Try again"
	case CategoryCancelled:
		return "Session cancelled"
	default:
		return "The recognition service is unreachable. Try again shortly"
	}
}
