// Package enroll runs guided multi-pose face enrollment.
package enroll

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/orion-faceid/internal/engine"
)

var (
	namePattern      = regexp.MustCompile(`^\p{L}[\p{L} .'\-]{1,99}$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9\-]{3,20}$`)
)

// Form is the enrollment form data.
type Form struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	StudentID string `json:"student_id"`
}

// ValidationError names the first rule a form violated.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("enroll: invalid %s: %s", e.Field, e.Rule)
}

// Unwrap lets errors.Is match engine.ErrValidation.
func (e *ValidationError) Unwrap() error { return engine.ErrValidation }

// Normalize trims every field and lowercases the email.
func (f Form) Normalize() Form {
	return Form{
		Name:      strings.Join(strings.Fields(f.Name), " "),
		Email:     strings.ToLower(strings.TrimSpace(f.Email)),
		StudentID: strings.TrimSpace(f.StudentID),
	}
}

// Validate checks the normalized form and returns the first violation.
func (f Form) Validate() error {
	n := f.Normalize()
	switch {
	case n.Name == "":
		return &ValidationError{Field: "name", Rule: "required"}
	case !namePattern.MatchString(n.Name):
		return &ValidationError{Field: "name", Rule: "must be 2-100 letters"}
	case n.Email == "":
		return &ValidationError{Field: "email", Rule: "required"}
	case !emailPattern.MatchString(n.Email):
		return &ValidationError{Field: "email", Rule: "must be a valid address"}
	case n.StudentID == "":
		return &ValidationError{Field: "student_id", Rule: "required"}
	case !studentIDPattern.MatchString(n.StudentID):
		return &ValidationError{Field: "student_id", Rule: "must be 3-20 letters, digits or dashes"}
	}
	return nil
}

// Enrollee converts the normalized form for the engine.
func (f Form) Enrollee() engine.Enrollee {
	n := f.Normalize()
	return engine.Enrollee{Name: n.Name, Email: n.Email, StudentID: n.StudentID}
}

// Empty reports whether every field is blank.
func (f Form) Empty() bool {
	return f.Normalize() == Form{}
}
