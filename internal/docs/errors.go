package docs

import (
	"errors"
	"strings"
)

var (
	ErrNotFound         = errors.New("docs: not found")
	ErrPermissionDenied = errors.New("docs: permission denied")
	ErrValidation       = errors.New("docs: validation failed")
	ErrConflict         = errors.New("docs: conflict")
)

// FieldIssue names one invalid field.
type FieldIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// ValidationError matches ErrValidation and lists every failing field.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Field + ": " + is.Issue
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, issue string) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Issue: issue})
}

func (e *ValidationError) err() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

func invalid(field, issue string) error {
	return &ValidationError{Issues: []FieldIssue{{Field: field, Issue: issue}}}
}

// Issue strings.
const (
	IssueRequired = "required"
	IssueTooLong  = "too_long"
	IssueUnknown  = "unknown"
	IssueInvalid  = "invalid"
	IssueTooMany  = "too_many"
)
