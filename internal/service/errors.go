package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"voice-planner/internal/repository"
)

var (
	ErrNotFound          = repository.ErrNotFound
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPassInProgress    = errors.New("reminder pass already in progress")
	ErrNoDeviceTokens    = errors.New("no device tokens registered")
	ErrSuppressed        = errors.New("notification suppressed by cooldown")
)

// ErrMuted wraps ErrSuppressed so callers treat a muted kind like a held-back one.
var ErrMuted = fmt.Errorf("%w: kind disabled in user preferences", ErrSuppressed)

// ValidationError carries field-level problems with caller input.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

func (e *ValidationError) Add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = reason
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// orNil returns nil when no field failed.
func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
