package vmconfig

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShape is returned when a value is malformed before any defaulting:
	// a missing required field, a wrong JSON type or an unknown enum variant.
	ErrShape = errors.New("malformed configuration")

	// ErrInvalidTarget is returned when a Target cannot bound a configuration.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrUnknownFamily is returned for a device family name that does not exist.
	ErrUnknownFamily = errors.New("unknown device family")
)

// ShapeError describes one malformed field.
type ShapeError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ShapeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ShapeError) Unwrap() error {
	return ErrShape
}

// ShapeErrors collects every malformed field found in one value.
type ShapeErrors []*ShapeError

func (e ShapeErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s", ErrShape, strings.Join(msgs, "; "))
}

func (e ShapeErrors) Unwrap() error {
	return ErrShape
}

func required(field string) *ShapeError {
	return &ShapeError{Field: field, Message: "required field is missing"}
}
