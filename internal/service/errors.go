// Package service provides business logic for the application.
package service

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrForbidden          = errors.New("insufficient privileges")
	ErrCannotDeleteSelf   = errors.New("cannot delete your own account")
	ErrEmptyUpdate        = errors.New("no fields to update")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
