package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wordgate/apiserver/internal/store"
)

var (
	ErrDuplicateEmail     = errors.New("email address is already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrQuotaExceeded      = errors.New("word quota exceeded")
	ErrUpstream           = errors.New("rewrite service unavailable")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrValidation         = errors.New("validation failed")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// QuotaExceededError is returned when a consumption does not fit the remaining quota.
type QuotaExceededError struct {
	Remaining int64
	Requested int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("word quota exceeded: requested %d, remaining %d", e.Requested, e.Remaining)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// storageError passes not-found and duplicate errors through and marks
// every other repository failure as ErrStorageUnavailable.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicate) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// checkID rejects malformed account ids before they reach storage.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return invalid("id", "is not a valid id")
	}
	return nil
}
