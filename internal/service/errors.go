package service

import (
	"errors"
	"fmt"

	"github.com/hirpha/mini-chat-backend/internal/auth"
	"gorm.io/gorm"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrStore      = errors.New("store failure")

	ErrStorageNotConfigured = errors.New("storage not configured")

	ErrInvalidOTP          = fmt.Errorf("%w: invalid or expired code", ErrValidation)
	ErrTooManyAttempts     = fmt.Errorf("%w: too many attempts", ErrValidation)
	ErrInvalidRefreshToken = fmt.Errorf("%w: refresh token", auth.ErrInvalidCredential)
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// storeError classifies a repository error; a missing row becomes ErrNotFound.
func storeError(op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func forbiddenError(detail string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, detail)
}
