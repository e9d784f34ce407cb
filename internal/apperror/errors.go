package apperror

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"gorm.io/gorm"
)

// Error taxonomy shared by the repository, service and handler layers.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrNotMember       = errors.New("not a member of this chat")
	ErrForbidden       = errors.New("operation not permitted")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflicting concurrent update")
	ErrUnavailable     = errors.New("service temporarily unavailable")
)

// FieldError reports a validation failure on a single input field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidArgument) match field errors.
func (e *FieldError) Unwrap() error {
	return ErrInvalidArgument
}

// Invalid builds a FieldError.
func Invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// ErrInvalidReply is returned when a reply target is missing or belongs to another chat.
var ErrInvalidReply = Invalid("replyToId", "must reference a message in the same chat")

// IsHidden reports whether err should be surfaced as a generic not-found response.
func IsHidden(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotMember) || errors.Is(err, ErrForbidden)
}

// FromStorage classifies an error returned by gorm or the database driver.
func FromStorage(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotMember), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrConflict), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return err
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
