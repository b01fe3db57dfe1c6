package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrListingNotFound    = errors.New("listing not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrReviewNotFound     = errors.New("review not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrEmailExists        = errors.New("email already in use by another account")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNothingToUpdate    = errors.New("no fields to update")
	ErrValidation         = errors.New("validation failed")
)

// ValidationError reports the first field that failed validation.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Rule)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs struct tag validation before anything reaches the database.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		return &ValidationError{Field: toSnake(fe.Field()), Rule: rule}
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
