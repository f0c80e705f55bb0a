package domain

import "errors"

var (
	ErrInstallmentAlreadyPaid = errors.New("installment is already paid")
	ErrInstallmentNotFound    = errors.New("installment not found in debt title")
)

// ValidationError reports caller input that cannot form a valid value.
// The offending object is never created when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err (or anything it wraps) is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
