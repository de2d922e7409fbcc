package provider

import "fmt"

// ============================================================================
// PROVIDER ERROR CODES
// ============================================================================
// Factory and validation errors carry their own codes; account resolution
// errors use the domain billing kinds directly.

const (
	codeInvalid = "invalid"
)

// ============================================================================
// PROVIDER ERROR TYPE
// ============================================================================

// ProviderError represents a provider-specific error with a code and message.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// ErrorCode returns the error code for HTTP status mapping.
func (e *ProviderError) ErrorCode() string {
	return e.Code
}

// ErrorMessage returns the user-facing message.
func (e *ProviderError) ErrorMessage() string {
	return e.Message
}

// newProviderError creates a new provider error.
func newProviderError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

// ============================================================================
// PROVIDER DOMAIN ERRORS
// ============================================================================

var (
	// ErrNilValidator is returned when a nil validator is passed to NewDefaultFactory.
	ErrNilValidator = newProviderError(codeInvalid, "validator cannot be nil")

	// ErrNilFactory is returned when a nil factory is passed to NewRegistry.
	ErrNilFactory = newProviderError(codeInvalid, "factory cannot be nil")

	// ErrNilConfig is returned when a nil config is passed to factory methods.
	ErrNilConfig = newProviderError(codeInvalid, "config cannot be nil")
)

// ErrValidationFailed creates an error for config validation failures.
func ErrValidationFailed(accountID string, errors []string) error {
	return &ProviderError{
		Code:    codeInvalid,
		Message: fmt.Sprintf("billing account %q config validation failed: %v", accountID, errors),
	}
}

// ErrUnknownProvider creates an error for unknown provider names.
func ErrUnknownProvider(name ProviderName) error {
	return &ProviderError{
		Code:    codeInvalid,
		Message: fmt.Sprintf("unknown billing provider: %s", name),
	}
}

// ErrDuplicateAccount creates an error when an account identifier is configured twice.
func ErrDuplicateAccount(accountID string) error {
	return &ProviderError{
		Code:    codeInvalid,
		Message: fmt.Sprintf("billing account %q configured more than once", accountID),
	}
}
