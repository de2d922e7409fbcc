package billing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidAPIKey is returned when the Stripe API key is invalid or missing.
	ErrInvalidAPIKey = errors.New("billing: invalid or missing API key")

	// ErrInvalidWebhookSignature is returned when webhook signature verification fails.
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrIdempotencyConflict is returned when idempotency key matches a different request.
	ErrIdempotencyConflict = errors.New("billing: idempotency key conflict")

	// ErrCustomerNotFound is returned when a customer does not exist or was deleted.
	ErrCustomerNotFound = errors.New("billing: customer not found")

	// ErrInvoiceNotFound is returned when an invoice does not exist.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
)

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "resource_missing")
	Type          string // Stripe error type (e.g., "invalid_request_error")
	HTTPStatus    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsNotFound returns true if the requested object does not exist.
func (e *StripeError) IsNotFound() bool {
	return e.Code == "resource_missing" || e.HTTPStatus == http.StatusNotFound
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	return e.Code == "rate_limit" ||
		e.Type == "api_error" ||
		e.HTTPStatus == http.StatusTooManyRequests ||
		e.HTTPStatus >= http.StatusInternalServerError
}

// IsTemporary reports whether err is a provider error worth retrying.
func IsTemporary(err error) bool {
	var se *StripeError
	return errors.As(err, &se) && se.IsTemporary()
}
