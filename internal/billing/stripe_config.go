package billing

import (
	"errors"
	"strings"
)

// StripeConfig contains configuration for one Stripe billing account.
type StripeConfig struct {
	// APIKey is the Stripe secret key (sk_test_..., sk_live_... or rk_...)
	APIKey string

	// MaxRetries is the maximum number of retries for transient failures
	// Default: 3
	MaxRetries int

	// TimeoutSeconds is the HTTP timeout for Stripe API calls in seconds
	// Default: 30
	TimeoutSeconds int

	// BackendURL overrides the Stripe API base URL (stripe-mock, tests).
	BackendURL string
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("stripe: max retries must not be negative")
	}
	if c.TimeoutSeconds < 0 {
		return errors.New("stripe: timeout must not be negative")
	}
	return nil
}

// IsTestMode returns true if using test mode API keys.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_") || strings.HasPrefix(c.APIKey, "rk_test_")
}
