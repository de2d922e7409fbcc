package provider

import (
	"strings"
)

// ProviderValidator validates billing account configuration before a client is created.
// Validation happens at two points:
// 1. At startup, when the registry is validated as a whole
// 2. Before creating a provider instance (in the factory)
type ProviderValidator interface {
	// ValidateAccount validates one billing account configuration.
	// Returns ValidationResult with any configuration errors.
	ValidateAccount(config *AccountConfig) *ValidationResult
}

// DefaultValidator implements ProviderValidator with provider-specific validation rules.
type DefaultValidator struct {
	// RequireWebhookSecret makes a missing webhook secret a validation error.
	RequireWebhookSecret bool
}

// NewDefaultValidator creates a provider configuration validator.
func NewDefaultValidator() *DefaultValidator {
	return &DefaultValidator{}
}

// ValidateAccount validates billing account configuration.
func (v *DefaultValidator) ValidateAccount(config *AccountConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if config == nil {
		result.AddError("config cannot be nil")
		return result
	}

	if !IsValidAccountID(config.ID) {
		result.AddError("account id must be lowercase letters, digits, '-' or '_': " + config.ID)
	}

	switch config.provider() {
	case ProviderNameStripe:
		// sk_ = secret key, rk_ = restricted key
		requirePrefixes("api_key", config.APIKey, []string{"sk_", "rk_"}, result)
		if config.WebhookSecret != "" || v.RequireWebhookSecret {
			requirePrefixes("webhook_secret", config.WebhookSecret, []string{"whsec_"}, result)
		}
	default:
		result.AddError("unknown billing provider: " + string(config.Provider))
	}

	if config.MaxRetries < 0 || config.MaxRetries > 10 {
		result.AddError("max_retries must be between 0 and 10")
	}
	if config.TimeoutSeconds < 0 || config.TimeoutSeconds > 300 {
		result.AddError("timeout_seconds must be between 0 and 300")
	}

	return result
}

// provider returns the configured provider name, defaulting to stripe.
func (c *AccountConfig) provider() ProviderName {
	if c.Provider == "" {
		return ProviderNameStripe
	}
	return c.Provider
}

// requirePrefixes validates that value is present and starts with one of prefixes.
func requirePrefixes(key, value string, prefixes []string, result *ValidationResult) {
	if strings.TrimSpace(value) == "" {
		result.AddError(key + " is required")
		return
	}
	for _, p := range prefixes {
		if strings.HasPrefix(value, p) {
			return
		}
	}
	result.AddError(key + " must start with " + strings.Join(prefixes, " or "))
}
