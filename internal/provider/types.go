package provider

import (
	"regexp"
)

// ProviderName represents specific billing provider implementations.
type ProviderName string

const (
	// ProviderNameStripe is the Stripe billing provider.
	ProviderNameStripe ProviderName = "stripe"
)

// AccountConfig is the configuration for one named billing account.
// The set of accounts is small, static, and loaded once at process start.
type AccountConfig struct {
	// ID is the billing account identifier callers use, e.g. "org-a".
	ID string `mapstructure:"id"`

	// Provider selects the implementation. Defaults to stripe.
	Provider ProviderName `mapstructure:"provider"`

	// APIKey is the provider secret key for this account.
	APIKey string `mapstructure:"api_key"`

	// WebhookSecret is the signing secret for this account's webhook endpoint.
	WebhookSecret string `mapstructure:"webhook_secret"`

	MaxRetries     int    `mapstructure:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BackendURL     string `mapstructure:"backend_url"`
}

// AccountSummary describes a configured account without exposing secrets.
type AccountSummary struct {
	ID               string       `json:"id"`
	Provider         ProviderName `json:"provider"`
	Mode             string       `json:"mode"` // "test" or "live"
	APIKey           string       `json:"apiKey"`
	HasWebhookSecret bool         `json:"hasWebhookSecret"`
}

// ValidationResult represents the outcome of validating provider configuration.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// AddError adds an error message to the validation result.
func (v *ValidationResult) AddError(err string) {
	v.Valid = false
	v.Errors = append(v.Errors, err)
}

var accountIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// IsValidAccountID reports whether id is usable as a billing account identifier.
// Identifiers appear in URLs, metadata, and environment variable names.
func IsValidAccountID(id string) bool {
	return accountIDPattern.MatchString(id)
}

// maskSecret keeps the key prefix and the last four characters.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 12 {
		return "****"
	}
	prefix := secret[:8]
	return prefix + "****" + secret[len(secret)-4:]
}
