package provider

import (
	"github.com/dukerupert/tuition/internal/billing"
)

// ProviderFactory creates provider instances from configuration.
// The factory pattern lets the registry create clients without knowing about
// the concrete implementations.
type ProviderFactory interface {
	// CreateBillingProvider creates a billing provider bound to one account.
	// Returns an error if the provider name is unknown or configuration is invalid.
	CreateBillingProvider(config *AccountConfig) (billing.Provider, error)
}

// FactoryFunc adapts a function to ProviderFactory.
type FactoryFunc func(config *AccountConfig) (billing.Provider, error)

// CreateBillingProvider calls f(config).
func (f FactoryFunc) CreateBillingProvider(config *AccountConfig) (billing.Provider, error) {
	return f(config)
}

// DefaultFactory implements ProviderFactory using constructor functions for each provider.
type DefaultFactory struct {
	validator ProviderValidator
}

// NewDefaultFactory creates a provider factory with configuration validation.
// Returns an error if validator is nil.
func NewDefaultFactory(validator ProviderValidator) (*DefaultFactory, error) {
	if validator == nil {
		return nil, ErrNilValidator
	}
	return &DefaultFactory{
		validator: validator,
	}, nil
}

// MustNewDefaultFactory creates a provider factory with configuration validation.
// Panics if validator is nil. Use only during application initialization.
func MustNewDefaultFactory(validator ProviderValidator) *DefaultFactory {
	factory, err := NewDefaultFactory(validator)
	if err != nil {
		panic(err)
	}
	return factory
}

// CreateBillingProvider creates a billing provider based on the provider name in config.
func (f *DefaultFactory) CreateBillingProvider(config *AccountConfig) (billing.Provider, error) {
	if config == nil {
		return nil, ErrNilConfig
	}

	result := f.validator.ValidateAccount(config)
	if !result.Valid {
		return nil, ErrValidationFailed(config.ID, result.Errors)
	}

	switch config.provider() {
	case ProviderNameStripe:
		return billing.NewStripeProvider(billing.StripeConfig{
			APIKey:         config.APIKey,
			MaxRetries:     config.MaxRetries,
			TimeoutSeconds: config.TimeoutSeconds,
			BackendURL:     config.BackendURL,
		})

	default:
		return nil, ErrUnknownProvider(config.Provider)
	}
}
