package provider

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/dukerupert/tuition/internal/billing"
	"github.com/dukerupert/tuition/internal/domain"
)

// Registry maps billing account identifiers to provider clients.
//
// It is built once at startup from configuration and injected into the services
// that need it. Each account gets its own client bound to its own credential;
// clients are never shared across accounts. Clients are created on first use and
// cached, which only saves re-validating the credential.
type Registry struct {
	accounts map[string]AccountConfig
	factory  ProviderFactory

	// cache stores billing.Provider instances keyed by account ID
	cache sync.Map
	mu    sync.Mutex
}

// NewRegistry creates a registry over the given accounts.
// It rejects duplicate or malformed identifiers but does not check credentials;
// call Validate for that.
func NewRegistry(accounts []AccountConfig, factory ProviderFactory) (*Registry, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	r := &Registry{
		accounts: make(map[string]AccountConfig, len(accounts)),
		factory:  factory,
	}
	for _, a := range accounts {
		a.ID = strings.TrimSpace(a.ID)
		if !IsValidAccountID(a.ID) {
			return nil, ErrValidationFailed(a.ID, []string{"invalid account id"})
		}
		if _, dup := r.accounts[a.ID]; dup {
			return nil, ErrDuplicateAccount(a.ID)
		}
		r.accounts[a.ID] = a
	}
	return r, nil
}

// Validate checks every configured account and returns all problems joined.
// Used at startup to fail fast on configuration errors.
func (r *Registry) Validate(validator ProviderValidator) error {
	var errs []error
	for _, id := range r.Accounts() {
		cfg := r.accounts[id]
		if strings.TrimSpace(cfg.APIKey) == "" {
			errs = append(errs, domain.MissingCredential("registry.validate", id))
			continue
		}
		if validator != nil {
			if res := validator.ValidateAccount(&cfg); !res.Valid {
				errs = append(errs, ErrValidationFailed(id, res.Errors))
			}
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the provider client bound to accountID.
func (r *Registry) Resolve(accountID string) (billing.Provider, error) {
	const op = "registry.resolve"

	cfg, ok := r.accounts[accountID]
	if !ok {
		return nil, domain.UnknownAccount(op, accountID)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.MissingCredential(op, accountID)
	}

	if cached, ok := r.cache.Load(accountID); ok {
		return cached.(billing.Provider), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache.Load(accountID); ok {
		return cached.(billing.Provider), nil
	}

	p, err := r.factory.CreateBillingProvider(&cfg)
	if err != nil {
		return nil, domain.WrapError(err, domain.EMISSINGCREDENTIAL, op,
			"billing account \""+accountID+"\" has an invalid credential")
	}
	r.cache.Store(accountID, p)
	return p, nil
}

// WebhookSecret returns the webhook signing secret for accountID.
func (r *Registry) WebhookSecret(accountID string) (string, error) {
	const op = "registry.webhook_secret"

	cfg, ok := r.accounts[accountID]
	if !ok {
		return "", domain.UnknownAccount(op, accountID)
	}
	if cfg.WebhookSecret == "" {
		return "", domain.MissingCredential(op, accountID)
	}
	return cfg.WebhookSecret, nil
}

// Has reports whether accountID is registered.
func (r *Registry) Has(accountID string) bool {
	_, ok := r.accounts[accountID]
	return ok
}

// Accounts returns the configured account identifiers, sorted.
func (r *Registry) Accounts() []string {
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe returns a secret-free summary of every configured account.
func (r *Registry) Describe() []AccountSummary {
	ids := r.Accounts()
	out := make([]AccountSummary, 0, len(ids))
	for _, id := range ids {
		cfg := r.accounts[id]
		mode := "live"
		if strings.Contains(cfg.APIKey, "_test_") {
			mode = "test"
		}
		out = append(out, AccountSummary{
			ID:               id,
			Provider:         cfg.provider(),
			Mode:             mode,
			APIKey:           maskSecret(cfg.APIKey),
			HasWebhookSecret: cfg.WebhookSecret != "",
		})
	}
	return out
}

// InvalidateCache drops the cached client for accountID.
func (r *Registry) InvalidateCache(accountID string) {
	r.cache.Delete(accountID)
}
