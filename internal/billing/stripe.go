package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	defaultMaxRetries     = 3
	defaultTimeoutSeconds = 30
)

// StripeProvider implements Provider using the Stripe API.
// A StripeProvider is bound to a single account's secret key.
type StripeProvider struct {
	client *stripe.Client
	config StripeConfig
}

// NewStripeProvider creates a Stripe billing provider for one account.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = defaultTimeoutSeconds
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: time.Duration(config.TimeoutSeconds) * time.Second},
		MaxNetworkRetries: stripe.Int64(int64(config.MaxRetries)),
		LeveledLogger:     stripeLogger{},
	}
	if config.BackendURL != "" {
		backendConfig.URL = stripe.String(config.BackendURL)
	}

	client := stripe.NewClient(config.APIKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendConfig)))

	return &StripeProvider{client: client, config: config}, nil
}

// SearchCustomersByEmail lists customers with the given email, newest first.
func (s *StripeProvider) SearchCustomersByEmail(ctx context.Context, email string, limit int) ([]*Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(int64(limit))

	customers := make([]*Customer, 0, limit)
	for c, err := range s.client.V1Customers.List(ctx, params) {
		if err != nil {
			return nil, wrapStripeError(err)
		}
		customers = append(customers, toCustomer(c))
		if len(customers) >= limit {
			break
		}
	}
	return customers, nil
}

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	p := &stripe.CustomerCreateParams{
		Email:    stripe.String(params.Email),
		Name:     stripe.String(params.Name),
		Metadata: params.Metadata,
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}

	c, err := s.client.V1Customers.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toCustomer(c), nil
}

// GetCustomer retrieves a Stripe customer. Deleted customers are reported as not found.
func (s *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	c, err := s.client.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		wrapped := wrapStripeError(err)
		var se *StripeError
		if errors.As(wrapped, &se) && se.IsNotFound() {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
		}
		return nil, wrapped
	}
	if c.Deleted {
		return nil, fmt.Errorf("%w: %s (deleted)", ErrCustomerNotFound, customerID)
	}
	return toCustomer(c), nil
}

// CreateDraftInvoice creates a send_invoice draft that Stripe will not auto-advance.
func (s *StripeProvider) CreateDraftInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	p := &stripe.InvoiceCreateParams{
		Customer:                    stripe.String(params.CustomerID),
		AutoAdvance:                 stripe.Bool(false),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		Currency:                    stripe.String(strings.ToLower(params.Currency)),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
		Metadata:                    params.Metadata,
	}
	if params.DaysUntilDue > 0 {
		p.DaysUntilDue = stripe.Int64(params.DaysUntilDue)
	}
	if params.Description != "" {
		p.Description = stripe.String(params.Description)
	}

	inv, err := s.client.V1Invoices.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

// CreateInvoiceItem creates a line item on the given draft invoice.
func (s *StripeProvider) CreateInvoiceItem(ctx context.Context, params CreateInvoiceItemParams) (*InvoiceItem, error) {
	// Stripe only allows either Amount OR Quantity, not both
	p := &stripe.InvoiceItemCreateParams{
		Customer:    stripe.String(params.CustomerID),
		Invoice:     stripe.String(params.InvoiceID),
		Amount:      stripe.Int64(params.AmountMinorUnits),
		Currency:    stripe.String(strings.ToLower(params.Currency)),
		Description: stripe.String(params.Description),
		Metadata:    params.Metadata,
	}

	item, err := s.client.V1InvoiceItems.Create(ctx, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	result := &InvoiceItem{
		ID:               item.ID,
		AmountMinorUnits: item.Amount,
		Currency:         string(item.Currency),
		Description:      item.Description,
	}
	if item.Invoice != nil {
		result.InvoiceID = item.Invoice.ID
	}
	return result, nil
}

// GetInvoice retrieves a Stripe invoice.
func (s *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, err := s.client.V1Invoices.Retrieve(ctx, invoiceID, nil)
	if err != nil {
		wrapped := wrapStripeError(err)
		var se *StripeError
		if errors.As(wrapped, &se) && se.IsNotFound() {
			return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
		}
		return nil, wrapped
	}
	return toInvoice(inv), nil
}

// FinalizeInvoice finalizes a draft without letting Stripe auto-advance collection.
func (s *StripeProvider) FinalizeInvoice(ctx context.Context, params FinalizeInvoiceParams) (*Invoice, error) {
	p := &stripe.InvoiceFinalizeInvoiceParams{
		AutoAdvance: stripe.Bool(false),
	}
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}

	inv, err := s.client.V1Invoices.FinalizeInvoice(ctx, params.InvoiceID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

// DeleteInvoice deletes a draft invoice.
func (s *StripeProvider) DeleteInvoice(ctx context.Context, invoiceID string) error {
	if _, err := s.client.V1Invoices.Delete(ctx, invoiceID, nil); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

// DeleteInvoiceItem deletes an invoice item.
func (s *StripeProvider) DeleteInvoiceItem(ctx context.Context, itemID string) error {
	if _, err := s.client.V1InvoiceItems.Delete(ctx, itemID, nil); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

// ListSubscriptions lists every subscription of a customer, including canceled ones.
func (s *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}

	var subs []*Subscription
	for sub, err := range s.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, wrapStripeError(err)
		}
		subs = append(subs, toSubscription(sub))
	}
	return subs, nil
}

// ConstructEvent verifies a Stripe webhook signature and decodes the event.
func (s *StripeProvider) ConstructEvent(payload []byte, signature string, secret string) (*Event, error) {
	return ConstructStripeEvent(payload, signature, secret)
}

// ConstructStripeEvent verifies and decodes a Stripe webhook payload. It needs no
// API client, only the account's signing secret.
func ConstructStripeEvent(payload []byte, signature string, secret string) (*Event, error) {
	if secret == "" || signature == "" {
		return nil, ErrInvalidWebhookSignature
	}

	// The account may be pinned to a different API version than this SDK
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	result := &Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}

	if strings.HasPrefix(result.Type, "invoice.") && event.Data != nil {
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("billing: decode invoice event %s: %w", event.ID, err)
		}
		result.Invoice = toInvoice(&inv)
	}

	return result, nil
}

func toCustomer(c *stripe.Customer) *Customer {
	return &Customer{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		Metadata:  c.Metadata,
		CreatedAt: time.Unix(c.Created, 0).UTC(),
	}
}

func toInvoice(inv *stripe.Invoice) *Invoice {
	result := &Invoice{
		ID:               inv.ID,
		Status:           string(inv.Status),
		Total:            inv.Total,
		Currency:         string(inv.Currency),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		Metadata:         inv.Metadata,
		CreatedAt:        time.Unix(inv.Created, 0).UTC(),
	}
	if inv.Customer != nil {
		result.CustomerID = inv.Customer.ID
	}
	return result
}

func toSubscription(sub *stripe.Subscription) *Subscription {
	result := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
		CreatedAt:         time.Unix(sub.Created, 0).UTC(),
	}
	if sub.Customer != nil {
		result.CustomerID = sub.Customer.ID
	}
	// Billing periods live on the items since API version 2025-03-31
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		result.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		result.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return result
}

// wrapStripeError converts a Stripe SDK error into a *StripeError.
func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &StripeError{Message: err.Error(), OriginalError: err}
	}

	se := &StripeError{
		Message:       stripeErr.Msg,
		Code:          string(stripeErr.Code),
		Type:          string(stripeErr.Type),
		HTTPStatus:    stripeErr.HTTPStatusCode,
		RequestID:     stripeErr.RequestID,
		OriginalError: err,
	}
	if se.Type == "idempotency_error" {
		return fmt.Errorf("%w: %w", ErrIdempotencyConflict, se)
	}
	return se
}

// stripeLogger routes the SDK's leveled logging through the global zerolog logger.
type stripeLogger struct{}

func (stripeLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

// Infof is demoted to debug; the SDK logs every request at info.
func (stripeLogger) Infof(format string, v ...interface{}) {
	log.Debug().Str("component", "stripe").Msgf(format, v...)
}

func (stripeLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "stripe").Msgf(format, v...)
}

func (stripeLogger) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "stripe").Msgf(format, v...)
}
