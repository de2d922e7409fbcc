package billing

import (
	"context"
	"time"
)

// Provider defines the billing operations this service needs from a payment
// processor. One Provider is bound to exactly one billing account credential.
type Provider interface {
	// SearchCustomersByEmail returns at most limit customers whose email matches.
	// An empty result is not an error.
	SearchCustomersByEmail(ctx context.Context, email string, limit int) ([]*Customer, error)

	// CreateCustomer creates a customer record. IdempotencyKey, when set, makes
	// retries of the same logical create return the same customer.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomer retrieves an existing customer.
	// Returns ErrCustomerNotFound if the customer does not exist or was deleted.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// CreateDraftInvoice creates an invoice that stays in draft until finalized.
	CreateDraftInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)

	// CreateInvoiceItem creates a line item attached to the given draft invoice.
	CreateInvoiceItem(ctx context.Context, params CreateInvoiceItemParams) (*InvoiceItem, error)

	// GetInvoice retrieves an invoice with its current computed total.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// FinalizeInvoice moves a draft invoice to open.
	FinalizeInvoice(ctx context.Context, params FinalizeInvoiceParams) (*Invoice, error)

	// DeleteInvoice deletes a draft invoice.
	DeleteInvoice(ctx context.Context, invoiceID string) error

	// DeleteInvoiceItem deletes a line item that is still on a draft invoice.
	DeleteInvoiceItem(ctx context.Context, itemID string) error

	// ListSubscriptions lists all subscriptions of a customer, in any status.
	ListSubscriptions(ctx context.Context, customerID string) ([]*Subscription, error)

	// ConstructEvent verifies a webhook payload against its signature header and
	// the account's signing secret, then decodes it.
	// Returns ErrInvalidWebhookSignature if verification fails.
	ConstructEvent(payload []byte, signature string, secret string) (*Event, error)
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

// Customer represents a billing customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// CreateInvoiceParams contains parameters for creating a draft invoice.
type CreateInvoiceParams struct {
	CustomerID string

	// Currency code (ISO 4217 lowercase), e.g. "usd"
	Currency string

	Description string

	// DaysUntilDue sets the due date for send_invoice collection.
	DaysUntilDue int64

	// Metadata is copied onto the invoice for manual reconciliation
	// (organization_id, student_id, billing_account).
	Metadata map[string]string
}

// CreateInvoiceItemParams contains parameters for creating an invoice line item.
type CreateInvoiceItemParams struct {
	CustomerID string

	// InvoiceID is the draft the item is attached to. Always set explicitly so the
	// item never lands on some other pending invoice.
	InvoiceID string

	// AmountMinorUnits is the amount in smallest currency unit (cents for USD)
	AmountMinorUnits int64

	Currency    string
	Description string
	Metadata    map[string]string
}

// InvoiceItem represents a line item on an invoice.
type InvoiceItem struct {
	ID               string
	InvoiceID        string
	AmountMinorUnits int64
	Currency         string
	Description      string
}

// FinalizeInvoiceParams contains parameters for finalizing a draft invoice.
type FinalizeInvoiceParams struct {
	InvoiceID string

	// IdempotencyKey prevents a retried finalize from double-finalizing the draft.
	IdempotencyKey string
}

// Invoice represents a billing provider invoice.
type Invoice struct {
	ID               string
	CustomerID       string
	Status           string // "draft", "open", "paid", "uncollectible", "void"
	Total            int64
	Currency         string
	HostedInvoiceURL string
	Metadata         map[string]string
	CreatedAt        time.Time
}

// Subscription represents a recurring subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string // "active", "past_due", "canceled", "incomplete", etc.
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
	CreatedAt          time.Time
}

// Event is a verified webhook event. Invoice is set for invoice.* events.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Invoice *Invoice
}
