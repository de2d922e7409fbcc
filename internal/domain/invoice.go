package domain

import "time"

// Provider invoice statuses this service observes.
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusUncollectible = "uncollectible"
	InvoiceStatusVoid          = "void"
)

// InvoiceReference is returned to the caller after an invoice has been finalized.
// A reference is only ever returned for a fully finalized invoice.
type InvoiceReference struct {
	InvoiceID        string `json:"invoiceId"`
	Status           string `json:"status"`
	HostedInvoiceURL string `json:"hostedInvoiceUrl"`
}

// InvoiceHistoryEntry is the append-only local record of a finalized invoice,
// keyed by the provider invoice id. Status is merged later by billing events.
type InvoiceHistoryEntry struct {
	InvoiceID        string    `json:"invoiceId" firestore:"-"`
	OrganizationID   string    `json:"organizationId" firestore:"organizationId"`
	StudentID        string    `json:"studentId" firestore:"studentId"`
	AccountID        string    `json:"accountId" firestore:"accountId"`
	CustomerID       string    `json:"customerId" firestore:"customerId"`
	AmountMinorUnits int64     `json:"amountMinorUnits" firestore:"amountMinorUnits"`
	Currency         string    `json:"currency" firestore:"currency"`
	Description      string    `json:"description" firestore:"description"`
	Status           string    `json:"status" firestore:"status"`
	HostedInvoiceURL string    `json:"hostedInvoiceUrl,omitempty" firestore:"hostedInvoiceUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt" firestore:"createdAt"`
	StatusUpdatedAt  time.Time `json:"statusUpdatedAt" firestore:"statusUpdatedAt"`
}

// InvoiceStatusUpdate is a status change reported by the billing provider.
// EventAt orders updates; an update older than the stored one is ignored.
type InvoiceStatusUpdate struct {
	InvoiceID string
	Status    string
	EventAt   time.Time
}

// SubscriptionSummary is the subset of a provider subscription exposed by the API.
type SubscriptionSummary struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool      `json:"cancelAtPeriodEnd"`
}
