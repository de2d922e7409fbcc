package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/tuition/internal/billing"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/events"
	"github.com/dukerupert/tuition/internal/store"
	"github.com/rs/zerolog"
)

// AccountResolver resolves a billing account identifier to a provider client.
// provider.Registry implements it.
type AccountResolver interface {
	Resolve(accountID string) (billing.Provider, error)
}

// CreateInvoiceRequest is a validated request to invoice a student.
type CreateInvoiceRequest struct {
	OrganizationID string
	StudentID      string
	ParentID       string

	// Amount is a decimal major-unit amount, e.g. "25.00"
	Amount string

	Description string
	AccountID   string
}

// MapCustomerRequest is a validated manual mapping.
type MapCustomerRequest struct {
	OrganizationID string
	StudentID      string
	CustomerID     string
	AccountID      string

	// Verify retrieves the customer from the provider before writing.
	Verify bool
}

// BillingService is the entry point for the administrative billing operations.
type BillingService interface {
	// CreateInvoice resolves the student's customer in the account and runs the
	// invoice workflow. Either a finalized reference or an error is returned.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*domain.InvoiceReference, error)

	// MapCustomer upserts billingMap[account] = customer for the student.
	MapCustomer(ctx context.Context, req MapCustomerRequest) error

	// ListInvoices returns the student's invoice history, newest first.
	ListInvoices(ctx context.Context, organizationID, studentID string) ([]*domain.InvoiceHistoryEntry, error)

	// ListSubscriptions lists provider subscriptions of the student's customer
	// in the account.
	ListSubscriptions(ctx context.Context, organizationID, studentID, accountID string) ([]domain.SubscriptionSummary, error)
}

// BillingServiceConfig holds invoice defaults.
type BillingServiceConfig struct {
	Currency string
}

type billingService struct {
	accounts  AccountResolver
	store     store.Store
	resolver  *IdentityResolver
	workflow  *InvoiceWorkflow
	publisher events.Publisher
	currency  string
	now       func() time.Time
}

// NewBillingService creates a new BillingService instance.
func NewBillingService(
	accounts AccountResolver,
	st store.Store,
	resolver *IdentityResolver,
	workflow *InvoiceWorkflow,
	publisher events.Publisher,
	cfg BillingServiceConfig,
) BillingService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	return &billingService{
		accounts:  accounts,
		store:     st,
		resolver:  resolver,
		workflow:  workflow,
		publisher: publisher,
		currency:  cfg.Currency,
		now:       time.Now,
	}
}

func (s *billingService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*domain.InvoiceReference, error) {
	const op = "billing.create_invoice"

	// Rounding happens exactly once, here
	amount, err := domain.ParseAmount(op, req.Amount, s.currency)
	if err != nil {
		return nil, err
	}

	client, err := s.accounts.Resolve(req.AccountID)
	if err != nil {
		return nil, err
	}

	student, err := s.store.GetStudent(ctx, req.OrganizationID, req.StudentID)
	if err != nil {
		return nil, err
	}

	parentID := req.ParentID
	if parentID == "" {
		parentID = student.ParentID
	}
	parent, err := s.store.GetParent(ctx, req.OrganizationID, parentID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolver.ResolveCustomer(ctx, client, student, parent.Email, req.AccountID)
	if err != nil {
		return nil, withStudent(err, req.OrganizationID, req.StudentID, req.AccountID)
	}

	ref, err := s.workflow.CreateInvoice(ctx, client, InvoiceInput{
		CustomerID:       customerID,
		AccountID:        req.AccountID,
		AmountMinorUnits: amount,
		Currency:         s.currency,
		Description:      req.Description,
		Metadata: map[string]string{
			"organization_id": req.OrganizationID,
			"student_id":      req.StudentID,
			"billing_account": req.AccountID,
		},
	})
	if err != nil {
		return nil, withStudent(err, req.OrganizationID, req.StudentID, req.AccountID)
	}

	// The invoice is final at this point; history and events are best effort.
	s.recordFinalized(ctx, req, customerID, amount, ref)

	return ref, nil
}

func (s *billingService) recordFinalized(ctx context.Context, req CreateInvoiceRequest, customerID string, amount int64, ref *domain.InvoiceReference) {
	log := zerolog.Ctx(ctx).With().Str("invoice_id", ref.InvoiceID).Logger()
	now := s.now().UTC()

	// The caller may already be gone; the write must still happen.
	ctx = context.WithoutCancel(ctx)

	entry := &domain.InvoiceHistoryEntry{
		InvoiceID:        ref.InvoiceID,
		OrganizationID:   req.OrganizationID,
		StudentID:        req.StudentID,
		AccountID:        req.AccountID,
		CustomerID:       customerID,
		AmountMinorUnits: amount,
		Currency:         s.currency,
		Description:      req.Description,
		Status:           ref.Status,
		HostedInvoiceURL: ref.HostedInvoiceURL,
		CreatedAt:        now,
		StatusUpdatedAt:  now,
	}
	if err := s.store.RecordInvoice(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record invoice history")
	}

	if err := s.publisher.Publish(ctx, events.SubjectInvoiceFinalized, ref.InvoiceID, events.InvoiceFinalized{
		InvoiceID:        ref.InvoiceID,
		OrganizationID:   req.OrganizationID,
		StudentID:        req.StudentID,
		AccountID:        req.AccountID,
		CustomerID:       customerID,
		AmountMinorUnits: amount,
		Currency:         s.currency,
		HostedInvoiceURL: ref.HostedInvoiceURL,
		FinalizedAt:      now,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish invoice finalized event")
	}
}

func (s *billingService) MapCustomer(ctx context.Context, req MapCustomerRequest) error {
	const op = "billing.map_customer"

	client, err := s.accounts.Resolve(req.AccountID)
	if err != nil {
		return err
	}

	if req.Verify {
		if _, err := client.GetCustomer(ctx, req.CustomerID); err != nil {
			if errors.Is(err, billing.ErrCustomerNotFound) {
				return ErrCustomerNotFound
			}
			return withStudent(domain.ResolutionFailed(err, op, "Failed to verify billing customer"),
				req.OrganizationID, req.StudentID, req.AccountID)
		}
	}

	err = s.resolver.MapCustomer(ctx, req.OrganizationID, req.StudentID, req.AccountID, req.CustomerID)
	return withStudent(err, req.OrganizationID, req.StudentID, req.AccountID)
}

// withStudent prefixes err with the student and billing account it concerns.
// The kind and client message of a wrapped *domain.Error are unchanged.
func withStudent(err error, organizationID, studentID, accountID string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("student %s/%s, account %s: %w", organizationID, studentID, accountID, err)
}

func (s *billingService) ListInvoices(ctx context.Context, organizationID, studentID string) ([]*domain.InvoiceHistoryEntry, error) {
	// Surface NotFound for unknown students rather than an empty list
	if _, err := s.store.GetStudent(ctx, organizationID, studentID); err != nil {
		return nil, err
	}
	return s.store.ListInvoices(ctx, organizationID, studentID)
}

func (s *billingService) ListSubscriptions(ctx context.Context, organizationID, studentID, accountID string) ([]domain.SubscriptionSummary, error) {
	const op = "billing.list_subscriptions"

	client, err := s.accounts.Resolve(accountID)
	if err != nil {
		return nil, err
	}

	student, err := s.store.GetStudent(ctx, organizationID, studentID)
	if err != nil {
		return nil, err
	}
	customerID, ok := student.CustomerID(accountID)
	if !ok {
		return nil, ErrCustomerNotMapped
	}

	subs, err := client.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to list subscriptions")
	}

	out := make([]domain.SubscriptionSummary, 0, len(subs))
	for _, sub := range subs {
		out = append(out, domain.SubscriptionSummary{
			ID:                 sub.ID,
			Status:             sub.Status,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		})
	}
	return out, nil
}
