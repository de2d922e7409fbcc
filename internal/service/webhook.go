package service

import (
	"context"
	"strings"
	"time"

	"github.com/dukerupert/tuition/internal/billing"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/events"
	"github.com/dukerupert/tuition/internal/store"
	"github.com/dukerupert/tuition/internal/telemetry"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const defaultDedupeSize = 4096

// WebhookAccounts resolves clients and signing secrets per billing account.
// provider.Registry implements it.
type WebhookAccounts interface {
	AccountResolver
	WebhookSecret(accountID string) (string, error)
}

// WebhookOutcome describes what a delivered event did.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookStale     WebhookOutcome = "stale"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// WebhookService consumes billing-provider invoice events.
type WebhookService interface {
	// HandleInvoiceEvent verifies payload against the account's secret, then
	// merges the invoice status into history keyed by invoice id. Nothing is
	// written unless the signature verifies. Safe to call repeatedly with the
	// same delivery.
	HandleInvoiceEvent(ctx context.Context, accountID string, payload []byte, signature string) (WebhookOutcome, error)
}

type webhookService struct {
	accounts  WebhookAccounts
	mappings  store.BillingMappings
	history   store.InvoiceHistory
	publisher events.Publisher
	seen      *lru.Cache[string, struct{}]
	now       func() time.Time
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(
	accounts WebhookAccounts,
	mappings store.BillingMappings,
	history store.InvoiceHistory,
	publisher events.Publisher,
) (WebhookService, error) {
	if publisher == nil {
		publisher = events.Nop{}
	}
	seen, err := lru.New[string, struct{}](defaultDedupeSize)
	if err != nil {
		return nil, err
	}
	return &webhookService{
		accounts:  accounts,
		mappings:  mappings,
		history:   history,
		publisher: publisher,
		seen:      seen,
		now:       time.Now,
	}, nil
}

func (s *webhookService) HandleInvoiceEvent(ctx context.Context, accountID string, payload []byte, signature string) (WebhookOutcome, error) {
	const op = "webhook.invoice_event"

	secret, err := s.accounts.WebhookSecret(accountID)
	if err != nil {
		return "", err
	}
	client, err := s.accounts.Resolve(accountID)
	if err != nil {
		return "", err
	}

	event, err := client.ConstructEvent(payload, signature, secret)
	if err != nil {
		s.countFailed(accountID, "signature")
		return "", domain.SignatureInvalid(err, op)
	}

	log := zerolog.Ctx(ctx).With().
		Str("account_id", accountID).
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Logger()

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(accountID, event.Type).Inc()
	}

	dedupeKey := accountID + "/" + event.ID
	if s.seen.Contains(dedupeKey) {
		log.Debug().Msg("Duplicate webhook delivery")
		return s.done(accountID, event.Type, WebhookDuplicate), nil
	}

	if !strings.HasPrefix(event.Type, "invoice.") || event.Invoice == nil || event.Invoice.ID == "" {
		log.Debug().Msg("Ignoring non-invoice event")
		return s.done(accountID, event.Type, WebhookIgnored), nil
	}
	inv := event.Invoice

	ref, err := s.owner(ctx, accountID, inv)
	if err != nil {
		return "", err
	}
	if ref == nil {
		log.Warn().Str("invoice_id", inv.ID).Str("customer_id", inv.CustomerID).
			Msg("Invoice event for a customer with no known student")
		return s.done(accountID, event.Type, WebhookIgnored), nil
	}

	eventAt := event.Created
	if eventAt.IsZero() {
		eventAt = s.now()
	}
	eventAt = eventAt.UTC()

	applied, err := s.history.UpdateInvoiceStatus(ctx, &domain.InvoiceHistoryEntry{
		InvoiceID:        inv.ID,
		OrganizationID:   ref.OrganizationID,
		StudentID:        ref.StudentID,
		AccountID:        accountID,
		CustomerID:       inv.CustomerID,
		AmountMinorUnits: inv.Total,
		Currency:         inv.Currency,
		Status:           inv.Status,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		CreatedAt:        inv.CreatedAt.UTC(),
		StatusUpdatedAt:  eventAt,
	})
	if err != nil {
		s.countFailed(accountID, "store")
		return "", err
	}

	// Only successful deliveries are remembered, so a failed one is retried in full
	s.seen.Add(dedupeKey, struct{}{})

	if !applied {
		log.Info().Str("invoice_id", inv.ID).Msg("Stale invoice status ignored")
		return s.done(accountID, event.Type, WebhookStale), nil
	}

	log.Info().Str("invoice_id", inv.ID).Str("status", inv.Status).Msg("Invoice status updated")

	if err := s.publisher.Publish(ctx, events.SubjectInvoiceStatus, event.ID, events.InvoiceStatusChanged{
		InvoiceID:      inv.ID,
		OrganizationID: ref.OrganizationID,
		StudentID:      ref.StudentID,
		AccountID:      accountID,
		Status:         inv.Status,
		EventID:        event.ID,
		EventAt:        eventAt,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish invoice status event")
	}

	return s.done(accountID, event.Type, WebhookApplied), nil
}

// owner finds the student behind an invoice through the reverse index, falling
// back to the reconciliation metadata stamped on invoices this service created.
// Returns nil, nil when neither identifies a student.
func (s *webhookService) owner(ctx context.Context, accountID string, inv *billing.Invoice) (*domain.StudentRef, error) {
	if inv.CustomerID != "" {
		ref, err := s.mappings.LookupReverse(ctx, accountID, inv.CustomerID)
		if err == nil {
			return ref, nil
		}
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			s.countFailed(accountID, "store")
			return nil, err
		}
	}

	org, student := inv.Metadata["organization_id"], inv.Metadata["student_id"]
	if org == "" || student == "" || inv.Metadata["billing_account"] != accountID {
		return nil, nil
	}
	return &domain.StudentRef{OrganizationID: org, StudentID: student}, nil
}

func (s *webhookService) done(accountID, eventType string, outcome WebhookOutcome) WebhookOutcome {
	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(accountID, eventType, string(outcome)).Inc()
	}
	return outcome
}

func (s *webhookService) countFailed(accountID, reason string) {
	if telemetry.Business != nil {
		telemetry.Business.WebhookFailed.WithLabelValues(accountID, reason).Inc()
	}
}
