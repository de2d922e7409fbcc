package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/tuition/internal/billing"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	defaultDaysUntilDue    = 30
	defaultCurrency        = "usd"
	defaultWorkflowTimeout = 60 * time.Second
	defaultRollbackTimeout = 30 * time.Second
	finalizeKeyGranularity = time.Hour
)

// InvoiceWorkflowConfig tunes the workflow. Zero values take defaults.
type InvoiceWorkflowConfig struct {
	// DaysUntilDue sets the due date of send_invoice invoices
	DaysUntilDue int64

	// Timeout bounds the provider calls of one workflow run
	Timeout time.Duration

	// RollbackTimeout bounds compensation after a failure
	RollbackTimeout time.Duration
}

// InvoiceInput is one invoice to create against an already-resolved customer.
type InvoiceInput struct {
	CustomerID       string
	AccountID        string
	AmountMinorUnits int64
	Currency         string
	Description      string

	// Metadata is copied onto the draft and the line item for reconciliation.
	Metadata map[string]string
}

// InvoiceWorkflow creates a draft invoice, attaches one line item, confirms
// the attachment, and finalizes. Any failure after the draft exists deletes
// what was created.
//
// Provider calls and rollback run on a context detached from the caller's
// cancellation, so an abandoned HTTP request never leaves a half-built draft.
type InvoiceWorkflow struct {
	cfg InvoiceWorkflowConfig
	now func() time.Time
}

// NewInvoiceWorkflow creates a workflow.
func NewInvoiceWorkflow(cfg InvoiceWorkflowConfig) *InvoiceWorkflow {
	if cfg.DaysUntilDue <= 0 {
		cfg.DaysUntilDue = defaultDaysUntilDue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWorkflowTimeout
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = defaultRollbackTimeout
	}
	return &InvoiceWorkflow{cfg: cfg, now: time.Now}
}

// CreateInvoice runs the workflow. It returns a reference only for a fully
// finalized invoice.
func (w *InvoiceWorkflow) CreateInvoice(ctx context.Context, client billing.Provider, in InvoiceInput) (ref *domain.InvoiceReference, err error) {
	const op = "invoice.create"

	if in.AmountMinorUnits <= 0 {
		return nil, ErrAmountNotPositive
	}
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}

	log := zerolog.Ctx(ctx).With().
		Str("account_id", in.AccountID).
		Str("customer_id", in.CustomerID).
		Int64("amount_minor_units", in.AmountMinorUnits).
		Logger()

	detached := context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(detached, w.cfg.Timeout)
	defer cancel()

	start := w.now()
	undo := &Compensator{}
	defer func() {
		outcome := "finalized"
		if err != nil {
			outcome = "failed"
			w.rollback(detached, log, undo, in.AccountID)
			if telemetry.Business != nil {
				telemetry.Business.InvoiceFailed.WithLabelValues(in.AccountID, domain.ErrorCode(err)).Inc()
			}
		}
		if telemetry.Business != nil {
			telemetry.Business.WorkflowDuration.WithLabelValues(in.AccountID, outcome).Observe(time.Since(start).Seconds())
		}
	}()

	// 1. Draft container, kept editable
	draft, err := client.CreateDraftInvoice(ctx, billing.CreateInvoiceParams{
		CustomerID:   in.CustomerID,
		Currency:     in.Currency,
		Description:  in.Description,
		DaysUntilDue: w.cfg.DaysUntilDue,
		Metadata:     in.Metadata,
	})
	if err != nil {
		return nil, domain.FinalizationFailed(err, op, "Failed to create draft invoice")
	}
	undo.Push("delete_draft", func(ctx context.Context) error {
		return client.DeleteInvoice(ctx, draft.ID)
	})
	log = log.With().Str("draft_invoice_id", draft.ID).Logger()

	// 2. Line item attached to this draft explicitly
	item, err := client.CreateInvoiceItem(ctx, billing.CreateInvoiceItemParams{
		CustomerID:       in.CustomerID,
		InvoiceID:        draft.ID,
		AmountMinorUnits: in.AmountMinorUnits,
		Currency:         in.Currency,
		Description:      in.Description,
		Metadata:         in.Metadata,
	})
	if err != nil {
		return nil, domain.AttachmentFailed(err, op, "Failed to add line item to invoice")
	}
	undo.Push("delete_line_item", func(ctx context.Context) error {
		return client.DeleteInvoiceItem(ctx, item.ID)
	})

	// 3. Confirm the attachment before finalizing
	refetched, err := client.GetInvoice(ctx, draft.ID)
	if err != nil {
		return nil, domain.AttachmentFailed(err, op, "Failed to confirm line item attachment")
	}
	if refetched.Total == 0 {
		return nil, domain.AttachmentFailed(nil, op, "Line item did not attach to the draft invoice")
	}
	if refetched.Total != in.AmountMinorUnits {
		log.Warn().Int64("total", refetched.Total).Msg("Draft total differs from requested amount")
	}

	// 4. Finalize; the key pins retries within the same hour to one finalization
	finalized, err := client.FinalizeInvoice(ctx, billing.FinalizeInvoiceParams{
		InvoiceID:      draft.ID,
		IdempotencyKey: finalizeIdempotencyKey(draft.ID, w.now()),
	})
	if err != nil {
		return nil, domain.FinalizationFailed(err, op, "Failed to finalize invoice")
	}

	undo.Discard()

	if telemetry.Business != nil {
		telemetry.Business.InvoicesCreated.WithLabelValues(in.AccountID).Inc()
		telemetry.Business.InvoiceAmount.WithLabelValues(in.AccountID, in.Currency).Observe(float64(in.AmountMinorUnits))
	}
	log.Info().Str("invoice_id", finalized.ID).Str("status", finalized.Status).Msg("Invoice finalized")

	return &domain.InvoiceReference{
		InvoiceID:        finalized.ID,
		Status:           finalized.Status,
		HostedInvoiceURL: finalized.HostedInvoiceURL,
	}, nil
}

// rollback runs compensation on its own deadline. Secondary failures are
// logged and counted; they never replace the error returned to the caller.
func (w *InvoiceWorkflow) rollback(detached context.Context, log zerolog.Logger, undo *Compensator, accountID string) {
	if undo.Len() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(detached, w.cfg.RollbackTimeout)
	defer cancel()

	for _, err := range undo.Rollback(ctx) {
		action := "unknown"
		if rb, ok := err.(*RollbackError); ok {
			action = rb.Action
		}
		log.Error().Err(err).Str("action", action).Msg("Invoice rollback step failed; provider object may be orphaned")
		if telemetry.Business != nil {
			telemetry.Business.RollbackFailed.WithLabelValues(accountID, action).Inc()
		}
	}
}

// finalizeIdempotencyKey derives the finalize key from the draft id and the
// current hour.
func finalizeIdempotencyKey(draftID string, now time.Time) string {
	return fmt.Sprintf("finalize:%s:%d", draftID, now.Unix()/int64(finalizeKeyGranularity/time.Second))
}
