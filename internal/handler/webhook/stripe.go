// Package webhook receives billing-provider event deliveries.
package webhook

import (
	"io"
	"net/http"
	"time"

	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/handler"
	"github.com/dukerupert/tuition/internal/middleware"
	"github.com/dukerupert/tuition/internal/service"
	"github.com/dukerupert/tuition/internal/telemetry"
)

// SignatureHeader carries Stripe's webhook signature
const SignatureHeader = "Stripe-Signature"

// StripeHandler handles Stripe webhook events for every configured account
type StripeHandler struct {
	webhooks service.WebhookService
}

// NewStripeHandler creates a new Stripe webhook handler
func NewStripeHandler(webhooks service.WebhookService) *StripeHandler {
	return &StripeHandler{webhooks: webhooks}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// HandleWebhook handles POST /webhooks/stripe/{account}
//
// Each billing account registers its own endpoint, so the account in the path
// selects the signing secret. The signature is verified before anything is
// written.
//
// Response codes:
// - 200 OK: applied, stale, duplicate or ignored
// - 400 Bad Request: signature_invalid (Stripe will not retry a bad signature)
// - 500: unknown account, missing secret or store failure (Stripe retries)
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/stripe/org-a
//	stripe trigger invoice.paid
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "webhook.stripe"

	start := time.Now()
	account := r.PathValue("account")
	log := middleware.GetLogger(r.Context())

	defer func() {
		if telemetry.Business != nil {
			telemetry.Business.WebhookLatency.WithLabelValues(account).Observe(time.Since(start).Seconds())
		}
	}()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, op, "Error reading request body"))
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		handler.ErrorResponse(w, r, domain.SignatureInvalid(nil, op))
		return
	}

	outcome, err := h.webhooks.HandleInvoiceEvent(r.Context(), account, payload, signature)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	log.Debug().Str("account_id", account).Str("outcome", string(outcome)).Int("bytes", len(payload)).Msg("Webhook processed")

	handler.JSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: string(outcome)})
}
