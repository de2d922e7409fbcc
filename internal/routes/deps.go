package routes

import (
	"net/http"

	"github.com/dukerupert/tuition/internal/handler/api"
	"github.com/dukerupert/tuition/internal/handler/webhook"
	"github.com/dukerupert/tuition/internal/middleware"
)

// APIDeps contains dependencies for API routes
type APIDeps struct {
	Billing   *api.BillingHandler
	Accounts  *api.AccountsHandler
	Bootstrap *api.BootstrapHandler

	// StrictLimiter throttles bootstrap promotion attempts per client IP
	StrictLimiter *middleware.RateLimiter
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	Stripe *webhook.StripeHandler
}

// SystemDeps contains dependencies for health and metrics routes
type SystemDeps struct {
	Health  http.Handler
	Metrics http.Handler
}
