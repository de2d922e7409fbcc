package routes

import (
	"github.com/dukerupert/tuition/internal/middleware"
	"github.com/dukerupert/tuition/internal/router"
)

// RegisterWebhookRoutes registers provider webhook routes.
// These routes are authenticated by the provider's payload signature, not by
// a principal, and are exempt from the API rate limiter.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Post("/webhooks/stripe/{account}", deps.Stripe.HandleWebhook,
		middleware.MaxBodySize(middleware.WebhookMaxBodySize),
	)
}
