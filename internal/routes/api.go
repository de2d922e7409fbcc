package routes

import (
	"github.com/dukerupert/tuition/internal/middleware"
	"github.com/dukerupert/tuition/internal/router"
)

// RegisterAPIRoutes registers the JSON API.
//
// Billing operations require an admin principal. Bootstrap routes only
// require a signed-in user, since their purpose is to create the first admin.
//
// Invoice creation is not wrapped in a request timeout: the workflow detaches
// from the request and bounds its own provider calls.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	admin := r.Group(middleware.RequireAdmin)
	read := middleware.Timeout(middleware.DefaultTimeout)

	// Invoices
	admin.Post("/api/invoices", deps.Billing.CreateInvoice)
	admin.Get("/api/students/{org}/{student}/invoices", deps.Billing.ListInvoices, read)
	admin.Get("/api/students/{org}/{student}/subscriptions", deps.Billing.ListSubscriptions, read)

	// Customer mapping
	admin.Put("/api/customers/mapping", deps.Billing.MapCustomer, read)

	// Billing accounts
	admin.Get("/api/accounts", deps.Accounts.List, read)

	// Bootstrap
	signedIn := r.Group(middleware.RequireAuth)
	signedIn.Get("/api/admin/bootstrap", deps.Bootstrap.Status, read)
	if deps.StrictLimiter != nil {
		signedIn.Post("/api/admin/bootstrap", deps.Bootstrap.Promote, deps.StrictLimiter.Middleware)
	} else {
		signedIn.Post("/api/admin/bootstrap", deps.Bootstrap.Promote)
	}
}
