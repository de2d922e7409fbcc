package api

import (
	"net/http"

	"github.com/dukerupert/tuition/internal/handler"
	"github.com/dukerupert/tuition/internal/provider"
)

// AccountLister describes the configured billing accounts.
// provider.Registry implements it.
type AccountLister interface {
	Describe() []provider.AccountSummary
}

// AccountsHandler lists configured billing accounts
type AccountsHandler struct {
	accounts AccountLister
}

// NewAccountsHandler creates a new accounts handler
func NewAccountsHandler(accounts AccountLister) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

// List handles GET /api/accounts. Credentials are masked.
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	handler.JSON(w, http.StatusOK, map[string]any{"accounts": h.accounts.Describe()})
}
