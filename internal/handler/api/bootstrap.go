package api

import (
	"context"
	"net/http"

	"github.com/dukerupert/tuition/internal/bootstrap"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/handler"
)

// Promoter runs first-admin promotion.
// bootstrap.Bootstrapper implements it.
type Promoter interface {
	State(ctx context.Context) (bootstrap.State, error)
	Promote(ctx context.Context, uid string) error
}

// BootstrapHandler exposes the admin bootstrap state machine
type BootstrapHandler struct {
	promoter Promoter
}

// NewBootstrapHandler creates a new bootstrap handler
func NewBootstrapHandler(promoter Promoter) *BootstrapHandler {
	return &BootstrapHandler{promoter: promoter}
}

type bootstrapResponse struct {
	State string `json:"state"`
	UID   string `json:"uid,omitempty"`
}

// Status handles GET /api/admin/bootstrap
func (h *BootstrapHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, err := h.promoter.State(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, bootstrapResponse{State: state.String()})
}

// Promote handles POST /api/admin/bootstrap
//
// Grants the authenticated caller the admin claim while no administrator
// exists. Returns 403 once one does. The caller must refresh their ID token
// to see the new claim.
func (h *BootstrapHandler) Promote(w http.ResponseWriter, r *http.Request) {
	principal := domain.MustPrincipal(r.Context())

	if err := h.promoter.Promote(r.Context(), principal.UID); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, bootstrapResponse{
		State: bootstrap.AdminsExist.String(),
		UID:   principal.UID,
	})
}
