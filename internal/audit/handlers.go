package audit

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bizops/internal/api"
)

// Lister is satisfied by *Repository.
type Lister interface {
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]Event, error)
}

type Handlers struct {
	Events  Lister
	Verbose bool
}

// Trail lists the audit events recorded against one resource.
func (h Handlers) Trail(resourceType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := api.ActorFromContext(r.Context()); !ok {
			api.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing actor identity")
			return
		}
		items, err := h.Events.ListByResource(r.Context(), resourceType, chi.URLParam(r, "id"))
		if err != nil {
			api.WriteAppError(w, r, err, h.Verbose)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}
