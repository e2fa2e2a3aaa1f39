package dashboard

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-payables/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-payables/internal/rbac"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// Snapshotter exposes the latest counter readings.
type Snapshotter interface {
	Snapshot() map[Counter]Reading
}

// Handler serves the dashboard counters.
type Handler struct {
	poller Snapshotter
	rbac   rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(poller Snapshotter, rbac rbac.Middleware) *Handler {
	return &Handler{poller: poller, rbac: rbac}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPayablesDashboardView)).Get("/dashboard/counts", h.counts)
}

type countsResponse struct {
	Counters map[Counter]Reading `json:"counters"`
}

func (h *Handler) counts(w http.ResponseWriter, r *http.Request) {
	readings := h.poller.Snapshot()
	for _, c := range Counters {
		if _, ok := readings[c]; !ok {
			readings[c] = Reading{}
		}
	}
	httpx.JSON(w, http.StatusOK, countsResponse{Counters: readings})
}
