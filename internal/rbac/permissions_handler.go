package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-payables/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// PermissionsHandler reports what the current actor may see.
type PermissionsHandler struct {
	logger *slog.Logger
	table  Table
	rbac   Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, table Table, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, table: table, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)
}

type permissionsResponse struct {
	Actor   shared.ActorContext `json:"actor"`
	Path    string              `json:"path,omitempty"`
	Rule    string              `json:"rule,omitempty"`
	Allowed *bool               `json:"allowed,omitempty"`
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.ProblemCode(w, http.StatusUnauthorized, "ACTOR_REQUIRED", "missing actor identity")
		return
	}
	if actor.Permissions == nil {
		actor.Permissions = []string{}
	}
	resp := permissionsResponse{Actor: actor}
	if path := r.URL.Query().Get("path"); path != "" {
		allowed := h.table.Allows(actor, path)
		resp.Path = path
		resp.Allowed = &allowed
		if rule, found := h.table.Resolve(path); found {
			resp.Rule = rule.Name
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}
