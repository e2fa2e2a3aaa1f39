package invoices

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
	"github.com/odyssey-erp/odyssey-payables/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-payables/internal/rbac"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// API is the read surface the handler needs.
type API interface {
	PendingSuppliers(ctx context.Context, search string) ([]documents.SupplierPending, error)
	SupplierInvoices(ctx context.Context, supplierID int64) (SupplierInvoices, error)
}

// Handler exposes supplier invoice listings.
type Handler struct {
	logger  *slog.Logger
	service API
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service API, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPayablesInvoiceView))
		r.Get("/suppliers/pending", h.pending)
		r.Get("/suppliers/{supplierID}/invoices", h.supplierInvoices)
	})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.PendingSuppliers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("list pending suppliers", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	if suppliers == nil {
		suppliers = []documents.SupplierPending{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (h *Handler) supplierInvoices(w http.ResponseWriter, r *http.Request) {
	supplierID, err := strconv.ParseInt(chi.URLParam(r, "supplierID"), 10, 64)
	if err != nil || supplierID <= 0 {
		httpx.ProblemCode(w, http.StatusBadRequest, "INVALID_SUPPLIER", "supplier id must be a positive integer")
		return
	}
	out, err := h.service.SupplierInvoices(r.Context(), supplierID)
	if err != nil {
		h.logger.Error("list supplier invoices", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	if out.Invoices == nil {
		out.Invoices = []InvoiceView{}
	}
	httpx.JSON(w, http.StatusOK, out)
}
