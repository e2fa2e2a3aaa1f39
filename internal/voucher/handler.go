package voucher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-payables/internal/allocation"
	"github.com/odyssey-erp/odyssey-payables/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-payables/internal/rbac"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// API is the service surface the handler drives.
type API interface {
	Preview(ctx context.Context, input CreateInput) (allocation.Preview, error)
	Create(ctx context.Context, actor shared.ActorContext, input CreateInput) (PaymentVoucher, error)
	Get(ctx context.Context, id int64) (PaymentVoucher, error)
	List(ctx context.Context, filters ListFilters) ([]PaymentVoucher, shared.Pagination, error)
	History(ctx context.Context, id int64) ([]shared.ApprovalLog, error)
	Transition(ctx context.Context, actor shared.ActorContext, id, expectedVersion int64, action Action, reason string) (PaymentVoucher, error)
	UpdateAllocationAmount(ctx context.Context, actor shared.ActorContext, id, invoiceID, expectedVersion int64, amount float64) (PaymentVoucher, error)
}

// Handler exposes voucher endpoints.
type Handler struct {
	logger    *slog.Logger
	service   API
	rbac      rbac.Middleware
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service API, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPayablesVoucherView))
		r.Get("/vouchers", h.list)
		r.Get("/vouchers/{id}", h.get)
		r.Get("/vouchers/{id}/actions", h.actions)
		r.Get("/vouchers/{id}/history", h.history)
		r.Get("/vouchers/{id}/document", h.document)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPayablesVoucherCreate))
		r.Post("/allocations/preview", h.preview)
		r.Post("/vouchers", h.create)
		r.Patch("/vouchers/{id}/allocations/{invoiceID}", h.updateAllocation)
	})
	for _, action := range actionOrder {
		r.With(h.rbac.RequireAny(action.Permission())).Post("/vouchers/{id}/"+routeName(action), h.transition(action))
	}
}

func routeName(a Action) string {
	return strings.ReplaceAll(string(a), "_", "-")
}

type allocationRequest struct {
	InvoiceID int64    `json:"invoiceId" validate:"required,gt=0"`
	Amount    *float64 `json:"amount" validate:"omitempty,gt=0"`
}

type createRequest struct {
	SupplierID           int64                    `json:"supplierId"`
	VoucherDate          *time.Time               `json:"voucherDate"`
	Allocations          []allocationRequest      `json:"allocations" validate:"dive"`
	IsSplitPayment       bool                     `json:"isSplitPayment"`
	Split                allocation.SplitInputs   `json:"split"`
	PaymentMethod        allocation.PaymentMethod `json:"paymentMethod" validate:"omitempty,oneof=CASH BANK_TRANSFER CHEQUE BANK"`
	BankAccountRef       string                   `json:"bankAccountRef" validate:"max=64"`
	ChequeNumber         string                   `json:"chequeNumber" validate:"max=64"`
	MatchingAcknowledged bool                     `json:"matchingAcknowledged"`
	Notes                string                   `json:"notes" validate:"max=1000"`
}

func (req createRequest) input(idempotencyKey string) CreateInput {
	in := CreateInput{
		SupplierID:           req.SupplierID,
		IsSplitPayment:       req.IsSplitPayment,
		Split:                req.Split,
		Method:               req.PaymentMethod,
		BankAccountRef:       req.BankAccountRef,
		ChequeNumber:         req.ChequeNumber,
		MatchingAcknowledged: req.MatchingAcknowledged,
		Notes:                req.Notes,
		IdempotencyKey:       strings.TrimSpace(idempotencyKey),
	}
	if req.VoucherDate != nil {
		in.VoucherDate = *req.VoucherDate
	}
	for _, a := range req.Allocations {
		in.Allocations = append(in.Allocations, AllocationInput{InvoiceID: a.InvoiceID, Amount: a.Amount})
	}
	return in
}

type transitionRequest struct {
	Version int64  `json:"version" validate:"gte=0"`
	Reason  string `json:"reason" validate:"max=500"`
}

type allocationUpdateRequest struct {
	Version int64   `json:"version" validate:"gte=0"`
	Amount  float64 `json:"amount" validate:"gt=0"`
}

type voucherResponse struct {
	PaymentVoucher
	Actions []Action `json:"actions"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.validator.Bind(w, r, &req) {
		return
	}
	preview, err := h.service.Preview(r.Context(), req.input(""))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createRequest
	if !h.validator.Bind(w, r, &req) {
		return
	}
	v, err := h.service.Create(r.Context(), actor, req.input(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag(v.Version))
	httpx.JSON(w, http.StatusCreated, voucherResponse{PaymentVoucher: v, Actions: ActionsFor(v, actor)})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	filters := ListFilters{
		Status:         Status(strings.ToUpper(q.Get("status"))),
		ApprovalStatus: ApprovalStatus(strings.ToUpper(q.Get("approval_status"))),
		SupplierID:     supplierID,
		Page:           page,
		PerPage:        perPage,
	}
	items, pagination, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []PaymentVoucher{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	w.Header().Set("ETag", etag(v.Version))
	httpx.JSON(w, http.StatusOK, voucherResponse{PaymentVoucher: v, Actions: ActionsFor(v, actor)})
}

func (h *Handler) actions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{
		"version":   v.Version,
		"available": AvailableActions(v),
		"actions":   ActionsFor(v, actor),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": logs})
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if v.DocumentPath == "" {
		httpx.ProblemCode(w, http.StatusNotFound, "DOCUMENT_NOT_READY", "disbursement document has not been generated")
		return
	}
	f, err := os.Open(v.DocumentPath)
	if err != nil {
		h.logger.Warn("open disbursement document", slog.Int64("voucher_id", v.ID), slog.Any("error", err))
		httpx.ProblemCode(w, http.StatusNotFound, "DOCUMENT_NOT_READY", "disbursement document is unavailable")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", Filename(v)))
	http.ServeContent(w, r, Filename(v), info.ModTime(), f)
}

func (h *Handler) transition(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r, "id")
		if !ok {
			return
		}
		var req transitionRequest
		if r.ContentLength != 0 {
			if !h.validator.Bind(w, r, &req) {
				return
			}
		}
		version := req.Version
		if version == 0 {
			version = ifMatch(r)
		}
		actor, _ := shared.ActorFromContext(r.Context())
		v, err := h.service.Transition(r.Context(), actor, id, version, action, req.Reason)
		if err != nil {
			h.writeError(w, err)
			return
		}
		w.Header().Set("ETag", etag(v.Version))
		httpx.JSON(w, http.StatusOK, voucherResponse{PaymentVoucher: v, Actions: ActionsFor(v, actor)})
	}
}

func (h *Handler) updateAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	invoiceID, ok := h.pathID(w, r, "invoiceID")
	if !ok {
		return
	}
	var req allocationUpdateRequest
	if !h.validator.Bind(w, r, &req) {
		return
	}
	version := req.Version
	if version == 0 {
		version = ifMatch(r)
	}
	actor, _ := shared.ActorFromContext(r.Context())
	v, err := h.service.UpdateAllocationAmount(r.Context(), actor, id, invoiceID, version, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag(v.Version))
	httpx.JSON(w, http.StatusOK, voucherResponse{PaymentVoucher: v, Actions: ActionsFor(v, actor)})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.ProblemCode(w, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *allocation.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, verr.Code, verr.Message)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAllocationNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrInvalidStateTransition):
		httpx.ProblemCode(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
	case errors.Is(err, ErrVersionConflict):
		httpx.ProblemCode(w, http.StatusConflict, "STALE_VOUCHER", err.Error())
	case errors.Is(err, ErrAllocationLocked):
		httpx.ProblemCode(w, http.StatusConflict, "ALLOCATION_LOCKED", err.Error())
	case errors.Is(err, ErrDuplicateRequest):
		httpx.ProblemCode(w, http.StatusConflict, "DUPLICATE_REQUEST", err.Error())
	case errors.Is(err, ErrReasonRequired):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "REASON_REQUIRED", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "INVALID_INPUT", err.Error())
	case errors.Is(err, shared.ErrActorRequired):
		httpx.ProblemCode(w, http.StatusUnauthorized, "ACTOR_REQUIRED", err.Error())
	default:
		h.logger.Error("voucher request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func etag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}

func ifMatch(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	raw = strings.TrimPrefix(raw, "W/")
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v
}
