package voucher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-payables/internal/rbac"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

type actorDirectory map[int64]shared.ActorContext

func (d actorDirectory) PermissionsFor(_ context.Context, userID int64, _ string) ([]string, error) {
	return d[userID].Permissions, nil
}

func newTestServer(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	mw := rbac.Middleware{Permissions: actorDirectory{
		clerk.UserID:          clerk,
		financeManager.UserID: financeManager,
		generalManager.UserID: generalManager,
		cashier.UserID:        cashier,
	}}
	r := chi.NewRouter()
	r.Use(mw.ResolveActor)
	NewHandler(nil, f.svc, mw).MountRoutes(r)
	return f, r
}

type call struct {
	method  string
	path    string
	body    string
	actor   shared.ActorContext
	headers map[string]string
}

func send(h http.Handler, c call) *httptest.ResponseRecorder {
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if !c.actor.IsZero() {
		req.Header.Set(rbac.HeaderActorID, strconv.FormatInt(c.actor.UserID, 10))
		req.Header.Set(rbac.HeaderActorRole, c.actor.Role)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func problemCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestHandlerCreateAndApprove(t *testing.T) {
	_, srv := newTestServer(t)

	rec := send(srv, call{method: http.MethodPost, path: "/vouchers", body: `{"supplierId":3,"allocations":[{"invoiceId":7}]}`})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers", actor: cashier, body: `{"supplierId":3,"allocations":[{"invoiceId":7}]}`})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers", actor: clerk, body: `{"supplierId":3,"allocations":[{"invoiceId":7},{"invoiceId":8,"amount":250}]}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, `"1"`, rec.Header().Get("ETag"))
	var created voucherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, 1333.0, created.Amount)
	require.Empty(t, created.Actions)
	id := strconv.FormatInt(created.ID, 10)

	rec = send(srv, call{method: http.MethodGet, path: "/vouchers/" + id + "/actions", actor: financeManager})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":1,"available":["approve_finance","reject","cancel"],"actions":["approve_finance","reject","cancel"]}`, rec.Body.String())

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers/" + id + "/approve-finance", actor: cashier})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers/" + id + "/approve-finance", actor: financeManager, headers: map[string]string{"If-Match": `"1"`}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, `"2"`, rec.Header().Get("ETag"))

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers/" + id + "/reject", actor: generalManager, body: `{"version":1,"reason":"stale"}`})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "STALE_VOUCHER", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers/" + id + "/pay", actor: cashier})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "INVALID_STATE_TRANSITION", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers/" + id + "/reject", actor: generalManager, body: `{"reason":" "}`})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "REASON_REQUIRED", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodGet, path: "/vouchers/" + id, actor: generalManager})
	require.Equal(t, http.StatusOK, rec.Code)
	var got voucherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, []Action{ActionApproveGeneral, ActionReject, ActionCancel}, got.Actions)

	rec = send(srv, call{method: http.MethodGet, path: "/vouchers/" + id + "/document", actor: generalManager})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "DOCUMENT_NOT_READY", problemCode(t, rec))
}

func TestHandlerValidationErrors(t *testing.T) {
	_, srv := newTestServer(t)

	rec := send(srv, call{method: http.MethodPost, path: "/vouchers", actor: clerk, body: `{"supplierId":3,"allocations":[{"invoiceId":9}]}`})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "MATCHING_NOT_ACKNOWLEDGED", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers", actor: clerk, body: `{"supplierId":3,"allocations":[{"invoiceId":7}],"paymentMethod":"GOLD"}`})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers", actor: clerk, body: `{"supplierId":3,"allocations":[{"invoiceId":7}],"isSplitPayment":true,"split":{"cash":-500,"bankTransfer":1583}}`})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_REQUEST", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers", actor: clerk, body: `{"supplierId":3,"allocations":[{"invoiceId":7}],"isSplitPayment":true,"split":{}}`})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INVALID_SPLIT_AMOUNT", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodPost, path: "/vouchers", actor: clerk, body: `{"supplier":3}`})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "MALFORMED_BODY", problemCode(t, rec))

	rec = send(srv, call{method: http.MethodGet, path: "/vouchers/abc", actor: clerk})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(srv, call{method: http.MethodGet, path: "/vouchers/404", actor: clerk})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerPreview(t *testing.T) {
	_, srv := newTestServer(t)

	rec := send(srv, call{method: http.MethodPost, path: "/allocations/preview", actor: clerk, body: `{"supplierId":3,"allocations":[{"invoiceId":7},{"invoiceId":8}],"isSplitPayment":true,"split":{"cash":1000,"bank":1000}}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview struct {
		Valid     bool    `json:"valid"`
		Allocated float64 `json:"allocatedTotal"`
		Error     struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.False(t, preview.Valid)
	require.Equal(t, 1583.0, preview.Allocated)
	require.Equal(t, "SPLIT_PAYMENT_EXCEEDS_TOTAL", preview.Error.Code)
}

func TestHandlerUpdateAllocation(t *testing.T) {
	f, srv := newTestServer(t)
	v := f.create(t, basicInput(7, 8))
	path := "/vouchers/" + strconv.FormatInt(v.ID, 10) + "/allocations/8"

	rec := send(srv, call{method: http.MethodPatch, path: path, actor: clerk, body: `{"version":1,"amount":100}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got voucherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1183.0, got.Amount)

	rec = send(srv, call{method: http.MethodPatch, path: path, actor: clerk, body: `{"version":1,"amount":90}`})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "STALE_VOUCHER", problemCode(t, rec))
}
