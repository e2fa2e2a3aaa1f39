package voucher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-payables/internal/allocation"
	"github.com/odyssey-erp/odyssey-payables/internal/documents"
	"github.com/odyssey-erp/odyssey-payables/internal/reconcile"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

var testNow = time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)

var clerk = shared.ActorContext{UserID: 10, Role: "ap_clerk", Permissions: []string{shared.PermPayablesVoucherCreate, shared.PermPayablesVoucherView}}

type memoryState struct {
	vouchers map[int64]PaymentVoucher
	paid     map[int64]float64
	seq      map[string]int64
	nextID   int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		vouchers: make(map[int64]PaymentVoucher, len(s.vouchers)),
		paid:     make(map[int64]float64, len(s.paid)),
		seq:      make(map[string]int64, len(s.seq)),
		nextID:   s.nextID,
	}
	for k, v := range s.vouchers {
		v.Allocations = append([]Allocation(nil), v.Allocations...)
		out.vouchers[k] = v
	}
	for k, v := range s.paid {
		out.paid[k] = v
	}
	for k, v := range s.seq {
		out.seq[k] = v
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		vouchers: map[int64]PaymentVoucher{},
		paid:     map[int64]float64{},
		seq:      map[string]int64{},
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (PaymentVoucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state.vouchers[id]
	if !ok {
		return PaymentVoucher{}, ErrNotFound
	}
	return v, nil
}

func (r *memoryRepo) List(_ context.Context, filters ListFilters) ([]PaymentVoucher, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentVoucher
	for id := int64(1); id <= r.state.nextID; id++ {
		v, ok := r.state.vouchers[id]
		if !ok || (filters.Status != "" && v.Status != filters.Status) {
			continue
		}
		out = append(out, v)
	}
	return out, len(out), nil
}

func (r *memoryRepo) SetDocumentPath(_ context.Context, id int64, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state.vouchers[id]
	if !ok {
		return ErrNotFound
	}
	v.DocumentPath = path
	r.state.vouchers[id] = v
	return nil
}

func (r *memoryRepo) paidAmount(invoiceID int64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.paid[invoiceID]
}

type memoryTx struct {
	state memoryState
}

func (t *memoryTx) NextVoucherNumber(_ context.Context, at time.Time) (string, error) {
	period := at.Format("200601")
	t.state.seq[period]++
	return fmt.Sprintf("PV-%s-%05d", period, t.state.seq[period]), nil
}

func (t *memoryTx) Insert(_ context.Context, v *PaymentVoucher) error {
	t.state.nextID++
	v.ID = t.state.nextID
	for i := range v.Allocations {
		v.Allocations[i].ID = v.ID*100 + int64(i)
		v.Allocations[i].VoucherID = v.ID
	}
	stored := *v
	stored.Allocations = append([]Allocation(nil), v.Allocations...)
	t.state.vouchers[v.ID] = stored
	return nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, id int64) (PaymentVoucher, error) {
	v, ok := t.state.vouchers[id]
	if !ok {
		return PaymentVoucher{}, ErrNotFound
	}
	v.Allocations = append([]Allocation(nil), v.Allocations...)
	return v, nil
}

func (t *memoryTx) UpdateState(_ context.Context, v PaymentVoucher, expectedVersion int64) error {
	current, ok := t.state.vouchers[v.ID]
	if !ok || current.Version != expectedVersion {
		return ErrVersionConflict
	}
	v.Allocations = current.Allocations
	t.state.vouchers[v.ID] = v
	return nil
}

func (t *memoryTx) UpdateAllocationAmount(_ context.Context, allocationID int64, amount float64) error {
	for id, v := range t.state.vouchers {
		for i, a := range v.Allocations {
			if a.ID == allocationID {
				allocs := append([]Allocation(nil), v.Allocations...)
				allocs[i].AllocatedAmount = amount
				v.Allocations = allocs
				t.state.vouchers[id] = v
				return nil
			}
		}
	}
	return ErrAllocationNotFound
}

func (t *memoryTx) ApplyInvoicePayments(_ context.Context, payments []InvoicePayment) error {
	for _, p := range payments {
		t.state.paid[p.InvoiceID] += p.Amount
	}
	return nil
}

type stubInvoices map[int64]documents.InvoiceComparisonRecord

func (s stubInvoices) ComparisonsByIDs(_ context.Context, supplierID int64, ids []int64) ([]documents.InvoiceComparisonRecord, error) {
	var out []documents.InvoiceComparisonRecord
	for _, id := range ids {
		if rec, ok := s[id]; ok && rec.SupplierID == supplierID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memoryApprovals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

func (m *memoryApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryApprovals) List(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryAudit struct {
	mu      sync.Mutex
	actions []string
}

func (m *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, log.Action)
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type stubDispatcher struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (d *stubDispatcher) DispatchDisbursement(_ context.Context, voucherID int64, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, voucherID)
	return d.err
}

type countingCache struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingCache) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) ObserveVoucherTransition(action, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, action+":"+outcome)
}

type fixture struct {
	svc        *Service
	repo       *memoryRepo
	approvals  *memoryApprovals
	audit      *memoryAudit
	dispatcher *stubDispatcher
	cache      *countingCache
	metrics    *recordingMetrics
}

func matchedInvoice(id int64, total float64) documents.InvoiceComparisonRecord {
	return documents.InvoiceComparisonRecord{
		InvoiceID:     id,
		InvoiceNumber: fmt.Sprintf("INV-%d", id),
		SupplierID:    3,
		SupplierName:  "PT Baja Prima",
		Currency:      "IDR",
		ExchangeRate:  1,
		Snapshot: documents.Snapshot{
			PO:      documents.DocumentTotals{SubTotal: total, Total: documents.Float(total)},
			GRN:     documents.DocumentTotals{Total: documents.Float(total)},
			Invoice: documents.DocumentTotals{Total: documents.Float(total)},
			Items: []documents.LineItem{{
				ItemName: "Steel bolt M8",
				PO:       &documents.StageLine{Quantity: documents.Float(1), UnitPrice: documents.Float(total)},
				GRN:      &documents.StageLine{Quantity: documents.Float(1), UnitPrice: documents.Float(total)},
				Invoice:  &documents.StageLine{Quantity: documents.Float(1), UnitPrice: documents.Float(total)},
			}},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mismatched := matchedInvoice(9, 1083)
	mismatched.Snapshot.Invoice.Total = documents.Float(1200)
	otherSupplier := matchedInvoice(10, 50)
	otherSupplier.SupplierID = 4
	settled := matchedInvoice(11, 1083)
	settled.PaidAmount = 1083

	f := &fixture{
		repo:       newMemoryRepo(),
		approvals:  &memoryApprovals{},
		audit:      &memoryAudit{},
		dispatcher: &stubDispatcher{},
		cache:      &countingCache{},
		metrics:    &recordingMetrics{},
	}
	f.svc = NewService(Config{
		Repo: f.repo,
		Invoices: stubInvoices{
			7:  matchedInvoice(7, 1083),
			8:  matchedInvoice(8, 500),
			9:  mismatched,
			10: otherSupplier,
			11: settled,
		},
		Approvals:   f.approvals,
		Audit:       f.audit,
		Idempotency: &memoryIdempotency{keys: map[string]bool{}},
		Dispatcher:  f.dispatcher,
		Cache:       f.cache,
		Metrics:     f.metrics,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:       func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) create(t *testing.T, in CreateInput) PaymentVoucher {
	t.Helper()
	v, err := f.svc.Create(context.Background(), clerk, in)
	require.NoError(t, err)
	return v
}

func basicInput(ids ...int64) CreateInput {
	in := CreateInput{SupplierID: 3}
	for _, id := range ids {
		in.Allocations = append(in.Allocations, AllocationInput{InvoiceID: id})
	}
	return in
}

func TestCreateFreezesSnapshotsAndNumbers(t *testing.T) {
	f := newFixture(t)

	v := f.create(t, basicInput(7, 8))
	require.Equal(t, "PV-202610-00001", v.VoucherNumber)
	require.Equal(t, StatusOpen, v.Status)
	require.Equal(t, ApprovalPending, v.ApprovalStatus)
	require.Equal(t, 1583.0, v.Amount)
	require.Equal(t, allocation.MethodCash, v.PaymentMethod)
	require.Equal(t, 1583.0, v.CashAmount)
	require.Equal(t, int64(1), v.Version)
	require.Len(t, v.Allocations, 2)
	require.Equal(t, reconcile.StatusMatched, v.Allocations[0].Snapshot.Status)
	require.Equal(t, 1083.0, v.Allocations[0].Snapshot.InvoiceTotal)
	require.Equal(t, testNow, v.Allocations[0].Snapshot.CapturedAt)
	require.Equal(t, 2, v.Allocations[1].Position)

	second := f.create(t, basicInput(8))
	require.Equal(t, "PV-202610-00002", second.VoucherNumber)

	history, err := f.svc.History(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Contains(t, f.audit.actions, "voucher.create")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, shared.ActorContext{}, basicInput(7))
	require.ErrorIs(t, err, shared.ErrActorRequired)

	_, err = f.svc.Create(ctx, clerk, CreateInput{Allocations: []AllocationInput{{InvoiceID: 7}}})
	require.ErrorIs(t, err, allocation.ErrNoSupplierSelected)

	_, err = f.svc.Create(ctx, clerk, basicInput())
	require.ErrorIs(t, err, allocation.ErrNoInvoicesSelected)

	_, err = f.svc.Create(ctx, clerk, basicInput(7, 9))
	require.ErrorIs(t, err, allocation.ErrMatchingNotAcknowledged)

	_, err = f.svc.Create(ctx, clerk, basicInput(7, 10))
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(ctx, clerk, basicInput(7, 7))
	require.ErrorIs(t, err, ErrValidation)

	in := basicInput(7)
	in.Method = allocation.MethodBankTransfer
	_, err = f.svc.Create(ctx, clerk, in)
	require.ErrorIs(t, err, allocation.ErrMissingBankAccount)

	acknowledged := basicInput(9)
	acknowledged.MatchingAcknowledged = true
	v := f.create(t, acknowledged)
	require.False(t, v.Allocations[0].Snapshot.IsValid)
	require.Equal(t, reconcile.StatusMismatched, v.Allocations[0].Snapshot.Status)
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	in := basicInput(7)
	in.IdempotencyKey = "req-1"

	f.create(t, in)
	_, err := f.svc.Create(context.Background(), clerk, in)
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestRejectScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, basicInput(7))

	v, err := f.svc.ApproveFinance(ctx, financeManager, v.ID, v.Version)
	require.NoError(t, err)
	require.Equal(t, ApprovalFinanceApproved, v.ApprovalStatus)

	v, err = f.svc.Reject(ctx, generalManager, v.ID, v.Version, "duplicate billing")
	require.NoError(t, err)
	require.Equal(t, ApprovalRejected, v.ApprovalStatus)

	_, err = f.svc.ApproveGeneral(ctx, generalManager, v.ID, v.Version)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	history, err := f.svc.History(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, shared.ApprovalReject, history[2].Action)
	require.Equal(t, "general_manager", history[2].Role)
	require.Equal(t, "duplicate billing", history[2].Note)

	require.Equal(t, []string{"approve_finance:ok", "reject:ok", "approve_general:invalid_transition"}, f.metrics.outcomes)
}

func TestPayCommitsInvoicesAndDispatchFailureIsOnlyLogged(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("redis unavailable")
	ctx := context.Background()
	v := f.create(t, basicInput(7, 8))

	var err error
	v, err = f.svc.ApproveFinance(ctx, financeManager, v.ID, 0)
	require.NoError(t, err)
	v, err = f.svc.ApproveGeneral(ctx, generalManager, v.ID, 0)
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, financeManager, v.ID, v.Version)
	require.NoError(t, err, "payer capability is enforced at the route, not in the state machine")

	f.svc.Drain()
	stored, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, stored.Status)
	require.Equal(t, 1083.0, f.repo.paidAmount(7))
	require.Equal(t, 500.0, f.repo.paidAmount(8))
	require.Equal(t, []int64{v.ID}, f.dispatcher.calls)
	require.Equal(t, 1, f.cache.bumps)

	_, err = f.svc.Cancel(ctx, financeManager, v.ID, 0, "too late")
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func (f *fixture) approveAndPay(t *testing.T, v PaymentVoucher) PaymentVoucher {
	t.Helper()
	ctx := context.Background()
	v, err := f.svc.ApproveFinance(ctx, financeManager, v.ID, 0)
	require.NoError(t, err)
	v, err = f.svc.ApproveGeneral(ctx, generalManager, v.ID, 0)
	require.NoError(t, err)
	v, err = f.svc.Pay(ctx, cashier, v.ID, 0)
	require.NoError(t, err)
	f.svc.Drain()
	return v
}

func TestPaySplitPartialCreditsOnlyPaidOutAmount(t *testing.T) {
	t.Run("short of the first invoice", func(t *testing.T) {
		f := newFixture(t)
		in := basicInput(7, 8)
		in.IsSplitPayment = true
		in.Split = allocation.SplitInputs{Cash: 300}
		v := f.approveAndPay(t, f.create(t, in))

		require.Equal(t, 300.0, v.Amount)
		require.Equal(t, 300.0, f.repo.paidAmount(7))
		require.Equal(t, 0.0, f.repo.paidAmount(8))
	})

	t.Run("spills into the second invoice", func(t *testing.T) {
		f := newFixture(t)
		in := basicInput(7, 8)
		in.IsSplitPayment = true
		in.Split = allocation.SplitInputs{Cash: 1000, BankTransfer: 200.5}
		f.approveAndPay(t, f.create(t, in))

		require.Equal(t, 1083.0, f.repo.paidAmount(7))
		require.Equal(t, 117.5, f.repo.paidAmount(8))
	})
}

func TestPayoutsFollowPositionOrder(t *testing.T) {
	v := PaymentVoucher{
		Amount: 600,
		Allocations: []Allocation{
			{SupplierInvoiceID: 8, Position: 2, AllocatedAmount: 500},
			{SupplierInvoiceID: 7, Position: 1, AllocatedAmount: 400},
			{SupplierInvoiceID: 9, Position: 3, AllocatedAmount: 100},
		},
	}
	require.Equal(t, []InvoicePayment{{InvoiceID: 7, Amount: 400}, {InvoiceID: 8, Amount: 200}}, v.Payouts())

	v.Amount = 1000
	require.Equal(t, []InvoicePayment{{InvoiceID: 7, Amount: 400}, {InvoiceID: 8, Amount: 500}, {InvoiceID: 9, Amount: 100}}, v.Payouts())
}

func TestCreateRejectsSettledInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, clerk, basicInput(11))
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(ctx, clerk, basicInput(7, 11))
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Preview(ctx, basicInput(11))
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, 0.0, f.repo.paidAmount(11))
}

func TestCreateRejectsInvalidSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := basicInput(7)
	in.IsSplitPayment = true
	in.Split = allocation.SplitInputs{Cash: -500, BankTransfer: 1583}
	_, err := f.svc.Create(ctx, clerk, in)
	require.ErrorIs(t, err, allocation.ErrInvalidSplitAmount)

	in.Split = allocation.SplitInputs{}
	_, err = f.svc.Create(ctx, clerk, in)
	require.ErrorIs(t, err, allocation.ErrInvalidSplitAmount)

	vouchers, _, err := f.svc.List(ctx, ListFilters{})
	require.NoError(t, err)
	require.Empty(t, vouchers)
}

func TestPayAfterDrainRunsFollowUpInline(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, basicInput(7))
	f.svc.Drain()

	f.approveAndPay(t, v)
	require.Equal(t, []int64{v.ID}, f.dispatcher.calls)
	require.Equal(t, 1, f.cache.bumps)
}

func TestStaleVersionIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, basicInput(7))

	_, err := f.svc.ApproveFinance(ctx, financeManager, v.ID, v.Version)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, generalManager, v.ID, v.Version, "stale screen")
	require.ErrorIs(t, err, ErrVersionConflict)

	stored, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, ApprovalFinanceApproved, stored.ApprovalStatus)
	require.Equal(t, int64(2), stored.Version)

	_, err = f.svc.ApproveFinance(ctx, financeManager, 999, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAllocationAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, basicInput(7, 8))

	v, err := f.svc.UpdateAllocationAmount(ctx, clerk, v.ID, 7, v.Version, 400.555)
	require.NoError(t, err)
	require.Equal(t, 400.56, v.Allocations[0].AllocatedAmount)
	require.Equal(t, 900.56, v.Amount)
	require.Equal(t, 900.56, v.CashAmount)
	require.Equal(t, int64(2), v.Version)
	require.Equal(t, 1083.0, v.Allocations[0].Snapshot.InvoiceTotal, "snapshot is never rewritten")

	_, err = f.svc.UpdateAllocationAmount(ctx, clerk, v.ID, 42, 0, 10)
	require.ErrorIs(t, err, ErrAllocationNotFound)

	_, err = f.svc.UpdateAllocationAmount(ctx, clerk, v.ID, 7, 0, 0)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ApproveFinance(ctx, financeManager, v.ID, 0)
	require.NoError(t, err)
	_, err = f.svc.UpdateAllocationAmount(ctx, clerk, v.ID, 7, 0, 10)
	require.ErrorIs(t, err, ErrAllocationLocked)
}

func TestUpdateAllocationKeepsSplitWithinTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := basicInput(7, 8)
	in.IsSplitPayment = true
	in.Split = allocation.SplitInputs{Cash: 1000, BankTransfer: 500}
	v := f.create(t, in)
	require.Equal(t, allocation.MethodSplit, v.PaymentMethod)
	require.Equal(t, 1500.0, v.Amount)

	_, err := f.svc.UpdateAllocationAmount(ctx, clerk, v.ID, 7, 0, 900)
	require.ErrorIs(t, err, allocation.ErrSplitPaymentExceedsTotal)

	stored, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, 1083.0, stored.Allocations[0].AllocatedAmount)
	require.Equal(t, int64(1), stored.Version)

	updated, err := f.svc.UpdateAllocationAmount(ctx, clerk, v.ID, 7, 0, 1000)
	require.NoError(t, err)
	require.Equal(t, 1500.0, updated.Amount)
}

func TestListNormalizesPaging(t *testing.T) {
	f := newFixture(t)
	f.create(t, basicInput(7))
	f.create(t, basicInput(8))

	items, page, err := f.svc.List(context.Background(), ListFilters{Status: StatusOpen})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 20, page.PerPage)
	require.Equal(t, 2, page.Total)
}
