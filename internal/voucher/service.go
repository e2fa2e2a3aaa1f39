package voucher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-payables/internal/allocation"
	"github.com/odyssey-erp/odyssey-payables/internal/documents"
	"github.com/odyssey-erp/odyssey-payables/internal/reconcile"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PaymentVoucher, error)
	List(ctx context.Context, filters ListFilters) ([]PaymentVoucher, int, error)
	SetDocumentPath(ctx context.Context, id int64, path string) error
}

// TxRepository exposes the writes performed inside a transaction.
type TxRepository interface {
	NextVoucherNumber(ctx context.Context, at time.Time) (string, error)
	Insert(ctx context.Context, v *PaymentVoucher) error
	GetForUpdate(ctx context.Context, id int64) (PaymentVoucher, error)
	// UpdateState persists v when the stored version still equals
	// expectedVersion and returns ErrVersionConflict otherwise.
	UpdateState(ctx context.Context, v PaymentVoucher, expectedVersion int64) error
	UpdateAllocationAmount(ctx context.Context, allocationID int64, amount float64) error
	ApplyInvoicePayments(ctx context.Context, payments []InvoicePayment) error
}

// InvoiceSource loads the comparison records selected for a voucher.
type InvoiceSource interface {
	ComparisonsByIDs(ctx context.Context, supplierID int64, invoiceIDs []int64) ([]documents.InvoiceComparisonRecord, error)
}

// ApprovalPort records and lists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards voucher creation against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// DocumentDispatcher schedules the disbursement document of a paid voucher.
type DocumentDispatcher interface {
	DispatchDisbursement(ctx context.Context, voucherID int64, voucherNumber string) error
}

// CacheInvalidator drops cached invoice comparisons after payments commit.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// MetricsPort counts workflow outcomes.
type MetricsPort interface {
	ObserveVoucherTransition(action, outcome string)
}

// Config wires Service dependencies. Only Repo and Invoices are required.
type Config struct {
	Repo        RepositoryPort
	Invoices    InvoiceSource
	Approvals   ApprovalPort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Dispatcher  DocumentDispatcher
	Cache       CacheInvalidator
	Metrics     MetricsPort
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Service orchestrates voucher creation and workflow transitions.
type Service struct {
	repo        RepositoryPort
	invoices    InvoiceSource
	approvals   ApprovalPort
	audit       AuditPort
	idempotency IdempotencyPort
	dispatcher  DocumentDispatcher
	cache       CacheInvalidator
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	draining bool
	pending  sync.WaitGroup
}

// NewService constructs the voucher service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        cfg.Repo,
		invoices:    cfg.Invoices,
		approvals:   cfg.Approvals,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		dispatcher:  cfg.Dispatcher,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         now,
	}
}

// AllocationInput selects one invoice. A nil Amount defaults to the
// remaining balance.
type AllocationInput struct {
	InvoiceID int64
	Amount    *float64
}

// CreateInput describes a new voucher.
type CreateInput struct {
	SupplierID           int64
	VoucherDate          time.Time
	Allocations          []AllocationInput
	IsSplitPayment       bool
	Split                allocation.SplitInputs
	Method               allocation.PaymentMethod
	BankAccountRef       string
	ChequeNumber         string
	MatchingAcknowledged bool
	Notes                string
	IdempotencyKey       string
}

// BuildRequest loads the selected invoices and turns the input into an
// allocation request in selection order.
func (s *Service) BuildRequest(ctx context.Context, input CreateInput) (allocation.Request, error) {
	req := allocation.Request{
		SupplierID:           input.SupplierID,
		IsSplitPayment:       input.IsSplitPayment,
		Split:                input.Split,
		Method:               input.Method,
		BankAccountRef:       strings.TrimSpace(input.BankAccountRef),
		MatchingAcknowledged: input.MatchingAcknowledged,
	}
	if input.SupplierID == 0 || len(input.Allocations) == 0 {
		return req, nil
	}
	ids := make([]int64, 0, len(input.Allocations))
	seen := make(map[int64]struct{}, len(input.Allocations))
	for _, a := range input.Allocations {
		if _, dup := seen[a.InvoiceID]; dup {
			return req, fmt.Errorf("%w: invoice %d selected twice", ErrValidation, a.InvoiceID)
		}
		seen[a.InvoiceID] = struct{}{}
		ids = append(ids, a.InvoiceID)
	}
	records, err := s.invoices.ComparisonsByIDs(ctx, input.SupplierID, ids)
	if err != nil {
		return req, err
	}
	byID := make(map[int64]documents.InvoiceComparisonRecord, len(records))
	for _, rec := range records {
		byID[rec.InvoiceID] = rec
	}
	var sel allocation.Selection
	for _, a := range input.Allocations {
		rec, ok := byID[a.InvoiceID]
		if !ok {
			return req, fmt.Errorf("%w: invoice %d not found for supplier %d", ErrValidation, a.InvoiceID, input.SupplierID)
		}
		if rec.RemainingAmount() <= 0 {
			return req, fmt.Errorf("%w: invoice %s is fully paid", ErrValidation, rec.InvoiceNumber)
		}
		sel = allocation.Toggle(sel, rec)
		if a.Amount != nil {
			sel = allocation.SetAllocatedAmount(sel, a.InvoiceID, *a.Amount)
		}
	}
	req.Selection = sel
	return req, nil
}

// Preview evaluates the input without persisting anything.
func (s *Service) Preview(ctx context.Context, input CreateInput) (allocation.Preview, error) {
	req, err := s.BuildRequest(ctx, input)
	if err != nil {
		return allocation.Preview{}, err
	}
	return allocation.Evaluate(req), nil
}

// Create validates the selection, freezes the reconciliation of every
// invoice and persists a PENDING voucher.
func (s *Service) Create(ctx context.Context, actor shared.ActorContext, input CreateInput) (PaymentVoucher, error) {
	if actor.IsZero() {
		return PaymentVoucher{}, shared.ErrActorRequired
	}
	req, err := s.BuildRequest(ctx, input)
	if err != nil {
		return PaymentVoucher{}, err
	}
	for _, a := range req.Selection {
		req.Selection = allocation.SetAllocatedAmount(req.Selection, a.Invoice.InvoiceID, shared.Round2(a.AllocatedAmount))
	}
	preview := allocation.Evaluate(req)
	if preview.Error != nil {
		return PaymentVoucher{}, preview.Error
	}
	for _, a := range req.Selection {
		if a.AllocatedAmount <= 0 {
			return PaymentVoucher{}, fmt.Errorf("%w: allocation for invoice %s must be positive", ErrValidation, a.Invoice.InvoiceNumber)
		}
	}
	if shared.Round2(preview.Breakdown.Amount) <= 0 {
		return PaymentVoucher{}, fmt.Errorf("%w: voucher amount must be positive", ErrValidation)
	}
	currency := req.Selection[0].Invoice.Currency
	for _, a := range req.Selection[1:] {
		if a.Invoice.Currency != currency {
			return PaymentVoucher{}, fmt.Errorf("%w: invoices use different currencies", ErrValidation)
		}
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, Module); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PaymentVoucher{}, ErrDuplicateRequest
			}
			return PaymentVoucher{}, err
		}
	}

	now := s.now()
	v := PaymentVoucher{
		VoucherDate:          defaultTime(input.VoucherDate, now),
		SupplierID:           req.SupplierID,
		SupplierName:         req.Selection[0].Invoice.SupplierName,
		Currency:             currency,
		ExchangeRate:         req.Selection[0].Invoice.ExchangeRate,
		BankAccountRef:       req.BankAccountRef,
		ChequeNumber:         strings.TrimSpace(input.ChequeNumber),
		IsSplitPayment:       req.IsSplitPayment,
		Status:               StatusOpen,
		ApprovalStatus:       ApprovalPending,
		MatchingAcknowledged: req.MatchingAcknowledged,
		Notes:                strings.TrimSpace(input.Notes),
		CreatedBy:            actor.UserID,
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	v.applyBreakdown(roundBreakdown(preview.Breakdown))
	for i, a := range req.Selection {
		v.Allocations = append(v.Allocations, Allocation{
			SupplierInvoiceID: a.Invoice.InvoiceID,
			Position:          i + 1,
			AllocatedAmount:   a.AllocatedAmount,
			Snapshot:          freezeSnapshot(preview.Comparisons[i], now),
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextVoucherNumber(ctx, v.VoucherDate)
		if err != nil {
			return err
		}
		v.VoucherNumber = number
		if err := tx.Insert(ctx, &v); err != nil {
			return err
		}
		s.recordApproval(ctx, v, actor, shared.ApprovalSubmit, fmt.Sprintf("voucher %s created", v.VoucherNumber))
		s.recordAudit(ctx, actor, "voucher.create", v.ID, map[string]any{
			"voucher_number": v.VoucherNumber,
			"amount":         v.Amount,
			"invoices":       len(v.Allocations),
			"acknowledged":   v.MatchingAcknowledged,
		})
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), input.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return PaymentVoucher{}, err
	}
	s.logger.Info("voucher created", slog.Int64("voucher_id", v.ID), slog.String("voucher_number", v.VoucherNumber), slog.Float64("amount", v.Amount))
	return v, nil
}

// Get returns a voucher with its allocations.
func (s *Service) Get(ctx context.Context, id int64) (PaymentVoucher, error) {
	return s.repo.Get(ctx, id)
}

// List returns vouchers matching filters and the pagination metadata.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]PaymentVoucher, shared.Pagination, error) {
	filters.Page, filters.PerPage = shared.NormalizePage(filters.Page, filters.PerPage)
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// History returns the approval trail of a voucher.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, Module, shared.ApprovalRef(Module, id))
}

// ApproveFinance moves a PENDING voucher to FINANCE_APPROVED.
func (s *Service) ApproveFinance(ctx context.Context, actor shared.ActorContext, id, expectedVersion int64) (PaymentVoucher, error) {
	return s.Transition(ctx, actor, id, expectedVersion, ActionApproveFinance, "")
}

// ApproveGeneral moves a FINANCE_APPROVED voucher to GM_APPROVED.
func (s *Service) ApproveGeneral(ctx context.Context, actor shared.ActorContext, id, expectedVersion int64) (PaymentVoucher, error) {
	return s.Transition(ctx, actor, id, expectedVersion, ActionApproveGeneral, "")
}

// Pay disburses a GM_APPROVED voucher.
func (s *Service) Pay(ctx context.Context, actor shared.ActorContext, id, expectedVersion int64) (PaymentVoucher, error) {
	return s.Transition(ctx, actor, id, expectedVersion, ActionPay, "")
}

// Reject terminates a voucher still awaiting approval.
func (s *Service) Reject(ctx context.Context, actor shared.ActorContext, id, expectedVersion int64, reason string) (PaymentVoucher, error) {
	return s.Transition(ctx, actor, id, expectedVersion, ActionReject, reason)
}

// Cancel terminates any open voucher.
func (s *Service) Cancel(ctx context.Context, actor shared.ActorContext, id, expectedVersion int64, reason string) (PaymentVoucher, error) {
	return s.Transition(ctx, actor, id, expectedVersion, ActionCancel, reason)
}

// Transition applies one workflow action atomically. A non-zero
// expectedVersion must match the stored version. Paying also commits the
// paid out amounts onto the invoices and then schedules the disbursement
// document without waiting for it.
func (s *Service) Transition(ctx context.Context, actor shared.ActorContext, id, expectedVersion int64, action Action, reason string) (PaymentVoucher, error) {
	if actor.IsZero() {
		return PaymentVoucher{}, shared.ErrActorRequired
	}
	var updated PaymentVoucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != 0 && current.Version != expectedVersion {
			return ErrVersionConflict
		}
		next, err := Apply(current, action, actor, reason, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateState(ctx, next, current.Version); err != nil {
			return err
		}
		if action == ActionPay {
			if err := tx.ApplyInvoicePayments(ctx, next.Payouts()); err != nil {
				return err
			}
		}
		s.recordApproval(ctx, next, actor, approvalActionFor(action), strings.TrimSpace(reason))
		s.recordAudit(ctx, actor, "voucher."+string(action), id, map[string]any{
			"voucher_number":  next.VoucherNumber,
			"status":          next.Status,
			"approval_status": next.ApprovalStatus,
			"version":         next.Version,
		})
		updated = next
		return nil
	})
	s.observe(action, err)
	if err != nil {
		return PaymentVoucher{}, err
	}
	s.logger.Info("voucher transition", slog.Int64("voucher_id", id), slog.String("action", string(action)), slog.Int64("actor_id", actor.UserID))
	if action == ActionPay {
		s.afterPay(ctx, updated)
	}
	return updated, nil
}

// UpdateAllocationAmount edits one allocation while the voucher is OPEN and
// PENDING. Non-split vouchers re-derive their amount from the allocations.
func (s *Service) UpdateAllocationAmount(ctx context.Context, actor shared.ActorContext, id, invoiceID, expectedVersion int64, amount float64) (PaymentVoucher, error) {
	if actor.IsZero() {
		return PaymentVoucher{}, shared.ErrActorRequired
	}
	if amount <= 0 {
		return PaymentVoucher{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	var updated PaymentVoucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != 0 && current.Version != expectedVersion {
			return ErrVersionConflict
		}
		if !current.Editable() {
			return ErrAllocationLocked
		}
		next := current
		next.Allocations = append([]Allocation(nil), current.Allocations...)
		idx := -1
		for i, a := range next.Allocations {
			if a.SupplierInvoiceID == invoiceID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrAllocationNotFound
		}
		previous := next.Allocations[idx].AllocatedAmount
		next.Allocations[idx].AllocatedAmount = shared.Round2(amount)

		if next.IsSplitPayment {
			if total := next.AllocatedTotal(); next.Amount > total+allocation.SplitTolerance {
				return fmt.Errorf("%w: split %.2f, allocated %.2f", allocation.ErrSplitPaymentExceedsTotal, next.Amount, total)
			}
		} else {
			amounts := make([]float64, 0, len(next.Allocations))
			for _, a := range next.Allocations {
				amounts = append(amounts, a.AllocatedAmount)
			}
			next.applyBreakdown(allocation.SingleMethod(shared.SumRounded(amounts...), next.PaymentMethod))
		}
		next.Version = current.Version + 1
		next.UpdatedAt = s.now()

		if err := tx.UpdateAllocationAmount(ctx, next.Allocations[idx].ID, next.Allocations[idx].AllocatedAmount); err != nil {
			return err
		}
		if err := tx.UpdateState(ctx, next, current.Version); err != nil {
			return err
		}
		s.recordAudit(ctx, actor, "voucher.allocation_update", id, map[string]any{
			"invoice_id": invoiceID,
			"from":       previous,
			"to":         next.Allocations[idx].AllocatedAmount,
			"amount":     next.Amount,
		})
		updated = next
		return nil
	})
	if err != nil {
		return PaymentVoucher{}, err
	}
	return updated, nil
}

// RecordDocument stores where the disbursement document was written.
func (s *Service) RecordDocument(ctx context.Context, id int64, path string) error {
	return s.repo.SetDocumentPath(ctx, id, path)
}

// Drain waits for detached post-payment work to finish. Payments committed
// after Drain starts run their follow-up work inline.
func (s *Service) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.pending.Wait()
}

func (s *Service) afterPay(ctx context.Context, v PaymentVoucher) {
	detached := context.WithoutCancel(ctx)
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.followUpPayment(detached, v)
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.pending.Done()
		s.followUpPayment(detached, v)
	}()
}

func (s *Service) followUpPayment(ctx context.Context, v PaymentVoucher) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("invalidate invoice comparisons", slog.Any("error", err))
		}
	}
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.DispatchDisbursement(ctx, v.ID, v.VoucherNumber); err != nil {
		s.logger.Error("dispatch disbursement document", slog.Int64("voucher_id", v.ID), slog.String("voucher_number", v.VoucherNumber), slog.Any("error", err))
		return
	}
	s.logger.Info("disbursement document scheduled", slog.Int64("voucher_id", v.ID))
}

func (s *Service) observe(action Action, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidStateTransition):
		outcome = "invalid_transition"
	case errors.Is(err, ErrVersionConflict):
		outcome = "conflict"
	case errors.Is(err, ErrReasonRequired):
		outcome = "rejected_input"
	default:
		outcome = "error"
	}
	s.metrics.ObserveVoucherTransition(string(action), outcome)
}

func (s *Service) recordApproval(ctx context.Context, v PaymentVoucher, actor shared.ActorContext, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  Module,
		RefID:   shared.ApprovalRef(Module, v.ID),
		ActorID: actor.UserID,
		Role:    actor.Role,
		Action:  action,
		Note:    note,
		At:      v.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("record voucher approval", slog.Int64("voucher_id", v.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.ActorContext, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor.UserID, Action: action, Entity: "payment_voucher", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("record voucher audit", slog.Int64("voucher_id", entityID), slog.Any("error", err))
	}
}

func freezeSnapshot(cmp reconcile.Comparison, at time.Time) AllocationSnapshot {
	return AllocationSnapshot{
		InvoiceNumber:      cmp.InvoiceNumber,
		POTotal:            shared.Round2(cmp.EffectivePOTotal),
		GRNTotal:           shared.Round2(cmp.GRNTotal),
		InvoiceTotal:       shared.Round2(cmp.InvoiceTotal),
		IsValid:            cmp.IsValid,
		VariancePercentage: shared.Round2(cmp.VariancePercentage),
		Status:             cmp.Status,
		CapturedAt:         at,
	}
}

func roundBreakdown(b allocation.Breakdown) allocation.Breakdown {
	b.Cash = shared.Round2(b.Cash)
	b.BankTransfer = shared.Round2(b.BankTransfer)
	b.Cheque = shared.Round2(b.Cheque)
	b.Bank = shared.Round2(b.Bank)
	b.Amount = shared.SumRounded(b.Cash, b.BankTransfer, b.Cheque, b.Bank)
	return b
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
