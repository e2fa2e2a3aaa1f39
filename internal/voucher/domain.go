// Package voucher owns the payment voucher lifecycle from creation through
// the finance and general manager approvals to disbursement.
package voucher

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/odyssey-erp/odyssey-payables/internal/allocation"
	"github.com/odyssey-erp/odyssey-payables/internal/reconcile"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// Module is the approval and audit module name of payment vouchers.
const Module = "PAYMENT_VOUCHER"

// Status is the voucher-level lifecycle axis.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// ApprovalStatus is the approval axis, correlated with Status.
type ApprovalStatus string

const (
	ApprovalPending         ApprovalStatus = "PENDING"
	ApprovalFinanceApproved ApprovalStatus = "FINANCE_APPROVED"
	ApprovalGMApproved      ApprovalStatus = "GM_APPROVED"
	ApprovalRejected        ApprovalStatus = "REJECTED"
)

// Action is a workflow transition.
type Action string

const (
	ActionApproveFinance Action = "approve_finance"
	ActionApproveGeneral Action = "approve_general"
	ActionPay            Action = "pay"
	ActionReject         Action = "reject"
	ActionCancel         Action = "cancel"
)

var (
	ErrNotFound               = errors.New("voucher: not found")
	ErrInvalidStateTransition = errors.New("voucher: invalid state transition")
	ErrVersionConflict        = errors.New("voucher: modified by another operator, reload and retry")
	ErrReasonRequired         = errors.New("voucher: reason is required")
	ErrAllocationLocked       = errors.New("voucher: allocations can only change while open and pending")
	ErrAllocationNotFound     = errors.New("voucher: allocation not found")
	ErrValidation             = errors.New("voucher: invalid input")
	ErrDuplicateRequest       = errors.New("voucher: request already processed")
)

// AllocationSnapshot freezes the reconciliation of an invoice at voucher
// creation. It is written once and never updated.
type AllocationSnapshot struct {
	InvoiceNumber      string           `json:"invoiceNumber"`
	POTotal            float64          `json:"poTotal"`
	GRNTotal           float64          `json:"grnTotal"`
	InvoiceTotal       float64          `json:"invoiceTotal"`
	IsValid            bool             `json:"isValid"`
	VariancePercentage float64          `json:"variancePercentage"`
	Status             reconcile.Status `json:"status"`
	CapturedAt         time.Time        `json:"capturedAt"`
}

// Allocation is the part of a voucher paid against one supplier invoice.
type Allocation struct {
	ID                int64              `json:"id"`
	VoucherID         int64              `json:"voucherId"`
	SupplierInvoiceID int64              `json:"supplierInvoiceId"`
	Position          int                `json:"position"`
	AllocatedAmount   float64            `json:"allocatedAmount"`
	Snapshot          AllocationSnapshot `json:"snapshot"`
}

// PaymentVoucher is a payment to one supplier allocated across invoices.
type PaymentVoucher struct {
	ID                   int64                    `json:"id"`
	VoucherNumber        string                   `json:"voucherNumber"`
	VoucherDate          time.Time                `json:"voucherDate"`
	SupplierID           int64                    `json:"supplierId"`
	SupplierName         string                   `json:"supplierName,omitempty"`
	Currency             string                   `json:"currency"`
	ExchangeRate         float64                  `json:"exchangeRate"`
	Amount               float64                  `json:"amount"`
	PaymentMethod        allocation.PaymentMethod `json:"paymentMethod"`
	CashAmount           float64                  `json:"cashAmount"`
	BankTransferAmount   float64                  `json:"bankTransferAmount"`
	ChequeAmount         float64                  `json:"chequeAmount"`
	BankAmount           float64                  `json:"bankAmount"`
	BankAccountRef       string                   `json:"bankAccountRef,omitempty"`
	ChequeNumber         string                   `json:"chequeNumber,omitempty"`
	IsSplitPayment       bool                     `json:"isSplitPayment"`
	Status               Status                   `json:"status"`
	ApprovalStatus       ApprovalStatus           `json:"approvalStatus"`
	MatchingAcknowledged bool                     `json:"matchingAcknowledged"`
	Notes                string                   `json:"notes,omitempty"`
	CreatedBy            int64                    `json:"createdBy"`
	CreatedAt            time.Time                `json:"createdAt"`
	FinanceApprovedBy    *int64                   `json:"financeApprovedBy,omitempty"`
	FinanceApprovedAt    *time.Time               `json:"financeApprovedAt,omitempty"`
	GeneralApprovedBy    *int64                   `json:"generalApprovedBy,omitempty"`
	GeneralApprovedAt    *time.Time               `json:"generalApprovedAt,omitempty"`
	PaidBy               *int64                   `json:"paidBy,omitempty"`
	PaidAt               *time.Time               `json:"paidAt,omitempty"`
	RejectedBy           *int64                   `json:"rejectedBy,omitempty"`
	RejectedAt           *time.Time               `json:"rejectedAt,omitempty"`
	RejectionReason      string                   `json:"rejectionReason,omitempty"`
	CancelledBy          *int64                   `json:"cancelledBy,omitempty"`
	CancelledAt          *time.Time               `json:"cancelledAt,omitempty"`
	CancellationReason   string                   `json:"cancellationReason,omitempty"`
	DocumentPath         string                   `json:"-"`
	Version              int64                    `json:"version"`
	UpdatedAt            time.Time                `json:"updatedAt"`
	Allocations          []Allocation             `json:"allocations"`
}

// AllocatedTotal sums the allocation amounts.
func (v PaymentVoucher) AllocatedTotal() float64 {
	var total float64
	for _, a := range v.Allocations {
		total += a.AllocatedAmount
	}
	return total
}

// InvoicePayment is what a paid voucher settles on one invoice.
type InvoicePayment struct {
	InvoiceID int64
	Amount    float64
}

// Payouts spreads the voucher amount over the allocations in position order,
// each capped at its allocated amount. A split voucher paying less than it
// allocates leaves the later invoices partly or wholly unpaid.
func (v PaymentVoucher) Payouts() []InvoicePayment {
	allocs := slices.Clone(v.Allocations)
	slices.SortStableFunc(allocs, func(a, b Allocation) int { return cmp.Compare(a.Position, b.Position) })
	remaining := shared.Round2(v.Amount)
	out := make([]InvoicePayment, 0, len(allocs))
	for _, a := range allocs {
		if remaining <= 0 {
			break
		}
		amount := shared.Round2(min(a.AllocatedAmount, remaining))
		if amount <= 0 {
			continue
		}
		out = append(out, InvoicePayment{InvoiceID: a.SupplierInvoiceID, Amount: amount})
		remaining = shared.Round2(remaining - amount)
	}
	return out
}

// Editable reports whether allocation amounts may still change.
func (v PaymentVoucher) Editable() bool {
	return v.Status == StatusOpen && v.ApprovalStatus == ApprovalPending
}

// Terminal reports whether no further transition is possible.
func (v PaymentVoucher) Terminal() bool {
	return v.Status == StatusPaid || v.Status == StatusCancelled || v.ApprovalStatus == ApprovalRejected
}

// Breakdown returns the stored amount split as an allocation breakdown.
func (v PaymentVoucher) Breakdown() allocation.Breakdown {
	return allocation.Breakdown{
		Amount:       v.Amount,
		Method:       v.PaymentMethod,
		Cash:         v.CashAmount,
		BankTransfer: v.BankTransferAmount,
		Cheque:       v.ChequeAmount,
		Bank:         v.BankAmount,
	}
}

func (v *PaymentVoucher) applyBreakdown(b allocation.Breakdown) {
	v.Amount = b.Amount
	v.PaymentMethod = b.Method
	v.CashAmount = b.Cash
	v.BankTransferAmount = b.BankTransfer
	v.ChequeAmount = b.Cheque
	v.BankAmount = b.Bank
}

// ListFilters narrows voucher listings.
type ListFilters struct {
	Status         Status
	ApprovalStatus ApprovalStatus
	SupplierID     int64
	Page           int
	PerPage        int
}
