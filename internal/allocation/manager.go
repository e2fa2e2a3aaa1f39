// Package allocation builds the invoice selection behind a payment voucher
// and validates it before submission.
package allocation

import (
	"strings"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
	"github.com/odyssey-erp/odyssey-payables/internal/reconcile"
)

// SplitTolerance is how far split inputs may exceed the allocated total.
const SplitTolerance = 0.01

// PaymentMethod identifies how a voucher is disbursed.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodBank         PaymentMethod = "BANK"
	MethodSplit        PaymentMethod = "SPLIT"
)

// RequiresBankAccount reports whether the method moves money through a bank.
func (m PaymentMethod) RequiresBankAccount() bool {
	return m == MethodBankTransfer || m == MethodBank
}

// Allocation is one invoice of a selection with the amount to pay on it.
type Allocation struct {
	Invoice         documents.InvoiceComparisonRecord `json:"invoice"`
	AllocatedAmount float64                           `json:"allocatedAmount"`
}

// Selection is the ordered set of invoices picked for one voucher. Functions
// in this package never mutate a Selection in place.
type Selection []Allocation

// Contains reports whether the invoice is selected.
func (s Selection) Contains(invoiceID int64) bool {
	return s.index(invoiceID) >= 0
}

// Total sums the allocated amounts.
func (s Selection) Total() float64 {
	var total float64
	for _, a := range s {
		total += a.AllocatedAmount
	}
	return total
}

func (s Selection) index(invoiceID int64) int {
	for i, a := range s {
		if a.Invoice.InvoiceID == invoiceID {
			return i
		}
	}
	return -1
}

// Toggle removes the invoice when selected, otherwise appends it with the
// remaining balance as the default amount. A fully paid invoice defaults to
// zero.
func Toggle(sel Selection, rec documents.InvoiceComparisonRecord) Selection {
	if idx := sel.index(rec.InvoiceID); idx >= 0 {
		out := make(Selection, 0, len(sel)-1)
		out = append(out, sel[:idx]...)
		return append(out, sel[idx+1:]...)
	}
	out := make(Selection, 0, len(sel)+1)
	out = append(out, sel...)
	return append(out, Allocation{Invoice: rec, AllocatedAmount: rec.RemainingAmount()})
}

// SetAllocatedAmount replaces the amount of one selected invoice. Any value is
// accepted; clamping against the remaining balance is left to the caller.
func SetAllocatedAmount(sel Selection, invoiceID int64, amount float64) Selection {
	out := make(Selection, len(sel))
	copy(out, sel)
	if idx := out.index(invoiceID); idx >= 0 {
		out[idx].AllocatedAmount = amount
	}
	return out
}

// SplitInputs are the per-method amounts entered for a split payment.
type SplitInputs struct {
	Cash         float64 `json:"cash" validate:"gte=0"`
	BankTransfer float64 `json:"bankTransfer" validate:"gte=0"`
	Cheque       float64 `json:"cheque" validate:"gte=0"`
	Bank         float64 `json:"bank" validate:"gte=0"`
}

// Sum adds the four buckets.
func (s SplitInputs) Sum() float64 {
	return s.Cash + s.BankTransfer + s.Cheque + s.Bank
}

// Breakdown is the derived voucher amount and its per-method buckets.
type Breakdown struct {
	Amount       float64       `json:"amount"`
	Method       PaymentMethod `json:"paymentMethod"`
	Cash         float64       `json:"cashAmount"`
	BankTransfer float64       `json:"bankTransferAmount"`
	Cheque       float64       `json:"chequeAmount"`
	Bank         float64       `json:"bankAmount"`
}

// ComputeVoucherAmount derives the voucher amount. Non-split vouchers pay the
// allocated total through one method bucket. Split vouchers pay the sum of the
// buckets; when only one bucket is funded the method collapses to it.
func ComputeVoucherAmount(sel Selection, split SplitInputs, isSplit bool, method PaymentMethod) Breakdown {
	if !isSplit {
		return SingleMethod(sel.Total(), method)
	}
	b := Breakdown{
		Amount:       split.Sum(),
		Method:       MethodSplit,
		Cash:         split.Cash,
		BankTransfer: split.BankTransfer,
		Cheque:       split.Cheque,
		Bank:         split.Bank,
	}
	funded := make([]PaymentMethod, 0, 4)
	for _, bucket := range []struct {
		method PaymentMethod
		amount float64
	}{
		{MethodCash, split.Cash},
		{MethodBankTransfer, split.BankTransfer},
		{MethodCheque, split.Cheque},
		{MethodBank, split.Bank},
	} {
		if bucket.amount != 0 {
			funded = append(funded, bucket.method)
		}
	}
	if len(funded) == 1 {
		b.Method = funded[0]
	}
	return b
}

// SingleMethod places the whole amount in the bucket of method. Unknown or
// empty methods pay in cash.
func SingleMethod(amount float64, method PaymentMethod) Breakdown {
	b := Breakdown{Amount: amount, Method: method}
	switch method {
	case MethodBankTransfer:
		b.BankTransfer = amount
	case MethodCheque:
		b.Cheque = amount
	case MethodBank:
		b.Bank = amount
	default:
		b.Method = MethodCash
		b.Cash = amount
	}
	return b
}

// Request is everything an operator submits to create a voucher.
type Request struct {
	SupplierID           int64         `json:"supplierId"`
	Selection            Selection     `json:"selection"`
	IsSplitPayment       bool          `json:"isSplitPayment"`
	Split                SplitInputs   `json:"split"`
	Method               PaymentMethod `json:"paymentMethod"`
	BankAccountRef       string        `json:"bankAccountRef"`
	MatchingAcknowledged bool          `json:"matchingAcknowledged"`
}

// ValidateSelection checks the request and returns the first failure as a
// *ValidationError, or nil.
func ValidateSelection(req Request) error {
	return validate(req, reconcileSelection(req.Selection))
}

func validate(req Request, comparisons []reconcile.Comparison) error {
	if req.SupplierID == 0 {
		return ErrNoSupplierSelected
	}
	if len(req.Selection) == 0 {
		return ErrNoInvoicesSelected
	}
	for _, a := range req.Selection {
		if a.Invoice.SupplierID != 0 && a.Invoice.SupplierID != req.SupplierID {
			return withDetail(ErrSupplierMismatch, "invoice %s", a.Invoice.InvoiceNumber)
		}
	}
	if !req.MatchingAcknowledged {
		for _, cmp := range comparisons {
			if !cmp.IsValid {
				return withDetail(ErrMatchingNotAcknowledged, "invoice %s is %s", cmp.InvoiceNumber, strings.ToLower(string(cmp.Status)))
			}
		}
	}
	if req.IsSplitPayment {
		split := req.Split
		if split.Cash < 0 || split.BankTransfer < 0 || split.Cheque < 0 || split.Bank < 0 {
			return withDetail(ErrInvalidSplitAmount, "buckets must not be negative")
		}
		if split.Sum() <= 0 {
			return withDetail(ErrInvalidSplitAmount, "fund at least one bucket")
		}
		total := req.Selection.Total()
		if sum := req.Split.Sum(); sum > total+SplitTolerance {
			return withDetail(ErrSplitPaymentExceedsTotal, "split %.2f, allocated %.2f", sum, total)
		}
		return nil
	}
	if req.Method.RequiresBankAccount() && strings.TrimSpace(req.BankAccountRef) == "" {
		return ErrMissingBankAccount
	}
	return nil
}

func reconcileSelection(sel Selection) []reconcile.Comparison {
	out := make([]reconcile.Comparison, 0, len(sel))
	for _, a := range sel {
		out = append(out, reconcile.Compare(a.Invoice))
	}
	return out
}

// Preview is the outcome of evaluating a request without persisting it.
type Preview struct {
	Breakdown   Breakdown              `json:"breakdown"`
	Allocated   float64                `json:"allocatedTotal"`
	Comparisons []reconcile.Comparison `json:"comparisons"`
	Valid       bool                   `json:"valid"`
	Error       *ValidationError       `json:"error,omitempty"`
}

// Evaluate reconciles every selected invoice, derives the voucher amount and
// validates the request in one pass.
func Evaluate(req Request) Preview {
	comparisons := reconcileSelection(req.Selection)
	p := Preview{
		Breakdown:   ComputeVoucherAmount(req.Selection, req.Split, req.IsSplitPayment, req.Method),
		Allocated:   req.Selection.Total(),
		Comparisons: comparisons,
		Valid:       true,
	}
	if err := validate(req, comparisons); err != nil {
		p.Valid = false
		p.Error, _ = err.(*ValidationError)
	}
	return p
}
