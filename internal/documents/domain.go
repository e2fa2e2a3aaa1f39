// Package documents models the supplier document chain (purchase order,
// goods receipt, return note and supplier invoice) as immutable snapshots.
package documents

import (
	"errors"
	"time"
)

// ErrNotFound indicates the requested invoice snapshot does not exist.
var ErrNotFound = errors.New("documents: not found")

// Stage identifies one document in the procurement chain.
type Stage string

const (
	StagePO      Stage = "PO"
	StageGRN     Stage = "GRN"
	StageReturn  Stage = "RETURN"
	StageInvoice Stage = "INVOICE"
)

// StageLine holds the monetary line of one item at one stage. Nil pointers
// mean the value was never supplied upstream, which is distinct from zero.
type StageLine struct {
	Quantity  *float64 `json:"quantity,omitempty"`
	UnitPrice *float64 `json:"unitPrice,omitempty"`
	LineTotal *float64 `json:"lineTotal,omitempty"`
}

// Qty returns the quantity or zero when absent.
func (l *StageLine) Qty() float64 {
	if l == nil {
		return 0
	}
	return Value(l.Quantity)
}

// Price returns the unit price or zero when absent.
func (l *StageLine) Price() float64 {
	if l == nil {
		return 0
	}
	return Value(l.UnitPrice)
}

// HasQuantity reports whether a quantity was supplied at this stage.
func (l *StageLine) HasQuantity() bool {
	return l != nil && l.Quantity != nil
}

// HasUnitPrice reports whether a unit price was supplied at this stage.
func (l *StageLine) HasUnitPrice() bool {
	return l != nil && l.UnitPrice != nil
}

// LineItem is one item matched across the whole chain. A nil stage means the
// item has not reached that document yet.
type LineItem struct {
	ItemName string     `json:"itemName"`
	PO       *StageLine `json:"po,omitempty"`
	GRN      *StageLine `json:"grn,omitempty"`
	Return   *StageLine `json:"return,omitempty"`
	Invoice  *StageLine `json:"invoice,omitempty"`
}

// ReturnedQty is the returned quantity, zero when nothing was returned.
func (i LineItem) ReturnedQty() float64 {
	return i.Return.Qty()
}

// HasReturn reports whether a non-zero return was recorded for the item.
func (i LineItem) HasReturn() bool {
	return i.ReturnedQty() != 0
}

// DocumentTotals are the header totals of a single document.
type DocumentTotals struct {
	SubTotal       float64  `json:"subTotal"`
	TaxAmount      float64  `json:"taxAmount"`
	DiscountAmount float64  `json:"discountAmount"`
	ShippingCost   float64  `json:"shippingCost"`
	OtherCosts     float64  `json:"otherCosts"`
	Total          *float64 `json:"total,omitempty"`
}

// TotalValue returns Total or zero when absent.
func (t DocumentTotals) TotalValue() float64 {
	return Value(t.Total)
}

// Snapshot aggregates every stage of one supplier invoice's chain.
type Snapshot struct {
	PO            DocumentTotals `json:"poTotals"`
	GRN           DocumentTotals `json:"grnTotals"`
	Invoice       DocumentTotals `json:"invoiceTotals"`
	PODiscountPct float64        `json:"poDiscountPct"`
	POTaxPct      float64        `json:"poTaxPct"`
	StoredIsValid bool           `json:"isValid"`
	Items         []LineItem     `json:"items"`
	PONumber      string         `json:"poNumber,omitempty"`
	GRNNumber     string         `json:"grnNumber,omitempty"`
	ReturnNumber  string         `json:"returnNumber,omitempty"`
	AsOf          time.Time      `json:"asOf"`
}

// HasReturns reports whether any item of the chain carries a return.
func (s Snapshot) HasReturns() bool {
	for _, item := range s.Items {
		if item.HasReturn() {
			return true
		}
	}
	return false
}

// InvoiceComparisonRecord is the per-invoice view consumed by reconciliation
// and allocation.
type InvoiceComparisonRecord struct {
	InvoiceID     int64      `json:"invoiceId"`
	InvoiceNumber string     `json:"invoiceNumber"`
	SupplierID    int64      `json:"supplierId"`
	SupplierName  string     `json:"supplierName,omitempty"`
	Currency      string     `json:"currency"`
	ExchangeRate  float64    `json:"exchangeRate"`
	InvoiceDate   time.Time  `json:"invoiceDate"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	PaidAmount    float64    `json:"paidAmount"`
	Snapshot      Snapshot   `json:"snapshot"`
}

// InvoiceTotal is the authoritative invoice total.
func (r InvoiceComparisonRecord) InvoiceTotal() float64 {
	return r.Snapshot.Invoice.TotalValue()
}

// RemainingAmount is the unpaid balance, floored at zero.
func (r InvoiceComparisonRecord) RemainingAmount() float64 {
	remaining := r.InvoiceTotal() - r.PaidAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SupplierPending groups one supplier's invoices that still carry a balance.
type SupplierPending struct {
	SupplierID       int64                     `json:"supplierId"`
	SupplierCode     string                    `json:"supplierCode"`
	SupplierName     string                    `json:"supplierName"`
	InvoiceCount     int                       `json:"invoiceCount"`
	Invoices         []InvoiceComparisonRecord `json:"invoices"`
	TotalOutstanding float64                   `json:"totalOutstanding"`
}

// Value dereferences an optional numeric, treating nil as zero.
func Value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Float returns a pointer to v, convenient for building optional fields.
func Float(v float64) *float64 {
	return &v
}
