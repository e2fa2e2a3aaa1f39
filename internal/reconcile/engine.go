// Package reconcile recomputes supplier document chains after returns and
// compares the result against the supplier invoice.
package reconcile

import (
	"math"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
)

const (
	// ValidityTolerance is the absolute difference under which two totals match.
	ValidityTolerance = 0.01
	// HighVarianceThreshold is the variance percentage above which a chain is flagged.
	HighVarianceThreshold = 10.0
)

// LineResult is the recomputed monetary line of one item.
type LineResult struct {
	ItemName       string  `json:"itemName"`
	NetQty         float64 `json:"netQty"`
	GrossAmount    float64 `json:"grossAmount"`
	DiscountAmount float64 `json:"discountAmount"`
	AfterDiscount  float64 `json:"afterDiscount"`
	TaxAmount      float64 `json:"taxAmount"`
	LineTotal      float64 `json:"lineTotal"`
	// NegativeNetQty is set when returns exceed the ordered quantity. The value
	// is kept unclamped.
	NegativeNetQty bool `json:"negativeNetQty,omitempty"`
}

// MissingField names an input that was absent and evaluated as zero.
type MissingField struct {
	ItemName string          `json:"itemName"`
	Stage    documents.Stage `json:"stage"`
	Field    string          `json:"field"`
}

// Result is the aggregate of Reconcile. It is derived and never persisted.
type Result struct {
	Lines                     []LineResult   `json:"lines"`
	ReconciledSubTotal        float64        `json:"reconciledSubTotal"`
	ReconciledDiscountAmount  float64        `json:"reconciledDiscountAmount"`
	ReconciledTaxAmount       float64        `json:"reconciledTaxAmount"`
	NetDueAfterReconciliation float64        `json:"netDueAfterReconciliation"`
	HasReturns                bool           `json:"hasReturns"`
	InsufficientData          bool           `json:"insufficientData"`
	MissingFields             []MissingField `json:"missingFields,omitempty"`
}

// Reconcile recomputes every line from PO quantity, PO unit price and the
// returned quantity, then re-derives discount and tax on the adjusted base.
// Stored line totals are ignored. Absent numerics evaluate as zero and mark
// the result as InsufficientData.
func Reconcile(items []documents.LineItem, poDiscountPct, poTaxPct float64) Result {
	res := Result{Lines: make([]LineResult, 0, len(items))}
	for _, item := range items {
		if !item.PO.HasQuantity() {
			res.MissingFields = append(res.MissingFields, MissingField{ItemName: item.ItemName, Stage: documents.StagePO, Field: "quantity"})
		}
		if !item.PO.HasUnitPrice() {
			res.MissingFields = append(res.MissingFields, MissingField{ItemName: item.ItemName, Stage: documents.StagePO, Field: "unitPrice"})
		}
		line := computeLine(item, poDiscountPct, poTaxPct)
		if item.HasReturn() {
			res.HasReturns = true
		}
		res.ReconciledSubTotal += line.GrossAmount
		res.ReconciledDiscountAmount += line.DiscountAmount
		res.ReconciledTaxAmount += line.TaxAmount
		res.Lines = append(res.Lines, line)
	}
	res.NetDueAfterReconciliation = res.ReconciledSubTotal - res.ReconciledDiscountAmount + res.ReconciledTaxAmount
	res.InsufficientData = len(items) == 0 || len(res.MissingFields) > 0 || allZero(res)
	return res
}

func computeLine(item documents.LineItem, poDiscountPct, poTaxPct float64) LineResult {
	netQty := item.PO.Qty() - item.ReturnedQty()
	gross := netQty * item.PO.Price()
	discount := gross * (poDiscountPct / 100)
	afterDiscount := gross - discount
	tax := afterDiscount * (poTaxPct / 100)
	return LineResult{
		ItemName:       item.ItemName,
		NetQty:         netQty,
		GrossAmount:    gross,
		DiscountAmount: discount,
		AfterDiscount:  afterDiscount,
		TaxAmount:      tax,
		LineTotal:      afterDiscount + tax,
		NegativeNetQty: netQty < 0,
	}
}

func allZero(res Result) bool {
	return res.ReconciledSubTotal == 0 && res.ReconciledDiscountAmount == 0 && res.ReconciledTaxAmount == 0
}

// EffectivePOTotal selects the PO-side total used for comparison. With any
// return on the chain it is the recomputed net due plus PO shipping and other
// costs, otherwise the stored PO total.
func EffectivePOTotal(snapshot documents.Snapshot, res Result) float64 {
	if res.HasReturns {
		return res.NetDueAfterReconciliation + snapshot.PO.ShippingCost + snapshot.PO.OtherCosts
	}
	return snapshot.PO.TotalValue()
}

// IsValid applies the tolerant total check. A previously stored valid flag
// always wins.
func IsValid(storedIsValid bool, effectivePOTotal, invoiceTotal float64) bool {
	return storedIsValid || math.Abs(effectivePOTotal-invoiceTotal) < ValidityTolerance
}

// VariancePercentage returns |invoice − target| / target × 100, or zero when
// the target is not positive.
func VariancePercentage(invoiceTotal, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return math.Abs(invoiceTotal-target) / target * 100
}
