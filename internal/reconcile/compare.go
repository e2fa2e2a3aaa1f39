package reconcile

import (
	"math"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
)

// Status summarises a comparison.
type Status string

const (
	StatusMatched          Status = "MATCHED"
	StatusMismatched       Status = "MISMATCHED"
	StatusInsufficientData Status = "INSUFFICIENT_DATA"
)

// ItemMatch is the strict line-level check of one item. Quantities and
// prices are compared with exact equality.
type ItemMatch struct {
	ItemName         string  `json:"itemName"`
	InvoiceQty       float64 `json:"invoiceQty"`
	ExpectedQty      float64 `json:"expectedQty"`
	InvoiceUnitPrice float64 `json:"invoiceUnitPrice"`
	POUnitPrice      float64 `json:"poUnitPrice"`
	QuantityMatched  bool    `json:"quantityMatched"`
	PriceMatched     bool    `json:"priceMatched"`
	Matched          bool    `json:"matched"`
}

// Comparison is the reconciliation verdict for one supplier invoice.
type Comparison struct {
	InvoiceID          int64       `json:"invoiceId"`
	InvoiceNumber      string      `json:"invoiceNumber"`
	Reconciliation     Result      `json:"reconciliation"`
	POTotal            float64     `json:"poTotal"`
	GRNTotal           float64     `json:"grnTotal"`
	EffectivePOTotal   float64     `json:"effectivePoTotal"`
	InvoiceTotal       float64     `json:"invoiceTotal"`
	TargetTotal        float64     `json:"targetTotal"`
	IsValid            bool        `json:"isValid"`
	VariancePercentage float64     `json:"variancePercentage"`
	IsHighVariance     bool        `json:"isHighVariance"`
	Items              []ItemMatch `json:"items"`
	MatchedItems       int         `json:"matchedItems"`
	TotalItems         int         `json:"totalItems"`
	MatchPercentage    int         `json:"matchPercentage"`
	Status             Status      `json:"status"`
}

// Confirmed reports whether the chain can be treated as matching.
func (c Comparison) Confirmed() bool {
	return c.Status == StatusMatched
}

// Compare reconciles the record's chain and checks it against the invoice.
// When authoritative totals are absent or the target total is not positive
// the status is INSUFFICIENT_DATA and only the stored flag can make the
// invoice valid.
func Compare(record documents.InvoiceComparisonRecord) Comparison {
	snap := record.Snapshot
	res := Reconcile(snap.Items, snap.PODiscountPct, snap.POTaxPct)

	cmp := Comparison{
		InvoiceID:        record.InvoiceID,
		InvoiceNumber:    record.InvoiceNumber,
		Reconciliation:   res,
		POTotal:          snap.PO.TotalValue(),
		GRNTotal:         snap.GRN.TotalValue(),
		EffectivePOTotal: EffectivePOTotal(snap, res),
		InvoiceTotal:     record.InvoiceTotal(),
	}

	cmp.TargetTotal = cmp.EffectivePOTotal
	if cmp.GRNTotal > 0 {
		cmp.TargetTotal = cmp.GRNTotal
	}

	insufficient := snap.Invoice.Total == nil || cmp.TargetTotal <= 0
	if res.HasReturns {
		insufficient = insufficient || res.InsufficientData
	} else if snap.PO.Total == nil {
		insufficient = true
	}

	if insufficient {
		cmp.IsValid = snap.StoredIsValid
	} else {
		cmp.IsValid = IsValid(snap.StoredIsValid, cmp.EffectivePOTotal, cmp.InvoiceTotal)
	}
	cmp.VariancePercentage = VariancePercentage(cmp.InvoiceTotal, cmp.TargetTotal)
	cmp.IsHighVariance = cmp.VariancePercentage > HighVarianceThreshold

	cmp.Items = make([]ItemMatch, 0, len(snap.Items))
	for _, item := range snap.Items {
		m := matchItem(item)
		if m.Matched {
			cmp.MatchedItems++
		}
		cmp.Items = append(cmp.Items, m)
	}
	cmp.TotalItems = len(snap.Items)
	if cmp.TotalItems > 0 {
		cmp.MatchPercentage = int(math.Round(float64(cmp.MatchedItems) / float64(cmp.TotalItems) * 100))
	}

	switch {
	case insufficient:
		cmp.Status = StatusInsufficientData
	case cmp.IsValid:
		cmp.Status = StatusMatched
	default:
		cmp.Status = StatusMismatched
	}
	return cmp
}

// matchItem requires the invoice line to exist; an uninvoiced item never
// matches even if every other stage is zero.
func matchItem(item documents.LineItem) ItemMatch {
	m := ItemMatch{
		ItemName:         item.ItemName,
		InvoiceQty:       item.Invoice.Qty(),
		ExpectedQty:      item.GRN.Qty() - item.ReturnedQty(),
		InvoiceUnitPrice: item.Invoice.Price(),
		POUnitPrice:      item.PO.Price(),
	}
	if item.Invoice == nil {
		return m
	}
	m.QuantityMatched = m.InvoiceQty == m.ExpectedQty
	m.PriceMatched = m.InvoiceUnitPrice == m.POUnitPrice
	m.Matched = m.QuantityMatched && m.PriceMatched
	return m
}

// CompareAll runs Compare for each record preserving order.
func CompareAll(records []documents.InvoiceComparisonRecord) []Comparison {
	out := make([]Comparison, 0, len(records))
	for _, rec := range records {
		out = append(out, Compare(rec))
	}
	return out
}
