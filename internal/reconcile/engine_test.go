package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
)

func line(qty, price float64) *documents.StageLine {
	return &documents.StageLine{Quantity: documents.Float(qty), UnitPrice: documents.Float(price)}
}

func scenarioRecord(returned float64, invoiceTotal float64) documents.InvoiceComparisonRecord {
	item := documents.LineItem{
		ItemName: "Steel bolt M8",
		PO:       line(100, 10),
		GRN:      line(100, 10),
		Invoice:  line(100, 10),
	}
	if returned > 0 {
		item.Return = line(returned, 10)
	}
	snap := documents.Snapshot{
		PO:            documents.DocumentTotals{SubTotal: 1000, DiscountAmount: 50, TaxAmount: 133, Total: documents.Float(1083)},
		Invoice:       documents.DocumentTotals{Total: documents.Float(invoiceTotal)},
		PODiscountPct: 5,
		POTaxPct:      14,
		Items:         []documents.LineItem{item},
	}
	if returned == 0 {
		snap.GRN = documents.DocumentTotals{Total: documents.Float(1083)}
	}
	return documents.InvoiceComparisonRecord{InvoiceID: 7, InvoiceNumber: "INV-7", SupplierID: 3, Currency: "IDR", ExchangeRate: 1, Snapshot: snap}
}

func TestCompareWithoutReturnsMatchesInvoice(t *testing.T) {
	cmp := Compare(scenarioRecord(0, 1083))

	require.False(t, cmp.Reconciliation.HasReturns)
	require.InDelta(t, 1083.0, cmp.Reconciliation.NetDueAfterReconciliation, 1e-9)
	require.Equal(t, 1083.0, cmp.EffectivePOTotal)
	require.True(t, cmp.IsValid)
	require.InDelta(t, 0, cmp.VariancePercentage, 1e-9)
	require.False(t, cmp.IsHighVariance)
	require.Equal(t, 1, cmp.MatchedItems)
	require.Equal(t, 100, cmp.MatchPercentage)
	require.Equal(t, StatusMatched, cmp.Status)
	require.True(t, cmp.Confirmed())
}

func TestCompareWithReturnFlagsHighVariance(t *testing.T) {
	cmp := Compare(scenarioRecord(20, 1083))

	require.True(t, cmp.Reconciliation.HasReturns)
	require.Len(t, cmp.Reconciliation.Lines, 1)
	require.Equal(t, 80.0, cmp.Reconciliation.Lines[0].NetQty)
	require.InDelta(t, 866.40, cmp.EffectivePOTotal, 1e-9)
	require.InDelta(t, 866.40, cmp.TargetTotal, 1e-9)
	require.False(t, cmp.IsValid)
	require.InDelta(t, 25.0, cmp.VariancePercentage, 0.01)
	require.True(t, cmp.IsHighVariance)
	require.Equal(t, StatusMismatched, cmp.Status)

	// invoice still bills 100 units while only 80 were kept
	require.False(t, cmp.Items[0].QuantityMatched)
	require.True(t, cmp.Items[0].PriceMatched)
	require.Equal(t, 0, cmp.MatchPercentage)
}

func TestCompareStoredValidFlagWins(t *testing.T) {
	rec := scenarioRecord(20, 1083)
	rec.Snapshot.StoredIsValid = true

	cmp := Compare(rec)
	require.True(t, cmp.IsValid)
	require.True(t, cmp.IsHighVariance)
}

func TestCompareIsIdempotent(t *testing.T) {
	rec := scenarioRecord(20, 900)
	first := Compare(rec)
	second := Compare(rec)
	require.Equal(t, first, second)
}

func TestCompareValidityTolerance(t *testing.T) {
	cases := []struct {
		name    string
		invoice float64
		valid   bool
	}{
		{name: "exact", invoice: 1083, valid: true},
		{name: "inside tolerance", invoice: 1083.009, valid: true},
		{name: "outside tolerance", invoice: 1083.02, valid: false},
		{name: "under", invoice: 1000, valid: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmp := Compare(scenarioRecord(0, tc.invoice))
			require.Equal(t, tc.valid, cmp.IsValid)
		})
	}
}

func TestCompareMissingTotalsIsInsufficient(t *testing.T) {
	t.Run("invoice total absent", func(t *testing.T) {
		rec := scenarioRecord(0, 0)
		rec.Snapshot.Invoice.Total = nil
		rec.Snapshot.PO.Total = nil
		rec.Snapshot.GRN.Total = nil

		cmp := Compare(rec)
		require.Equal(t, StatusInsufficientData, cmp.Status)
		require.False(t, cmp.IsValid)
		require.False(t, cmp.Confirmed())
	})

	t.Run("po price absent with returns", func(t *testing.T) {
		rec := scenarioRecord(20, 1083)
		rec.Snapshot.Items[0].PO.UnitPrice = nil

		cmp := Compare(rec)
		require.True(t, cmp.Reconciliation.InsufficientData)
		require.Contains(t, cmp.Reconciliation.MissingFields, MissingField{ItemName: "Steel bolt M8", Stage: documents.StagePO, Field: "unitPrice"})
		require.Equal(t, StatusInsufficientData, cmp.Status)
		require.False(t, cmp.IsValid)
	})
}

func TestReconcileNetQuantity(t *testing.T) {
	items := []documents.LineItem{
		{ItemName: "a", PO: line(10, 2.5), Return: line(3, 2.5)},
		{ItemName: "b", PO: line(4, 7)},
		{ItemName: "c", PO: line(5, 1), Return: line(8, 1)},
	}
	res := Reconcile(items, 10, 11)

	require.Equal(t, 7.0, res.Lines[0].NetQty)
	require.Equal(t, 4.0, res.Lines[1].NetQty)
	require.Equal(t, -3.0, res.Lines[2].NetQty)
	require.True(t, res.Lines[2].NegativeNetQty)
	require.True(t, res.HasReturns)
}

func TestReconcileSubTotalIsExactSum(t *testing.T) {
	items := []documents.LineItem{
		{ItemName: "a", PO: line(3, 19.99), Return: line(1, 19.99)},
		{ItemName: "b", PO: line(12, 0.35)},
		{ItemName: "c", PO: line(7.5, 1200.10)},
	}
	res := Reconcile(items, 2.5, 11)

	var want float64
	for _, item := range items {
		want += (item.PO.Qty() - item.ReturnedQty()) * item.PO.Price()
	}
	require.Equal(t, want, res.ReconciledSubTotal)
	require.Equal(t, res.ReconciledSubTotal-res.ReconciledDiscountAmount+res.ReconciledTaxAmount, res.NetDueAfterReconciliation)
}

func TestReconcileLineTotalMonotonic(t *testing.T) {
	totalFor := func(price, discount float64) float64 {
		res := Reconcile([]documents.LineItem{{ItemName: "x", PO: line(12, price), Return: line(2, price)}}, discount, 11)
		return res.Lines[0].LineTotal
	}

	prev := totalFor(0, 5)
	for _, price := range []float64{0.01, 1, 9.99, 10, 250.5, 10000} {
		cur := totalFor(price, 5)
		require.GreaterOrEqual(t, cur, prev, "price %v", price)
		prev = cur
	}

	prev = totalFor(10, 0)
	for _, discount := range []float64{0.5, 5, 12.5, 50, 100} {
		cur := totalFor(10, discount)
		require.LessOrEqual(t, cur, prev, "discount %v", discount)
		prev = cur
	}
}

func TestReconcileRoundTripWithoutReturns(t *testing.T) {
	items := []documents.LineItem{
		{ItemName: "a", PO: line(100, 10)},
		{ItemName: "b", PO: line(3, 33.33)},
	}
	res := Reconcile(items, 5, 14)
	require.False(t, res.HasReturns)

	storedPOTotal := 1191.29
	require.InDelta(t, storedPOTotal, res.NetDueAfterReconciliation, ValidityTolerance)
}

func TestReconcileEmptyIsInsufficient(t *testing.T) {
	res := Reconcile(nil, 5, 14)
	require.True(t, res.InsufficientData)
	require.Zero(t, res.NetDueAfterReconciliation)
}
