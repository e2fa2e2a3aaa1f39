package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository reads supplier invoice snapshots from PostgreSQL.
type Repository struct {
	db dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const invoiceColumns = `si.id, si.number, si.supplier_id, s.name, si.currency, si.exchange_rate,
	si.invoice_date, si.due_date, si.paid_amount,
	si.po_sub_total, si.po_tax_amount, si.po_discount_amount, si.po_shipping_cost, si.po_other_costs, si.po_total,
	si.grn_sub_total, si.grn_tax_amount, si.grn_discount_amount, si.grn_shipping_cost, si.grn_other_costs, si.grn_total,
	si.sub_total, si.tax_amount, si.discount_amount, si.shipping_cost, si.other_costs, si.total,
	si.po_discount_pct, si.po_tax_pct, si.is_valid,
	COALESCE(si.po_number, ''), COALESCE(si.grn_number, ''), COALESCE(si.return_number, ''), si.snapshot_as_of`

// outstanding excludes invoices without a total: nothing can be paid against them.
const outstanding = `si.total IS NOT NULL AND si.total - si.paid_amount > 0`

// PendingSuppliers lists active suppliers with at least one invoice carrying a balance.
func (r *Repository) PendingSuppliers(ctx context.Context) ([]documents.SupplierPending, error) {
	rows, err := r.db.Query(ctx, `SELECT s.id, s.code, s.name, COUNT(si.id), SUM(si.total - si.paid_amount)
FROM suppliers s
JOIN supplier_invoices si ON si.supplier_id = s.id
WHERE s.is_active AND `+outstanding+`
GROUP BY s.id, s.code, s.name
ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("invoices: pending suppliers: %w", err)
	}
	defer rows.Close()
	var out []documents.SupplierPending
	for rows.Next() {
		var item documents.SupplierPending
		var count int64
		var total pgtype.Numeric
		if err := rows.Scan(&item.SupplierID, &item.SupplierCode, &item.SupplierName, &count, &total); err != nil {
			return nil, err
		}
		item.InvoiceCount = int(count)
		item.TotalOutstanding = shared.FloatFromNumeric(total)
		out = append(out, item)
	}
	return out, rows.Err()
}

// SupplierInvoices returns the outstanding invoices of one supplier with their items.
func (r *Repository) SupplierInvoices(ctx context.Context, supplierID int64) ([]documents.InvoiceComparisonRecord, error) {
	query := `SELECT ` + invoiceColumns + `
FROM supplier_invoices si
JOIN suppliers s ON s.id = si.supplier_id
WHERE si.supplier_id = $1 AND ` + outstanding + `
ORDER BY si.due_date NULLS LAST, si.invoice_date, si.id`
	return r.loadRecords(ctx, query, supplierID)
}

// ComparisonsByIDs returns the requested invoices of supplierID. Invoices of
// other suppliers are silently left out.
func (r *Repository) ComparisonsByIDs(ctx context.Context, supplierID int64, invoiceIDs []int64) ([]documents.InvoiceComparisonRecord, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + invoiceColumns + `
FROM supplier_invoices si
JOIN suppliers s ON s.id = si.supplier_id
WHERE si.supplier_id = $1 AND si.id = ANY($2)
ORDER BY si.id`
	return r.loadRecords(ctx, query, supplierID, invoiceIDs)
}

func (r *Repository) loadRecords(ctx context.Context, query string, args ...interface{}) ([]documents.InvoiceComparisonRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("invoices: query: %w", err)
	}
	defer rows.Close()
	var records []documents.InvoiceComparisonRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}
	if err := r.attachItems(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(row pgx.Row) (documents.InvoiceComparisonRecord, error) {
	var rec documents.InvoiceComparisonRecord
	var (
		rate, paid                                         pgtype.Numeric
		poSub, poTax, poDisc, poShip, poOther, poTotal     pgtype.Numeric
		grnSub, grnTax, grnDisc, grnShip, grnOther, grnTot pgtype.Numeric
		invSub, invTax, invDisc, invShip, invOther, invTot pgtype.Numeric
		discPct, taxPct                                    pgtype.Numeric
		invoiceDate                                        time.Time
		dueDate                                            pgtype.Date
	)
	snap := &rec.Snapshot
	err := row.Scan(
		&rec.InvoiceID, &rec.InvoiceNumber, &rec.SupplierID, &rec.SupplierName, &rec.Currency, &rate,
		&invoiceDate, &dueDate, &paid,
		&poSub, &poTax, &poDisc, &poShip, &poOther, &poTotal,
		&grnSub, &grnTax, &grnDisc, &grnShip, &grnOther, &grnTot,
		&invSub, &invTax, &invDisc, &invShip, &invOther, &invTot,
		&discPct, &taxPct, &snap.StoredIsValid,
		&snap.PONumber, &snap.GRNNumber, &snap.ReturnNumber, &snap.AsOf,
	)
	if err != nil {
		return rec, fmt.Errorf("invoices: scan: %w", err)
	}
	rec.ExchangeRate = shared.FloatFromNumeric(rate)
	rec.InvoiceDate = invoiceDate
	if dueDate.Valid {
		d := dueDate.Time
		rec.DueDate = &d
	}
	rec.PaidAmount = shared.FloatFromNumeric(paid)
	snap.PO = totals(poSub, poTax, poDisc, poShip, poOther, poTotal)
	snap.GRN = totals(grnSub, grnTax, grnDisc, grnShip, grnOther, grnTot)
	snap.Invoice = totals(invSub, invTax, invDisc, invShip, invOther, invTot)
	snap.PODiscountPct = shared.FloatFromNumeric(discPct)
	snap.POTaxPct = shared.FloatFromNumeric(taxPct)
	return rec, nil
}

func totals(sub, tax, disc, ship, other, total pgtype.Numeric) documents.DocumentTotals {
	return documents.DocumentTotals{
		SubTotal:       shared.FloatFromNumeric(sub),
		TaxAmount:      shared.FloatFromNumeric(tax),
		DiscountAmount: shared.FloatFromNumeric(disc),
		ShippingCost:   shared.FloatFromNumeric(ship),
		OtherCosts:     shared.FloatFromNumeric(other),
		Total:          shared.OptionalFloat(total),
	}
}

func (r *Repository) attachItems(ctx context.Context, records []documents.InvoiceComparisonRecord) error {
	ids := make([]int64, len(records))
	index := make(map[int64]int, len(records))
	for i, rec := range records {
		ids[i] = rec.InvoiceID
		index[rec.InvoiceID] = i
	}
	rows, err := r.db.Query(ctx, `SELECT supplier_invoice_id, item_name,
	po_qty, po_unit_price, po_line_total, grn_qty, grn_unit_price, grn_line_total,
	return_qty, return_unit_price, return_line_total, invoice_qty, invoice_unit_price, invoice_line_total
FROM supplier_invoice_items
WHERE supplier_invoice_id = ANY($1)
ORDER BY supplier_invoice_id, line_no`, ids)
	if err != nil {
		return fmt.Errorf("invoices: items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var invoiceID int64
		var item documents.LineItem
		var stages [4][3]pgtype.Numeric
		if err := rows.Scan(&invoiceID, &item.ItemName,
			&stages[0][0], &stages[0][1], &stages[0][2],
			&stages[1][0], &stages[1][1], &stages[1][2],
			&stages[2][0], &stages[2][1], &stages[2][2],
			&stages[3][0], &stages[3][1], &stages[3][2],
		); err != nil {
			return err
		}
		item.PO = stageLine(stages[0])
		item.GRN = stageLine(stages[1])
		item.Return = stageLine(stages[2])
		item.Invoice = stageLine(stages[3])
		i, ok := index[invoiceID]
		if !ok {
			continue
		}
		records[i].Snapshot.Items = append(records[i].Snapshot.Items, item)
	}
	return rows.Err()
}

// stageLine returns nil when the item never reached the stage.
func stageLine(cols [3]pgtype.Numeric) *documents.StageLine {
	line := &documents.StageLine{
		Quantity:  shared.OptionalFloat(cols[0]),
		UnitPrice: shared.OptionalFloat(cols[1]),
		LineTotal: shared.OptionalFloat(cols[2]),
	}
	if line.Quantity == nil && line.UnitPrice == nil && line.LineTotal == nil {
		return nil
	}
	return line
}
