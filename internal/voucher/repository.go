package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-payables/internal/allocation"
	"github.com/odyssey-erp/odyssey-payables/internal/platform/db"
	"github.com/odyssey-erp/odyssey-payables/internal/reconcile"
	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

type txRepo struct {
	db dbtx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const voucherColumns = `pv.id, pv.voucher_number, pv.voucher_date, pv.supplier_id, COALESCE(s.name, ''),
	pv.currency, pv.exchange_rate, pv.amount, pv.payment_method, pv.cash_amount, pv.bank_transfer_amount,
	pv.cheque_amount, pv.bank_amount, pv.bank_account_ref, pv.cheque_number, pv.is_split_payment,
	pv.status, pv.approval_status, pv.matching_acknowledged, pv.notes, pv.created_by, pv.created_at,
	pv.finance_approved_by, pv.finance_approved_at, pv.general_approved_by, pv.general_approved_at,
	pv.paid_by, pv.paid_at, pv.rejected_by, pv.rejected_at, pv.rejection_reason,
	pv.cancelled_by, pv.cancelled_at, pv.cancellation_reason, pv.document_path, pv.version, pv.updated_at`

// Get returns a voucher with its allocations.
func (r *Repository) Get(ctx context.Context, id int64) (PaymentVoucher, error) {
	return getVoucher(ctx, r.db, id, false)
}

// List returns vouchers matching filters, newest first, without allocations.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]PaymentVoucher, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1
	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("pv.status = $%d", argPos))
		args = append(args, string(filters.Status))
		argPos++
	}
	if filters.ApprovalStatus != "" {
		conditions = append(conditions, fmt.Sprintf("pv.approval_status = $%d", argPos))
		args = append(args, string(filters.ApprovalStatus))
		argPos++
	}
	if filters.SupplierID != 0 {
		conditions = append(conditions, fmt.Sprintf("pv.supplier_id = $%d", argPos))
		args = append(args, filters.SupplierID)
		argPos++
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM payment_vouchers pv %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.NormalizePage(filters.Page, filters.PerPage)
	query := fmt.Sprintf(`SELECT %s
		FROM payment_vouchers pv
		LEFT JOIN suppliers s ON s.id = pv.supplier_id
		%s
		ORDER BY pv.voucher_date DESC, pv.id DESC
		LIMIT $%d OFFSET $%d`, voucherColumns, whereClause, argPos, argPos+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PaymentVoucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// SetDocumentPath stores the rendered disbursement document location.
func (r *Repository) SetDocumentPath(ctx context.Context, id int64, path string) error {
	tag, err := r.db.Exec(ctx, `UPDATE payment_vouchers SET document_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextVoucherNumber allocates the next PV-YYYYMM-NNNNN number of the month.
func (t *txRepo) NextVoucherNumber(ctx context.Context, at time.Time) (string, error) {
	period := at.Format("200601")
	var seq int64
	err := t.db.QueryRow(ctx, `INSERT INTO voucher_number_sequences (period, last_value) VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET last_value = voucher_number_sequences.last_value + 1
		RETURNING last_value`, period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("voucher: next number: %w", err)
	}
	return fmt.Sprintf("PV-%s-%05d", period, seq), nil
}

// Insert persists the voucher and its allocations and fills generated IDs.
func (t *txRepo) Insert(ctx context.Context, v *PaymentVoucher) error {
	err := t.db.QueryRow(ctx, `INSERT INTO payment_vouchers (
			voucher_number, voucher_date, supplier_id, currency, exchange_rate, amount, payment_method,
			cash_amount, bank_transfer_amount, cheque_amount, bank_amount, bank_account_ref, cheque_number,
			is_split_payment, status, approval_status, matching_acknowledged, notes, created_by, created_at,
			version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING id`,
		v.VoucherNumber, pgtype.Date{Time: v.VoucherDate, Valid: true}, v.SupplierID, v.Currency,
		exchangeRate(v.ExchangeRate), shared.NumericFromFloat(v.Amount), string(v.PaymentMethod),
		shared.NumericFromFloat(v.CashAmount), shared.NumericFromFloat(v.BankTransferAmount),
		shared.NumericFromFloat(v.ChequeAmount), shared.NumericFromFloat(v.BankAmount),
		v.BankAccountRef, v.ChequeNumber, v.IsSplitPayment, string(v.Status), string(v.ApprovalStatus),
		v.MatchingAcknowledged, v.Notes, v.CreatedBy, v.CreatedAt, v.Version, v.UpdatedAt,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("voucher: insert: %w", err)
	}
	for i := range v.Allocations {
		a := &v.Allocations[i]
		a.VoucherID = v.ID
		snap := a.Snapshot
		err := t.db.QueryRow(ctx, `INSERT INTO payment_voucher_allocations (
				payment_voucher_id, supplier_invoice_id, position, allocated_amount,
				snapshot_invoice_number, snapshot_po_total, snapshot_grn_total, snapshot_invoice_total,
				snapshot_is_valid, snapshot_variance_pct, snapshot_status, snapshot_captured_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING id`,
			v.ID, a.SupplierInvoiceID, a.Position, shared.NumericFromFloat(a.AllocatedAmount),
			snap.InvoiceNumber, shared.NumericFromFloat(snap.POTotal), shared.NumericFromFloat(snap.GRNTotal),
			shared.NumericFromFloat(snap.InvoiceTotal), snap.IsValid, shared.NumericFromFloat(snap.VariancePercentage),
			string(snap.Status), snap.CapturedAt,
		).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("voucher: insert allocation %d: %w", a.SupplierInvoiceID, err)
		}
	}
	return nil
}

// GetForUpdate loads and row-locks the voucher.
func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (PaymentVoucher, error) {
	return getVoucher(ctx, t.db, id, true)
}

// UpdateState writes the mutable voucher columns guarded by version.
func (t *txRepo) UpdateState(ctx context.Context, v PaymentVoucher, expectedVersion int64) error {
	tag, err := t.db.Exec(ctx, `UPDATE payment_vouchers SET
			amount = $3, payment_method = $4, cash_amount = $5, bank_transfer_amount = $6,
			cheque_amount = $7, bank_amount = $8, status = $9, approval_status = $10,
			finance_approved_by = $11, finance_approved_at = $12,
			general_approved_by = $13, general_approved_at = $14,
			paid_by = $15, paid_at = $16,
			rejected_by = $17, rejected_at = $18, rejection_reason = $19,
			cancelled_by = $20, cancelled_at = $21, cancellation_reason = $22,
			version = $23, updated_at = $24
		WHERE id = $1 AND version = $2`,
		v.ID, expectedVersion,
		shared.NumericFromFloat(v.Amount), string(v.PaymentMethod), shared.NumericFromFloat(v.CashAmount),
		shared.NumericFromFloat(v.BankTransferAmount), shared.NumericFromFloat(v.ChequeAmount),
		shared.NumericFromFloat(v.BankAmount), string(v.Status), string(v.ApprovalStatus),
		v.FinanceApprovedBy, v.FinanceApprovedAt, v.GeneralApprovedBy, v.GeneralApprovedAt,
		v.PaidBy, v.PaidAt, v.RejectedBy, v.RejectedAt, v.RejectionReason,
		v.CancelledBy, v.CancelledAt, v.CancellationReason, v.Version, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("voucher: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// UpdateAllocationAmount rewrites one allocation amount. Snapshot columns
// are never touched.
func (t *txRepo) UpdateAllocationAmount(ctx context.Context, allocationID int64, amount float64) error {
	tag, err := t.db.Exec(ctx, `UPDATE payment_voucher_allocations SET allocated_amount = $2 WHERE id = $1`,
		allocationID, shared.NumericFromFloat(amount))
	if err != nil {
		return fmt.Errorf("voucher: update allocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAllocationNotFound
	}
	return nil
}

// ApplyInvoicePayments adds each payment to the invoice paid total.
func (t *txRepo) ApplyInvoicePayments(ctx context.Context, payments []InvoicePayment) error {
	for _, p := range payments {
		_, err := t.db.Exec(ctx, `UPDATE supplier_invoices SET paid_amount = paid_amount + $2 WHERE id = $1`,
			p.InvoiceID, shared.NumericFromFloat(p.Amount))
		if err != nil {
			return fmt.Errorf("voucher: apply payment to invoice %d: %w", p.InvoiceID, err)
		}
	}
	return nil
}

func getVoucher(ctx context.Context, q dbtx, id int64, forUpdate bool) (PaymentVoucher, error) {
	query := fmt.Sprintf(`SELECT %s
		FROM payment_vouchers pv
		LEFT JOIN suppliers s ON s.id = pv.supplier_id
		WHERE pv.id = $1`, voucherColumns)
	if forUpdate {
		query += " FOR UPDATE OF pv"
	}
	v, err := scanVoucher(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentVoucher{}, ErrNotFound
		}
		return PaymentVoucher{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, payment_voucher_id, supplier_invoice_id, position, allocated_amount,
			snapshot_invoice_number, snapshot_po_total, snapshot_grn_total, snapshot_invoice_total,
			snapshot_is_valid, snapshot_variance_pct, snapshot_status, snapshot_captured_at
		FROM payment_voucher_allocations
		WHERE payment_voucher_id = $1
		ORDER BY position`, id)
	if err != nil {
		return PaymentVoucher{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Allocation
		var amount, poTotal, grnTotal, invTotal, variance pgtype.Numeric
		var status string
		if err := rows.Scan(&a.ID, &a.VoucherID, &a.SupplierInvoiceID, &a.Position, &amount,
			&a.Snapshot.InvoiceNumber, &poTotal, &grnTotal, &invTotal,
			&a.Snapshot.IsValid, &variance, &status, &a.Snapshot.CapturedAt); err != nil {
			return PaymentVoucher{}, err
		}
		a.AllocatedAmount = shared.FloatFromNumeric(amount)
		a.Snapshot.POTotal = shared.FloatFromNumeric(poTotal)
		a.Snapshot.GRNTotal = shared.FloatFromNumeric(grnTotal)
		a.Snapshot.InvoiceTotal = shared.FloatFromNumeric(invTotal)
		a.Snapshot.VariancePercentage = shared.FloatFromNumeric(variance)
		a.Snapshot.Status = reconcile.Status(status)
		v.Allocations = append(v.Allocations, a)
	}
	return v, rows.Err()
}

func scanVoucher(row pgx.Row) (PaymentVoucher, error) {
	var v PaymentVoucher
	var voucherDate pgtype.Date
	var rate, amount, cash, transfer, cheque, bank pgtype.Numeric
	var method, status, approval string
	err := row.Scan(
		&v.ID, &v.VoucherNumber, &voucherDate, &v.SupplierID, &v.SupplierName,
		&v.Currency, &rate, &amount, &method, &cash, &transfer,
		&cheque, &bank, &v.BankAccountRef, &v.ChequeNumber, &v.IsSplitPayment,
		&status, &approval, &v.MatchingAcknowledged, &v.Notes, &v.CreatedBy, &v.CreatedAt,
		&v.FinanceApprovedBy, &v.FinanceApprovedAt, &v.GeneralApprovedBy, &v.GeneralApprovedAt,
		&v.PaidBy, &v.PaidAt, &v.RejectedBy, &v.RejectedAt, &v.RejectionReason,
		&v.CancelledBy, &v.CancelledAt, &v.CancellationReason, &v.DocumentPath, &v.Version, &v.UpdatedAt,
	)
	if err != nil {
		return PaymentVoucher{}, err
	}
	if voucherDate.Valid {
		v.VoucherDate = voucherDate.Time
	}
	v.ExchangeRate = shared.FloatFromNumeric(rate)
	v.Amount = shared.FloatFromNumeric(amount)
	v.PaymentMethod = allocation.PaymentMethod(method)
	v.CashAmount = shared.FloatFromNumeric(cash)
	v.BankTransferAmount = shared.FloatFromNumeric(transfer)
	v.ChequeAmount = shared.FloatFromNumeric(cheque)
	v.BankAmount = shared.FloatFromNumeric(bank)
	v.Status = Status(status)
	v.ApprovalStatus = ApprovalStatus(approval)
	return v, nil
}

func exchangeRate(rate float64) pgtype.Numeric {
	if rate <= 0 {
		rate = 1
	}
	var n pgtype.Numeric
	_ = n.Scan(fmt.Sprintf("%.6f", rate))
	return n
}
