package dashboard

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryRower interface {
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository counts pending work directly in PostgreSQL.
type Repository struct {
	db queryRower
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// PendingApprovals counts open vouchers still waiting on a sign-off or payment.
func (r *Repository) PendingApprovals(ctx context.Context) (int64, error) {
	return r.count(ctx, "pending approvals", `SELECT COUNT(*) FROM payment_vouchers
WHERE status = 'OPEN' AND approval_status IN ('PENDING', 'FINANCE_APPROVED', 'GM_APPROVED')`)
}

// PendingInspections counts goods receipts awaiting quality inspection.
func (r *Repository) PendingInspections(ctx context.Context) (int64, error) {
	return r.count(ctx, "pending inspections", `SELECT COUNT(*) FROM goods_receipts WHERE status = 'PENDING_INSPECTION'`)
}

// WaitingShipments counts approved purchase orders with no live goods receipt.
func (r *Repository) WaitingShipments(ctx context.Context) (int64, error) {
	return r.count(ctx, "waiting shipments", `SELECT COUNT(*) FROM purchase_orders po
WHERE po.status = 'APPROVED'
  AND NOT EXISTS (
    SELECT 1 FROM goods_receipts gr
    WHERE gr.purchase_order_id = po.id AND gr.status <> 'CANCELLED'
  )`)
}

func (r *Repository) count(ctx context.Context, name, query string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("dashboard: %s: %w", name, err)
	}
	return n, nil
}
