// Package invoices serves the outstanding supplier invoices together with
// their reconciliation verdicts.
package invoices

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-payables/internal/documents"
	"github.com/odyssey-erp/odyssey-payables/internal/reconcile"
)

// RepositoryPort is the persistence contract of Service.
type RepositoryPort interface {
	PendingSuppliers(ctx context.Context) ([]documents.SupplierPending, error)
	SupplierInvoices(ctx context.Context, supplierID int64) ([]documents.InvoiceComparisonRecord, error)
	ComparisonsByIDs(ctx context.Context, supplierID int64, invoiceIDs []int64) ([]documents.InvoiceComparisonRecord, error)
}

// MetricsPort counts reconciliation verdicts.
type MetricsPort interface {
	ObserveReconciliation(status string, highVariance bool)
}

// InvoiceView pairs a stored record with its freshly computed comparison.
type InvoiceView struct {
	documents.InvoiceComparisonRecord
	RemainingAmount float64              `json:"remainingAmount"`
	Comparison      reconcile.Comparison `json:"comparison"`
}

// SupplierInvoices is the response of one supplier's outstanding listing.
type SupplierInvoices struct {
	SupplierID       int64         `json:"supplierId"`
	Invoices         []InvoiceView `json:"invoices"`
	TotalOutstanding float64       `json:"totalOutstanding"`
	MatchedCount     int           `json:"matchedCount"`
	MismatchedCount  int           `json:"mismatchedCount"`
}

// Service reads invoice snapshots through the cache and reconciles them.
type Service struct {
	repo    RepositoryPort
	cache   *Cache
	metrics MetricsPort
	logger  *slog.Logger
}

// NewService wires the repository with an optional cache.
func NewService(repo RepositoryPort, cache *Cache, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, metrics: metrics, logger: logger}
}

// PendingSuppliers lists suppliers with outstanding invoices, optionally
// filtered by a case-insensitive match on name or code.
func (s *Service) PendingSuppliers(ctx context.Context, search string) ([]documents.SupplierPending, error) {
	key, err := s.cache.BuildKey(ctx, "pending")
	if err != nil {
		return nil, err
	}
	var suppliers []documents.SupplierPending
	err = s.cache.FetchJSON(ctx, key, &suppliers, func(ctx context.Context) (interface{}, error) {
		return s.repo.PendingSuppliers(ctx)
	})
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return suppliers, nil
	}
	out := make([]documents.SupplierPending, 0, len(suppliers))
	for _, sp := range suppliers {
		if strings.Contains(strings.ToLower(sp.SupplierName), q) || strings.Contains(strings.ToLower(sp.SupplierCode), q) {
			out = append(out, sp)
		}
	}
	return out, nil
}

// SupplierInvoices returns a supplier's outstanding invoices with their
// comparisons. Records are cached; comparisons are recomputed on every call.
func (s *Service) SupplierInvoices(ctx context.Context, supplierID int64) (SupplierInvoices, error) {
	out := SupplierInvoices{SupplierID: supplierID}
	key, err := s.cache.BuildKey(ctx, "supplier", strconv.FormatInt(supplierID, 10))
	if err != nil {
		return out, err
	}
	var records []documents.InvoiceComparisonRecord
	err = s.cache.FetchJSON(ctx, key, &records, func(ctx context.Context) (interface{}, error) {
		return s.repo.SupplierInvoices(ctx, supplierID)
	})
	if err != nil {
		return out, err
	}
	comparisons := reconcile.CompareAll(records)
	out.Invoices = make([]InvoiceView, 0, len(records))
	for i, rec := range records {
		cmp := comparisons[i]
		s.observe(cmp)
		if cmp.Confirmed() {
			out.MatchedCount++
		} else {
			out.MismatchedCount++
		}
		remaining := rec.RemainingAmount()
		out.TotalOutstanding += remaining
		out.Invoices = append(out.Invoices, InvoiceView{InvoiceComparisonRecord: rec, RemainingAmount: remaining, Comparison: cmp})
	}
	return out, nil
}

// ComparisonsByIDs bypasses the cache: voucher creation must see committed
// paid amounts.
func (s *Service) ComparisonsByIDs(ctx context.Context, supplierID int64, invoiceIDs []int64) ([]documents.InvoiceComparisonRecord, error) {
	return s.repo.ComparisonsByIDs(ctx, supplierID, invoiceIDs)
}

// Bump drops every cached listing.
func (s *Service) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) observe(cmp reconcile.Comparison) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveReconciliation(string(cmp.Status), cmp.IsHighVariance)
}
