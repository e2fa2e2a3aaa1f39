package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

func TestDefaultTableFirstMatchWins(t *testing.T) {
	table := DefaultTable()
	cases := []struct {
		path string
		rule string
		cap  string
	}{
		{"/finance/payment-vouchers/new", "voucher.new", shared.PermPayablesVoucherCreate},
		{"/finance/payment-vouchers/new/", "voucher.new", shared.PermPayablesVoucherCreate},
		{"/finance/payment-vouchers/12/approve", "voucher.approve", shared.PermPayablesVoucherApproveFinance},
		{"/finance/payment-vouchers/12/approve-general", "voucher.approve_general", shared.PermPayablesVoucherApproveGeneral},
		{"/finance/payment-vouchers/12/pay?tab=1", "voucher.pay", shared.PermPayablesVoucherPay},
		{"/finance/payment-vouchers/12", "voucher.view", shared.PermPayablesVoucherView},
		{"/finance/payment-vouchers", "voucher.view", shared.PermPayablesVoucherView},
		{"/finance/supplier-invoices/3", "invoice.view", shared.PermPayablesInvoiceView},
		{"/dashboard", "dashboard", shared.PermPayablesDashboardView},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rule, ok := table.Resolve(tc.path)
			require.True(t, ok)
			require.Equal(t, tc.rule, rule.Name)
			require.Equal(t, tc.cap, rule.Capability)
		})
	}

	_, ok := table.Resolve("/finance/payment-vouchersX")
	require.False(t, ok)
}

func TestTableOrderMatters(t *testing.T) {
	broad := Rule{Name: "broad", Match: Prefix("/a"), Capability: "a.view"}
	narrow := Rule{Name: "narrow", Match: Exact("/a/b"), Capability: "a.edit"}

	rule, _ := Table{broad, narrow}.Resolve("/a/b")
	require.Equal(t, "broad", rule.Name)
	rule, _ = Table{narrow, broad}.Resolve("/a/b")
	require.Equal(t, "narrow", rule.Name)
}

func TestTableAllows(t *testing.T) {
	table := DefaultTable()
	viewer := shared.ActorContext{UserID: 1, Permissions: []string{shared.PermPayablesVoucherView}}

	require.True(t, table.Allows(viewer, "/finance/payment-vouchers/9"))
	require.False(t, table.Allows(viewer, "/finance/payment-vouchers/9/pay"))
	require.True(t, table.Allows(viewer, "/settings/profile"))
	require.False(t, table.Allows(shared.ActorContext{}, "/settings/profile"))
}
