package shared

// Supplier payables permissions.
const (
	PermPayablesInvoiceView = "payables.invoice.view"

	PermPayablesVoucherView           = "payables.voucher.view"
	PermPayablesVoucherCreate         = "payables.voucher.create"
	PermPayablesVoucherApproveFinance = "payables.voucher.approve_finance"
	PermPayablesVoucherApproveGeneral = "payables.voucher.approve_general"
	PermPayablesVoucherPay            = "payables.voucher.pay"
	PermPayablesVoucherReject         = "payables.voucher.reject"
	PermPayablesVoucherCancel         = "payables.voucher.cancel"

	PermPayablesDashboardView = "payables.dashboard.view"
)

// PayablesScopes lists all permissions related to supplier payables.
func PayablesScopes() []string {
	return []string{
		PermPayablesInvoiceView,
		PermPayablesVoucherView,
		PermPayablesVoucherCreate,
		PermPayablesVoucherApproveFinance,
		PermPayablesVoucherApproveGeneral,
		PermPayablesVoucherPay,
		PermPayablesVoucherReject,
		PermPayablesVoucherCancel,
		PermPayablesDashboardView,
	}
}
