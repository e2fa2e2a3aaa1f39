package allocation

import "fmt"

// ValidationError is a coded input error reported before a voucher is created.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is matches any ValidationError carrying the same code.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

// Validation failures, in the order ValidateSelection checks them.
var (
	ErrNoSupplierSelected       = &ValidationError{Code: "NO_SUPPLIER_SELECTED", Message: "allocation: supplier is required"}
	ErrNoInvoicesSelected       = &ValidationError{Code: "NO_INVOICES_SELECTED", Message: "allocation: select at least one invoice"}
	ErrSupplierMismatch         = &ValidationError{Code: "SUPPLIER_MISMATCH", Message: "allocation: invoice belongs to another supplier"}
	ErrMatchingNotAcknowledged  = &ValidationError{Code: "MATCHING_NOT_ACKNOWLEDGED", Message: "allocation: mismatched invoices must be acknowledged"}
	ErrInvalidSplitAmount       = &ValidationError{Code: "INVALID_SPLIT_AMOUNT", Message: "allocation: split amounts are invalid"}
	ErrSplitPaymentExceedsTotal = &ValidationError{Code: "SPLIT_PAYMENT_EXCEEDS_TOTAL", Message: "allocation: split payment exceeds allocated total"}
	ErrMissingBankAccount       = &ValidationError{Code: "MISSING_BANK_ACCOUNT", Message: "allocation: bank account is required for bank payments"}
)

func withDetail(base *ValidationError, format string, args ...any) *ValidationError {
	return &ValidationError{Code: base.Code, Message: base.Message + ": " + fmt.Sprintf(format, args...)}
}
