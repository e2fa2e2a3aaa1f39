package rbac

import (
	"regexp"
	"strings"

	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// Predicate decides whether a rule applies to a path.
type Predicate func(path string) bool

// Exact matches one path, ignoring a trailing slash.
func Exact(p string) Predicate {
	p = normalizePath(p)
	return func(path string) bool { return normalizePath(path) == p }
}

// Prefix matches p and everything below it.
func Prefix(p string) Predicate {
	p = normalizePath(p)
	return func(path string) bool {
		path = normalizePath(path)
		return path == p || strings.HasPrefix(path, p+"/")
	}
}

// Pattern matches a regular expression against the whole path.
func Pattern(expr string) Predicate {
	re := regexp.MustCompile("^(?:" + expr + ")$")
	return func(path string) bool { return re.MatchString(normalizePath(path)) }
}

// Rule gates a set of paths behind one capability.
type Rule struct {
	Name       string
	Match      Predicate
	Capability string
}

// Table is an ordered rule list. The first matching rule wins.
type Table []Rule

// Resolve returns the first rule matching path.
func (t Table) Resolve(path string) (Rule, bool) {
	for _, rule := range t {
		if rule.Match != nil && rule.Match(path) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Allows reports whether the actor may open path. Paths no rule covers are
// open to any resolved actor.
func (t Table) Allows(actor shared.ActorContext, path string) bool {
	if actor.IsZero() {
		return false
	}
	rule, ok := t.Resolve(path)
	if !ok || rule.Capability == "" {
		return true
	}
	return actor.Has(rule.Capability)
}

// DefaultTable maps the payables screens to their capabilities. Specific
// paths come before the prefixes that would also match them.
func DefaultTable() Table {
	return Table{
		{Name: "voucher.new", Match: Exact("/finance/payment-vouchers/new"), Capability: shared.PermPayablesVoucherCreate},
		{Name: "voucher.edit", Match: Pattern(`/finance/payment-vouchers/\d+/edit`), Capability: shared.PermPayablesVoucherCreate},
		{Name: "voucher.approve", Match: Pattern(`/finance/payment-vouchers/\d+/approve`), Capability: shared.PermPayablesVoucherApproveFinance},
		{Name: "voucher.approve_general", Match: Pattern(`/finance/payment-vouchers/\d+/approve-general`), Capability: shared.PermPayablesVoucherApproveGeneral},
		{Name: "voucher.pay", Match: Pattern(`/finance/payment-vouchers/\d+/pay`), Capability: shared.PermPayablesVoucherPay},
		{Name: "voucher.view", Match: Prefix("/finance/payment-vouchers"), Capability: shared.PermPayablesVoucherView},
		{Name: "invoice.view", Match: Prefix("/finance/supplier-invoices"), Capability: shared.PermPayablesInvoiceView},
		{Name: "dashboard", Match: Exact("/dashboard"), Capability: shared.PermPayablesDashboardView},
	}
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}
