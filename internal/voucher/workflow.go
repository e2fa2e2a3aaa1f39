package voucher

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-payables/internal/shared"
)

// actionOrder fixes the order AvailableActions reports.
var actionOrder = []Action{ActionApproveFinance, ActionApproveGeneral, ActionPay, ActionReject, ActionCancel}

// actionPermissions maps each transition to the capability that exposes it.
var actionPermissions = map[Action]string{
	ActionApproveFinance: shared.PermPayablesVoucherApproveFinance,
	ActionApproveGeneral: shared.PermPayablesVoucherApproveGeneral,
	ActionPay:            shared.PermPayablesVoucherPay,
	ActionReject:         shared.PermPayablesVoucherReject,
	ActionCancel:         shared.PermPayablesVoucherCancel,
}

// Permission returns the capability required to be offered the action.
func (a Action) Permission() string {
	return actionPermissions[a]
}

// ParseAction validates a transition name.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actionPermissions[a]; !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, raw)
	}
	return a, nil
}

// Allowed reports whether the action's precondition holds for v.
func Allowed(v PaymentVoucher, action Action) bool {
	switch action {
	case ActionApproveFinance:
		return v.Status == StatusOpen && v.ApprovalStatus == ApprovalPending
	case ActionApproveGeneral:
		return v.Status == StatusOpen && v.ApprovalStatus == ApprovalFinanceApproved
	case ActionPay:
		return v.Status == StatusOpen && v.ApprovalStatus == ApprovalGMApproved
	case ActionReject:
		return v.Status == StatusOpen && (v.ApprovalStatus == ApprovalPending || v.ApprovalStatus == ApprovalFinanceApproved)
	case ActionCancel:
		return v.Status != StatusPaid && v.Status != StatusCancelled && v.ApprovalStatus != ApprovalRejected
	}
	return false
}

// AvailableActions lists every transition whose precondition holds.
func AvailableActions(v PaymentVoucher) []Action {
	actions := make([]Action, 0, len(actionOrder))
	for _, a := range actionOrder {
		if Allowed(v, a) {
			actions = append(actions, a)
		}
	}
	return actions
}

// ActionsFor narrows AvailableActions to what the actor may be offered.
func ActionsFor(v PaymentVoucher, actor shared.ActorContext) []Action {
	actions := make([]Action, 0, len(actionOrder))
	for _, a := range AvailableActions(v) {
		if actor.Has(a.Permission()) {
			actions = append(actions, a)
		}
	}
	return actions
}

// Apply performs one transition and returns the updated voucher with its
// version incremented. The input is not modified.
func Apply(v PaymentVoucher, action Action, actor shared.ActorContext, reason string, at time.Time) (PaymentVoucher, error) {
	if !Allowed(v, action) {
		return v, fmt.Errorf("%w: %s while %s/%s", ErrInvalidStateTransition, action, v.Status, v.ApprovalStatus)
	}
	reason = strings.TrimSpace(reason)
	if (action == ActionReject || action == ActionCancel) && reason == "" {
		return v, ErrReasonRequired
	}
	actorID := actor.UserID
	next := v
	switch action {
	case ActionApproveFinance:
		next.ApprovalStatus = ApprovalFinanceApproved
		next.FinanceApprovedBy, next.FinanceApprovedAt = &actorID, &at
	case ActionApproveGeneral:
		next.ApprovalStatus = ApprovalGMApproved
		next.GeneralApprovedBy, next.GeneralApprovedAt = &actorID, &at
	case ActionPay:
		next.Status = StatusPaid
		next.PaidBy, next.PaidAt = &actorID, &at
	case ActionReject:
		next.ApprovalStatus = ApprovalRejected
		next.RejectedBy, next.RejectedAt = &actorID, &at
		next.RejectionReason = reason
	case ActionCancel:
		next.Status = StatusCancelled
		next.CancelledBy, next.CancelledAt = &actorID, &at
		next.CancellationReason = reason
	}
	next.Version = v.Version + 1
	next.UpdatedAt = at
	return next, nil
}

func approvalActionFor(action Action) shared.ApprovalAction {
	switch action {
	case ActionApproveFinance:
		return shared.ApprovalFinance
	case ActionApproveGeneral:
		return shared.ApprovalGeneral
	case ActionPay:
		return shared.ApprovalPay
	case ActionReject:
		return shared.ApprovalReject
	default:
		return shared.ApprovalCancel
	}
}
