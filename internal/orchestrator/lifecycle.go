package orchestrator

import (
	"fmt"

	"github.com/yourorg/card-orchestrator/internal/ledger"
)

// transitionRule lists what a follow-on operation accepts as its prior
// transaction and what state the owning order must be in.
type transitionRule struct {
	priorKinds    []ledger.Kind
	orderStatuses []ledger.OrderStatus
	onSuccess     ledger.OrderStatus
}

var followOnRules = map[ledger.Kind]transitionRule{
	ledger.KindCapture: {
		priorKinds:    []ledger.Kind{ledger.KindAuthorize},
		orderStatuses: []ledger.OrderStatus{ledger.OrderAuthorized},
		onSuccess:     ledger.OrderCaptured,
	},
	ledger.KindVoid: {
		priorKinds:    []ledger.Kind{ledger.KindAuthorize, ledger.KindCapture, ledger.KindPurchase},
		orderStatuses: []ledger.OrderStatus{ledger.OrderAuthorized, ledger.OrderCaptured},
		onSuccess:     ledger.OrderCancelled,
	},
	ledger.KindRefund: {
		priorKinds:    []ledger.Kind{ledger.KindCapture, ledger.KindPurchase},
		orderStatuses: []ledger.OrderStatus{ledger.OrderCaptured, ledger.OrderRefunded},
		onSuccess:     ledger.OrderRefunded,
	},
}

// checkTransition returns ErrIllegalTransition when kind cannot follow
// prior on order.
func checkTransition(kind ledger.Kind, prior ledger.Transaction, order ledger.Order) error {
	rule, ok := followOnRules[kind]
	if !ok {
		return fmt.Errorf("%w: %s is not a follow-on operation", ErrIllegalTransition, kind)
	}
	if prior.Status != ledger.TxSuccess {
		return fmt.Errorf("%w: %s requires a successful prior transaction, %s is %s",
			ErrIllegalTransition, kind, prior.ID, prior.Status)
	}
	if !containsKind(rule.priorKinds, prior.Kind) {
		return fmt.Errorf("%w: cannot %s a %s transaction", ErrIllegalTransition, kind, prior.Kind)
	}
	if !containsStatus(rule.orderStatuses, order.Status) {
		return fmt.Errorf("%w: cannot %s order %s in status %s", ErrIllegalTransition, kind, order.ID, order.Status)
	}
	return nil
}

func containsKind(kinds []ledger.Kind, k ledger.Kind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

func containsStatus(statuses []ledger.OrderStatus, s ledger.OrderStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
