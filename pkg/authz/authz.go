// Package authz decides which participants may perform which action on a
// shipment. Decisions are a pure function of the shipment record, the caller
// and the action; there is no user hierarchy.
package authz

import (
	"context"

	"github.com/Jovells/dchain/pkg/shipment"
)

// Action is a mutating engine operation subject to authorization.
type Action string

const (
	ActionUpdateStatus   Action = "update_status"
	ActionHandlePayment  Action = "handle_payment"
	ActionReleasePayment Action = "release_payment"
	ActionRefundPayment  Action = "refund_payment"
	ActionDiscloseRoute  Action = "disclose_route"
)

// DefaultRules maps each action to the roles allowed to perform it.
var DefaultRules = map[Action][]shipment.Role{
	ActionUpdateStatus:   {shipment.RoleSupplier, shipment.RoleTransporter},
	ActionHandlePayment:  {shipment.RoleRetailer},
	ActionReleasePayment: {shipment.RoleSupplier, shipment.RoleRetailer},
	ActionRefundPayment:  {shipment.RoleSupplier},
	ActionDiscloseRoute:  {shipment.RoleSupplier},
}

// Authorizer decides whether caller may perform action on s.
type Authorizer interface {
	Allow(ctx context.Context, s *shipment.Shipment, caller shipment.Address, action Action) (bool, error)
}

func allowedBy(rules map[Action][]shipment.Role, s *shipment.Shipment, caller shipment.Address, action Action) bool {
	if s == nil {
		return false
	}
	permitted := rules[action]
	for _, held := range s.Roles(caller) {
		for _, want := range permitted {
			if held == want {
				return true
			}
		}
	}
	return false
}

// RoleAuthorizer is the role-set Authorizer. The zero value uses DefaultRules.
type RoleAuthorizer struct {
	Rules map[Action][]shipment.Role
}

// Allow implements Authorizer.
func (a RoleAuthorizer) Allow(_ context.Context, s *shipment.Shipment, caller shipment.Address, action Action) (bool, error) {
	rules := a.Rules
	if rules == nil {
		rules = DefaultRules
	}
	return allowedBy(rules, s, caller, action), nil
}
