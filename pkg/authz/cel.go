package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/Jovells/dchain/pkg/shipment"
)

// CELAuthorizer overrides selected actions with CEL expressions and falls back
// to role rules for the rest. Expressions see three variables:
//
//	caller   string  (lower-cased address)
//	action   string
//	shipment map     (id, supplier, transporter, retailer, status, policy, amount, visibility)
//
// Example release policy allowing only the retailer:
//
//	caller == shipment.retailer
type CELAuthorizer struct {
	fallback Authorizer
	programs map[Action]cel.Program
}

// NewCELAuthorizer compiles every expression up front so a bad policy fails at
// startup rather than on the first request.
func NewCELAuthorizer(expressions map[Action]string, fallback Authorizer) (*CELAuthorizer, error) {
	env, err := cel.NewEnv(
		cel.Variable("caller", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("shipment", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if fallback == nil {
		fallback = RoleAuthorizer{}
	}

	a := &CELAuthorizer{
		fallback: fallback,
		programs: make(map[Action]cel.Program, len(expressions)),
	}
	for action, expr := range expressions {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile %s policy: %w", action, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("program %s policy: %w", action, err)
		}
		a.programs[action] = prg
	}
	return a, nil
}

// Allow implements Authorizer.
func (a *CELAuthorizer) Allow(ctx context.Context, s *shipment.Shipment, caller shipment.Address, action Action) (bool, error) {
	prg, ok := a.programs[action]
	if !ok {
		return a.fallback.Allow(ctx, s, caller, action)
	}
	if s == nil || caller.IsZero() {
		return false, nil
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{
		"caller":   string(shipment.NewAddress(string(caller))),
		"action":   string(action),
		"shipment": shipmentInput(s),
	})
	if err != nil {
		return false, fmt.Errorf("eval %s policy: %w", action, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %s policy: result is %T, not bool", action, out.Value())
	}
	return allowed, nil
}

func shipmentInput(s *shipment.Shipment) map[string]any {
	return map[string]any{
		"id":          s.ID,
		"supplier":    string(shipment.NewAddress(string(s.Supplier))),
		"transporter": string(shipment.NewAddress(string(s.Transporter))),
		"retailer":    string(shipment.NewAddress(string(s.Retailer))),
		"status":      string(s.Status),
		"policy":      string(s.Policy),
		"visibility":  string(s.Visibility),
		"amount":      s.Amount,
	}
}
