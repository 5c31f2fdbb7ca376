// Package shipment defines the shipment and payment records tracked by the
// ledger engine, their state machines, and the engine's error taxonomy.
package shipment

import (
	"fmt"
	"strings"
	"time"

	"github.com/Jovells/dchain/pkg/commitment"
)

// Address identifies a participant. The zero identity is the empty string or
// an all-zero hex address.
type Address string

// ZeroAddress is the canonical zero identity.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// NewAddress normalises s (trimmed, lower-cased).
func NewAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// IsZero reports whether a is the zero identity.
func (a Address) IsZero() bool {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(string(a))), "0x")
	return strings.Trim(s, "0") == ""
}

// Equal compares two addresses case-insensitively.
func (a Address) Equal(b Address) bool {
	return NewAddress(string(a)) == NewAddress(string(b))
}

func (a Address) String() string { return string(a) }

// MaxAmount bounds obligation amounts so they stay exact as int64 columns
// and as Lua numbers in the Redis custodian.
const MaxAmount = 1<<53 - 1

// Visibility selects how route data is recorded.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Policy is the settlement policy of a payment obligation.
type Policy string

const (
	PolicyEscrowed Policy = "ESCROWED"
	PolicyPrepaid  Policy = "PREPAID"
	PolicyPostpaid Policy = "POSTPAID"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyEscrowed, PolicyPrepaid, PolicyPostpaid:
		return true
	}
	return false
}

// Status is the delivery status of a shipment.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusCompleted Status = "COMPLETED"
)

// Next returns the immediate successor of s. Completed has none.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusCreated:
		return StatusInTransit, true
	case StatusInTransit:
		return StatusCompleted, true
	}
	return "", false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusInTransit, StatusCompleted:
		return true
	}
	return false
}

// PaymentStatus is the custody state of a payment obligation.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentEscrowed  PaymentStatus = "ESCROWED"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Terminal reports whether no operation may leave s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// Shipment is a tracked movement of goods with an attached payment obligation.
type Shipment struct {
	ID              uint64            `json:"id"`
	Visibility      Visibility        `json:"visibility"`
	Origin          string            `json:"origin"`
	Destination     string            `json:"destination"`
	RouteCommitment commitment.Digest `json:"route_commitment"`
	Supplier        Address           `json:"supplier"`
	Transporter     Address           `json:"transporter"`
	Retailer        Address           `json:"retailer"`
	Policy          Policy            `json:"policy"`
	Amount          uint64            `json:"amount"`
	Status          Status            `json:"status"`
	PaymentID       uint64            `json:"payment_id"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Roles returns the roles addr holds on s. An address may hold several.
func (s *Shipment) Roles(addr Address) []Role {
	var roles []Role
	if addr.IsZero() {
		return roles
	}
	if s.Supplier.Equal(addr) {
		roles = append(roles, RoleSupplier)
	}
	if s.Transporter.Equal(addr) {
		roles = append(roles, RoleTransporter)
	}
	if s.Retailer.Equal(addr) {
		roles = append(roles, RoleRetailer)
	}
	return roles
}

// Involves reports whether addr holds any role on s.
func (s *Shipment) Involves(addr Address) bool {
	return len(s.Roles(addr)) > 0
}

// Payment is the fund-custody record tied 1:1 to a shipment.
type Payment struct {
	ID         uint64        `json:"id"`
	ShipmentID uint64        `json:"shipment_id"`
	Amount     uint64        `json:"amount"`
	Policy     Policy        `json:"policy"`
	Status     PaymentStatus `json:"status"`
	Payer      Address       `json:"payer,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Role is a participant role on a shipment.
type Role string

const (
	RoleSupplier    Role = "supplier"
	RoleTransporter Role = "transporter"
	RoleRetailer    Role = "retailer"
)

// Draft is the input to shipment creation. The supplier is the caller.
type Draft struct {
	Visibility      Visibility        `json:"visibility"`
	Origin          string            `json:"origin,omitempty"`
	Destination     string            `json:"destination,omitempty"`
	RouteCommitment commitment.Digest `json:"route_commitment"`
	Transporter     Address           `json:"transporter"`
	Retailer        Address           `json:"retailer"`
	Policy          Policy            `json:"policy"`
	Amount          uint64            `json:"amount"`
}

// Validate checks d in the order the engine reports failures: transporter,
// retailer, supplier, amount, visibility data, policy.
func (d Draft) Validate(supplier Address) error {
	if d.Transporter.IsZero() {
		return MissingParticipant(RoleTransporter)
	}
	if d.Retailer.IsZero() {
		return MissingParticipant(RoleRetailer)
	}
	if supplier.IsZero() {
		return MissingParticipant(RoleSupplier)
	}
	if d.Amount == 0 {
		return &Error{Kind: ErrInvalidAmount, Field: "amount", Detail: "amount must be greater than zero"}
	}
	if d.Amount > MaxAmount {
		return &Error{Kind: ErrInvalidAmount, Field: "amount", Detail: fmt.Sprintf("amount exceeds %d", uint64(MaxAmount))}
	}
	if !d.Visibility.Valid() {
		return &Error{Kind: ErrInvalidVisibilityData, Field: "visibility", Detail: fmt.Sprintf("unknown visibility %q", d.Visibility)}
	}
	switch d.Visibility {
	case VisibilityPublic:
		if !d.RouteCommitment.IsZero() {
			return &Error{Kind: ErrInvalidVisibilityData, Field: "route_commitment", Detail: "public shipments carry no commitment"}
		}
	case VisibilityPrivate:
		if d.Origin != "" || d.Destination != "" {
			return &Error{Kind: ErrInvalidVisibilityData, Field: "origin", Detail: "private shipments carry no plain-text route"}
		}
		if d.RouteCommitment.IsZero() {
			return &Error{Kind: ErrInvalidVisibilityData, Field: "route_commitment", Detail: "private shipments require a commitment"}
		}
	}
	if !d.Policy.Valid() {
		return &Error{Kind: ErrInvalidPolicy, Field: "policy", Detail: fmt.Sprintf("unknown policy %q", d.Policy)}
	}
	return nil
}
