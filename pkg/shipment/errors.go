package shipment

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every engine failure wraps exactly one of these so callers can
// branch with errors.Is.
var (
	ErrMissingParticipant    = errors.New("missing participant")
	ErrInvalidVisibilityData = errors.New("invalid visibility data")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidPolicy         = errors.New("invalid settlement policy")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrNotYetDue             = errors.New("payment not yet due")
	ErrNoEscrowHeld          = errors.New("no escrow held")
	ErrCustodyTransferFailed = errors.New("custody transfer failed")
	ErrNotFound              = errors.New("not found")
)

// Error carries the failing operation's context. It unwraps to its Kind and,
// when present, to the underlying cause.
type Error struct {
	Kind       error
	Op         string
	Field      string
	ShipmentID uint64
	PaymentID  uint64
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.ShipmentID != 0 {
		fmt.Fprintf(&b, " shipment=%d", e.ShipmentID)
	}
	if e.PaymentID != 0 {
		fmt.Fprintf(&b, " payment=%d", e.PaymentID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// MissingParticipant reports a zero identity for role.
func MissingParticipant(role Role) error {
	return &Error{Kind: ErrMissingParticipant, Field: string(role)}
}

// NotFound reports an unknown record id.
func NotFound(entity string, id uint64) error {
	return &Error{Kind: ErrNotFound, Field: entity, Detail: fmt.Sprintf("%s %d does not exist", entity, id)}
}

// KindOf returns the error kind wrapped by err, or nil.
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

var kinds = []error{
	ErrMissingParticipant,
	ErrInvalidVisibilityData,
	ErrInvalidAmount,
	ErrInvalidPolicy,
	ErrNotAuthorized,
	ErrInvalidTransition,
	ErrInsufficientPayment,
	ErrNotYetDue,
	ErrNoEscrowHeld,
	ErrCustodyTransferFailed,
	ErrNotFound,
}
