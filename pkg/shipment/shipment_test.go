package shipment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jovells/dchain/pkg/commitment"
)

func validDraft() Draft {
	return Draft{
		Visibility:  VisibilityPublic,
		Origin:      "New York",
		Destination: "Los Angeles",
		Transporter: "0xbbbb",
		Retailer:    "0xcccc",
		Policy:      PolicyPrepaid,
		Amount:      10_000_000,
	}
}

func TestAddressZero(t *testing.T) {
	assert.True(t, Address("").IsZero())
	assert.True(t, ZeroAddress.IsZero())
	assert.True(t, Address("0x").IsZero())
	assert.False(t, Address("0x01").IsZero())
	assert.True(t, Address("0xABCD").Equal("0xabcd"))
	assert.Equal(t, Address("0xabcd"), NewAddress(" 0xABCD "))
}

func TestStatusNext(t *testing.T) {
	next, ok := StatusCreated.Next()
	require.True(t, ok)
	assert.Equal(t, StatusInTransit, next)

	next, ok = StatusInTransit.Next()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, next)

	_, ok = StatusCompleted.Next()
	assert.False(t, ok)
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, PaymentPending.Terminal())
	assert.False(t, PaymentEscrowed.Terminal())
	assert.True(t, PaymentCompleted.Terminal())
	assert.True(t, PaymentFailed.Terminal())
}

func TestDraftValidate_MissingParticipants(t *testing.T) {
	for _, vis := range []Visibility{VisibilityPublic, VisibilityPrivate} {
		d := validDraft()
		d.Visibility = vis
		d.Transporter = ZeroAddress
		d.Retailer = ""

		err := d.Validate("0xaaaa")
		require.ErrorIs(t, err, ErrMissingParticipant)
		var e *Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, "transporter", e.Field, "transporter is checked first")

		d.Transporter = "0xbbbb"
		err = d.Validate("0xaaaa")
		require.True(t, errors.As(err, &e))
		assert.Equal(t, "retailer", e.Field)
	}

	d := validDraft()
	err := d.Validate(ZeroAddress)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "supplier", e.Field)
}

func TestDraftValidate_Amount(t *testing.T) {
	d := validDraft()
	d.Amount = 0
	assert.ErrorIs(t, d.Validate("0xaaaa"), ErrInvalidAmount)

	d.Amount = MaxAmount
	assert.NoError(t, d.Validate("0xaaaa"))

	for _, amount := range []uint64{MaxAmount + 1, 1 << 63, math.MaxUint64} {
		d.Amount = amount
		assert.ErrorIs(t, d.Validate("0xaaaa"), ErrInvalidAmount, "amount %d", amount)
	}
}

func TestDraftValidate_Visibility(t *testing.T) {
	digest := commitment.Sum([]byte("route"))

	d := validDraft()
	d.RouteCommitment = digest
	assert.ErrorIs(t, d.Validate("0xaaaa"), ErrInvalidVisibilityData)

	d = validDraft()
	d.Visibility = VisibilityPrivate
	d.RouteCommitment = digest
	assert.ErrorIs(t, d.Validate("0xaaaa"), ErrInvalidVisibilityData, "plain route on a private draft")

	d.Origin, d.Destination = "", ""
	assert.NoError(t, d.Validate("0xaaaa"))

	d.RouteCommitment = commitment.Digest{}
	assert.ErrorIs(t, d.Validate("0xaaaa"), ErrInvalidVisibilityData)

	d = validDraft()
	d.Visibility = "SECRET"
	assert.ErrorIs(t, d.Validate("0xaaaa"), ErrInvalidVisibilityData)
}

func TestDraftValidate_Policy(t *testing.T) {
	d := validDraft()
	d.Policy = "LAYAWAY"
	assert.ErrorIs(t, d.Validate("0xaaaa"), ErrInvalidPolicy)
}

func TestShipmentRoles(t *testing.T) {
	s := &Shipment{Supplier: "0xaaaa", Transporter: "0xbbbb", Retailer: "0xaaaa"}
	assert.Equal(t, []Role{RoleSupplier, RoleRetailer}, s.Roles("0xAAAA"))
	assert.Empty(t, s.Roles("0xdddd"))
	assert.Empty(t, s.Roles(ZeroAddress))
	assert.True(t, s.Involves("0xbbbb"))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("balance too low")
	err := &Error{Kind: ErrCustodyTransferFailed, Op: "handle_payment", ShipmentID: 3, Err: cause}

	assert.ErrorIs(t, err, ErrCustodyTransferFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCustodyTransferFailed, KindOf(err))
	assert.Equal(t, "handle_payment: custody transfer failed shipment=3: balance too low", err.Error())
	assert.Nil(t, KindOf(cause))
	assert.ErrorIs(t, NotFound("shipment", 9), ErrNotFound)
}
