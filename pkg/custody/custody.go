// Package custody moves the settlement asset on behalf of the ledger engine.
// Every operation is all-or-nothing: on error no balance has changed.
package custody

import (
	"context"
	"errors"

	"github.com/Jovells/dchain/pkg/shipment"
)

var (
	// ErrInsufficientFunds is returned when the source cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotHeld is returned when releasing a hold that does not exist.
	ErrNotHeld = errors.New("no funds held")
	// ErrHoldExists is returned when depositing under a hold id already in use.
	ErrHoldExists = errors.New("hold already exists")
	// ErrAmountOutOfRange is returned for amounts above shipment.MaxAmount.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// Custodian is the asset-transfer primitive the engine settles through.
// Hold ids are payment ids.
type Custodian interface {
	Transfer(ctx context.Context, from, to shipment.Address, amount uint64) error
	DepositToEscrow(ctx context.Context, from shipment.Address, holdID uint64, amount uint64) error
	ReleaseEscrow(ctx context.Context, holdID uint64, to shipment.Address) error
}

// Hold describes funds held in escrow.
type Hold struct {
	From   shipment.Address `json:"from"`
	Amount uint64           `json:"amount"`
}
