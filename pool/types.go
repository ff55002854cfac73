package pool

import (
	"github.com/ethereum/go-ethereum/common"

	"bondmm/fixedpoint"
)

// Position is a single lend or borrow obligation. Records are immutable after
// creation except for the Active flag, which is cleared exactly once on exit.
type Position struct {
	// ID is the monotonically allocated identifier. Never reused.
	ID uint64 `json:"id"`
	// Owner is the account that opened the position.
	Owner common.Address `json:"owner"`
	// FaceValue is the bond face due at maturity.
	FaceValue fixedpoint.Dec `json:"faceValue"`
	// Maturity is the absolute time when the bond pays par.
	Maturity uint64 `json:"maturity"`
	// Collateral is the cash posted at creation. Zero for lend positions.
	Collateral fixedpoint.Dec `json:"collateral"`
	// InitialPV records the present value at creation; settlement releases
	// the grown form of this amount from the pool liabilities.
	InitialPV fixedpoint.Dec `json:"initialPv"`
	// CreatedAt is the block time at creation.
	CreatedAt uint64 `json:"createdAt"`
	// IsBorrow discriminates the position variant.
	IsBorrow bool `json:"isBorrow"`
	// Active is cleared on redeem, repay, or liquidation. Never reactivated.
	Active bool `json:"active"`
}

// Snapshot is a read-only view of the pool accounting state.
type Snapshot struct {
	Cash           fixedpoint.Dec
	PVBonds        fixedpoint.Dec
	NetLiabilities fixedpoint.Dec
	InitialCash    fixedpoint.Dec
	LastAccrual    uint64
	Paused         bool
	Initialized    bool
}
