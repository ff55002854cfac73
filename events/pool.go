package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"bondmm/fixedpoint"
)

const (
	TypeInitialized      = "pool.initialized"
	TypeLend             = "pool.lend"
	TypeBorrow           = "pool.borrow"
	TypeRedeem           = "pool.redeem"
	TypeRepay            = "pool.repay"
	TypeLiquidated       = "pool.liquidated"
	TypeFallbackRateUsed = "oracle.fallback_rate_used"
	TypeParamUpdated     = "pool.param_updated"
	TypePaused           = "pool.paused"
	TypeUnpaused         = "pool.unpaused"
)

// Initialized is emitted once when the pool is seeded with initial cash.
type Initialized struct {
	InitialCash fixedpoint.Dec
}

func (Initialized) EventType() string { return TypeInitialized }

func (e Initialized) Record() Record {
	return Record{
		Type: TypeInitialized,
		Attributes: map[string]string{
			"initialCash": e.InitialCash.String(),
		},
	}
}

// Lend is emitted when a lend position is opened.
type Lend struct {
	Owner      common.Address
	PositionID uint64
	Amount     fixedpoint.Dec
	FaceValue  fixedpoint.Dec
	Maturity   uint64
}

func (Lend) EventType() string { return TypeLend }

func (e Lend) Record() Record {
	return Record{
		Type: TypeLend,
		Attributes: map[string]string{
			"owner":      e.Owner.Hex(),
			"positionId": strconv.FormatUint(e.PositionID, 10),
			"amount":     e.Amount.String(),
			"faceValue":  e.FaceValue.String(),
			"maturity":   strconv.FormatUint(e.Maturity, 10),
		},
	}
}

// Borrow is emitted when a borrow position is opened.
type Borrow struct {
	Owner      common.Address
	PositionID uint64
	Amount     fixedpoint.Dec
	FaceValue  fixedpoint.Dec
	Collateral fixedpoint.Dec
	Maturity   uint64
}

func (Borrow) EventType() string { return TypeBorrow }

func (e Borrow) Record() Record {
	return Record{
		Type: TypeBorrow,
		Attributes: map[string]string{
			"owner":      e.Owner.Hex(),
			"positionId": strconv.FormatUint(e.PositionID, 10),
			"amount":     e.Amount.String(),
			"faceValue":  e.FaceValue.String(),
			"collateral": e.Collateral.String(),
			"maturity":   strconv.FormatUint(e.Maturity, 10),
		},
	}
}

// Redeem is emitted when a matured lend position pays out at par.
type Redeem struct {
	Owner      common.Address
	PositionID uint64
	FaceValue  fixedpoint.Dec
}

func (Redeem) EventType() string { return TypeRedeem }

func (e Redeem) Record() Record {
	return Record{
		Type: TypeRedeem,
		Attributes: map[string]string{
			"owner":      e.Owner.Hex(),
			"positionId": strconv.FormatUint(e.PositionID, 10),
			"faceValue":  e.FaceValue.String(),
		},
	}
}

// Repay is emitted when a borrow position is settled by its owner.
type Repay struct {
	Owner              common.Address
	PositionID         uint64
	Repaid             fixedpoint.Dec
	CollateralReturned fixedpoint.Dec
}

func (Repay) EventType() string { return TypeRepay }

func (e Repay) Record() Record {
	return Record{
		Type: TypeRepay,
		Attributes: map[string]string{
			"owner":              e.Owner.Hex(),
			"positionId":         strconv.FormatUint(e.PositionID, 10),
			"repaid":             e.Repaid.String(),
			"collateralReturned": e.CollateralReturned.String(),
		},
	}
}

// Liquidated is emitted when a defaulted borrow position is closed by a third
// party after the grace period.
type Liquidated struct {
	Liquidator       common.Address
	PositionID       uint64
	Debt             fixedpoint.Dec
	Penalty          fixedpoint.Dec
	CollateralSeized fixedpoint.Dec
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Record() Record {
	return Record{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator":       e.Liquidator.Hex(),
			"positionId":       strconv.FormatUint(e.PositionID, 10),
			"debt":             e.Debt.String(),
			"penalty":          e.Penalty.String(),
			"collateralSeized": e.CollateralSeized.String(),
		},
	}
}

// FallbackRateUsed is emitted whenever a settlement path substitutes the
// configured fallback for a stale oracle reading.
type FallbackRateUsed struct {
	Fallback fixedpoint.Dec
}

func (FallbackRateUsed) EventType() string { return TypeFallbackRateUsed }

func (e FallbackRateUsed) Record() Record {
	return Record{
		Type: TypeFallbackRateUsed,
		Attributes: map[string]string{
			"fallbackRate": e.Fallback.String(),
		},
	}
}

// ParamUpdated is emitted on each successful administrative setter call.
type ParamUpdated struct {
	Name  string
	Value string
}

func (ParamUpdated) EventType() string { return TypeParamUpdated }

func (e ParamUpdated) Record() Record {
	return Record{
		Type: TypeParamUpdated,
		Attributes: map[string]string{
			"name":  e.Name,
			"value": e.Value,
		},
	}
}

// Paused is emitted when origination is halted.
type Paused struct{}

func (Paused) EventType() string { return TypePaused }

func (Paused) Record() Record { return Record{Type: TypePaused, Attributes: map[string]string{}} }

// Unpaused is emitted when origination resumes.
type Unpaused struct{}

func (Unpaused) EventType() string { return TypeUnpaused }

func (Unpaused) Record() Record { return Record{Type: TypeUnpaused, Attributes: map[string]string{}} }
