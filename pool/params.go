package pool

import (
	"errors"

	"bondmm/fixedpoint"
)

// Params groups the governance-controlled limits of the pool. All setters
// validate against the absolute ranges below before applying.
type Params struct {
	// MinMaturity and MaxMaturity bound the maturity span accepted at
	// origination, in seconds.
	MinMaturity uint64
	MaxMaturity uint64
	// CollateralRatio is the minimum collateral per unit borrowed.
	CollateralRatio fixedpoint.Dec
	// SolvencyThreshold is the floor ratio of (cash + liabilities) to the
	// initial cash basis enforced after each mutation.
	SolvencyThreshold fixedpoint.Dec
	// GracePeriod is the post-maturity window during which a borrower may
	// still repay without being liquidated, in seconds.
	GracePeriod uint64
	// LiquidationPenalty is applied to the face value of liquidated debt for
	// downstream accounting.
	LiquidationPenalty fixedpoint.Dec
}

const (
	day  = 86_400
	hour = 3_600

	minMaturityFloor = 1 * day
	maxMaturityCeil  = 730 * day
	gracePeriodFloor = 1 * hour
	gracePeriodCeil  = 7 * day
)

var (
	collateralRatioFloor   = fixedpoint.MustFromDecimal("1.00")
	collateralRatioCeil    = fixedpoint.MustFromDecimal("3.00")
	solvencyThresholdFloor = fixedpoint.MustFromDecimal("0.90")
	solvencyThresholdCeil  = fixedpoint.MustFromDecimal("1.00")
	liquidationPenaltyCeil = fixedpoint.MustFromDecimal("0.20")
)

// ErrInvalidParam rejects administrative values outside the absolute ranges.
var ErrInvalidParam = errors.New("pool: parameter out of range")

// DefaultParams returns the launch configuration.
func DefaultParams() Params {
	return Params{
		MinMaturity:        30 * day,
		MaxMaturity:        365 * day,
		CollateralRatio:    fixedpoint.MustFromDecimal("1.50"),
		SolvencyThreshold:  fixedpoint.MustFromDecimal("0.99"),
		GracePeriod:        24 * hour,
		LiquidationPenalty: fixedpoint.MustFromDecimal("0.05"),
	}
}

func (p Params) validateMinMaturity(v uint64) error {
	if v < minMaturityFloor || v >= p.MaxMaturity {
		return ErrInvalidParam
	}
	return nil
}

func (p Params) validateMaxMaturity(v uint64) error {
	if v <= p.MinMaturity || v > maxMaturityCeil {
		return ErrInvalidParam
	}
	return nil
}

func validateCollateralRatio(v fixedpoint.Dec) error {
	if v.Lt(collateralRatioFloor) || v.Gt(collateralRatioCeil) {
		return ErrInvalidParam
	}
	return nil
}

func validateSolvencyThreshold(v fixedpoint.Dec) error {
	if v.Lt(solvencyThresholdFloor) || v.Gt(solvencyThresholdCeil) {
		return ErrInvalidParam
	}
	return nil
}

func validateGracePeriod(v uint64) error {
	if v < gracePeriodFloor || v > gracePeriodCeil {
		return ErrInvalidParam
	}
	return nil
}

func validateLiquidationPenalty(v fixedpoint.Dec) error {
	if v.Gt(liquidationPenaltyCeil) {
		return ErrInvalidParam
	}
	return nil
}
