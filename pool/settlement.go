package pool

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"bondmm/events"
	"bondmm/fixedpoint"
	"bondmm/pricing"
)

// Redeem settles a matured lend position at par. Allowed while paused: user
// exit is never blocked.
func (e *Engine) Redeem(caller common.Address, id uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	err := e.redeem(caller, id)
	e.metrics.ObserveOperation("redeem", err)
	return err
}

func (e *Engine) redeem(caller common.Address, id uint64) error {
	if err := e.prePhase(caller, false); err != nil {
		return err
	}
	position, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if !position.Active {
		return ErrNotActive
	}
	if position.Owner != caller {
		return ErrNotOwner
	}
	if position.IsBorrow {
		return ErrWrongPositionKind
	}
	if e.blockTime < position.Maturity {
		return ErrNotMature
	}

	nextCash, err := e.cash.Sub(position.FaceValue)
	if err != nil {
		return ErrInsufficientCash
	}
	nextBonds, err := e.pvBonds.Add(position.FaceValue)
	if err != nil {
		return err
	}

	if err := e.ledger.Transfer(caller, position.FaceValue); err != nil {
		return errors.Join(ErrLedgerTransfer, err)
	}
	if err := e.store.MarkInactive(id); err != nil {
		_ = e.ledger.TransferFrom(caller, e.poolAccount, position.FaceValue)
		return err
	}

	e.cash = nextCash
	e.pvBonds = nextBonds
	e.recordMutation(caller)
	e.emitter.Emit(events.Redeem{Owner: caller, PositionID: id, FaceValue: position.FaceValue})
	e.logger.Info("redeem", "position", id, "owner", caller.Hex(), "faceValue", position.FaceValue.String())
	e.publishSolvency()
	e.refreshActiveGauge()
	return nil
}

// Repay settles a borrow position: par at or after maturity, discounted
// before it. The fallback rate keeps this path open through feed outages.
// Allowed while paused.
func (e *Engine) Repay(caller common.Address, id uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	err := e.repay(caller, id)
	e.metrics.ObserveOperation("repay", err)
	return err
}

func (e *Engine) repay(caller common.Address, id uint64) error {
	if err := e.prePhase(caller, false); err != nil {
		return err
	}
	position, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if !position.Active {
		return ErrNotActive
	}
	if position.Owner != caller {
		return ErrNotOwner
	}
	if !position.IsBorrow {
		return ErrWrongPositionKind
	}

	anchor, err := e.oracle.SafeRate()
	if err != nil {
		return err
	}

	repayAmount := position.FaceValue
	if e.blockTime < position.Maturity {
		span := position.Maturity - e.blockTime
		rate, err := pricing.Rate(e.pvBonds, e.cash, anchor)
		if err != nil {
			return err
		}
		price, err := pricing.Discount(span, rate)
		if err != nil {
			return err
		}
		// Ceiling: the repayment is owed to the pool.
		if repayAmount, err = position.FaceValue.MulUp(price); err != nil {
			return err
		}
	}
	currentPV := repayAmount

	grown, err := e.grownLiability(position, anchor)
	if err != nil {
		return err
	}

	nextCash, err := e.cash.Add(repayAmount)
	if err != nil {
		return err
	}
	nextBonds := e.pvBonds.SubSat(currentPV)
	nextLiabilities := e.liabilities.SubSat(grown)

	if err := e.ledger.TransferFrom(caller, e.poolAccount, repayAmount); err != nil {
		return errors.Join(ErrLedgerTransfer, err)
	}
	if err := e.ledger.Transfer(caller, position.Collateral); err != nil {
		_ = e.ledger.Transfer(caller, repayAmount)
		return errors.Join(ErrLedgerTransfer, err)
	}
	if err := e.store.MarkInactive(id); err != nil {
		_ = e.ledger.TransferFrom(caller, e.poolAccount, position.Collateral)
		_ = e.ledger.Transfer(caller, repayAmount)
		return err
	}

	e.cash = nextCash
	e.pvBonds = nextBonds
	e.liabilities = nextLiabilities
	e.recordMutation(caller)
	e.emitter.Emit(events.Repay{
		Owner:              caller,
		PositionID:         id,
		Repaid:             repayAmount,
		CollateralReturned: position.Collateral,
	})
	e.logger.Info("repay",
		"position", id,
		"owner", caller.Hex(),
		"repaid", repayAmount.String(),
		"releasedLiability", grown.String(),
	)
	e.publishSolvency()
	e.refreshActiveGauge()
	return nil
}

// Liquidate closes a defaulted borrow position once the grace period has
// elapsed. Permissionless: any caller may invoke it. The entire collateral is
// absorbed by the pool; no refund to the borrower.
func (e *Engine) Liquidate(caller common.Address, id uint64) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	err := e.liquidate(caller, id)
	e.metrics.ObserveOperation("liquidate", err)
	return err
}

func (e *Engine) liquidate(caller common.Address, id uint64) error {
	if err := e.prePhase(caller, true); err != nil {
		return err
	}
	position, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if !position.Active {
		return ErrNotActive
	}
	if !position.IsBorrow {
		return ErrWrongPositionKind
	}
	if e.blockTime <= position.Maturity+e.params.GracePeriod {
		return ErrGraceNotExpired
	}

	anchor, err := e.oracle.SafeRate()
	if err != nil {
		return err
	}
	grown, err := e.grownLiability(position, anchor)
	if err != nil {
		return err
	}
	penalty, err := position.FaceValue.Mul(e.params.LiquidationPenalty)
	if err != nil {
		return err
	}

	nextCash, err := e.cash.Add(position.Collateral)
	if err != nil {
		return err
	}
	nextBonds := e.pvBonds.SubSat(position.FaceValue)
	nextLiabilities := e.liabilities.SubSat(grown)

	// The collateral already sits in the pool account; closing the position
	// only reclassifies it, so no ledger movement happens here.
	if err := e.store.MarkInactive(id); err != nil {
		return err
	}

	e.cash = nextCash
	e.pvBonds = nextBonds
	e.liabilities = nextLiabilities
	e.recordMutation(caller)
	e.emitter.Emit(events.Liquidated{
		Liquidator:       caller,
		PositionID:       id,
		Debt:             position.FaceValue,
		Penalty:          penalty,
		CollateralSeized: position.Collateral,
	})
	e.logger.Warn("liquidate",
		"position", id,
		"liquidator", caller.Hex(),
		"debt", position.FaceValue.String(),
		"collateralSeized", position.Collateral.String(),
	)
	e.publishSolvency()
	e.refreshActiveGauge()
	return nil
}

// grownLiability recomputes the accrued form of a position's initial present
// value from its creation time using the current pool rate. The pool-level
// aggregate accrues continuously, so this per-position release is an
// approximation; the caller saturates L at zero to absorb the mismatch.
func (e *Engine) grownLiability(position Position, anchor fixedpoint.Dec) (fixedpoint.Dec, error) {
	rate, err := pricing.Rate(e.pvBonds, e.cash, anchor)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	elapsed := uint64(0)
	if e.blockTime > position.CreatedAt {
		elapsed = e.blockTime - position.CreatedAt
	}
	exponent, err := rate.Mul(pricing.YearFraction(elapsed))
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	growth, err := exponent.Exp()
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	return position.InitialPV.Mul(growth)
}
