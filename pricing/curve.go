// Package pricing implements the closed-form bond curve used by the pool
// engine: the invariant K*x^a + y^a = C, the rate curve r = kappa*ln(X/y) + r*,
// and the exponential discount p = e^{-rt}. Every function is pure and
// deterministic; all quantities are 60.18 fixed point.
package pricing

import (
	"errors"
	"math/big"

	"bondmm/fixedpoint"
)

const (
	// SecondsPerYear converts absolute time spans into curve years.
	SecondsPerYear = 31_536_000
	// MinTime is the smallest maturity span the curve accepts. Below one hour
	// the curvature parameter degenerates and quotes stop being meaningful.
	MinTime = 3_600
)

// Kappa is the fixed curvature coefficient of the rate curve. It is a
// protocol constant, not a governance parameter.
var Kappa = fixedpoint.MustFromDecimal("0.02")

var (
	ErrTimeTooSmall  = errors.New("pricing: time to maturity below minimum")
	ErrEmptyReserves = errors.New("pricing: reserves must be positive")
	ErrInvalidTrade  = errors.New("pricing: trade would break the invariant")
)

var scale = big.NewInt(1_000_000_000_000_000_000)

// YearFraction converts a span in seconds into fixed-point years.
func YearFraction(seconds uint64) fixedpoint.Dec {
	raw := new(big.Int).Mul(new(big.Int).SetUint64(seconds), scale)
	raw.Quo(raw, big.NewInt(SecondsPerYear))
	d, _ := fixedpoint.FromBig(raw)
	return d
}

// Alpha computes the invariant curvature a(t) = 1 / (1 + kappa*t/Y).
func Alpha(t uint64) (fixedpoint.Dec, error) {
	if t < MinTime {
		return fixedpoint.Dec{}, ErrTimeTooSmall
	}
	kt, err := Kappa.Mul(YearFraction(t))
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	den, err := fixedpoint.One().Add(kt)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	return fixedpoint.One().Div(den)
}

// KFactor computes the invariant scaling factor K(t, r*) = e^{-t/Y * r* * a}.
func KFactor(t uint64, anchor fixedpoint.Dec) (fixedpoint.Dec, error) {
	alpha, err := Alpha(t)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	exponent, err := YearFraction(t).Mul(anchor)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	if exponent, err = exponent.Mul(alpha); err != nil {
		return fixedpoint.Dec{}, err
	}
	grown, err := exponent.Exp()
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	return grown.Inv()
}

// Discount computes the price of one unit of face value maturing in t
// seconds: p = e^{-r*t/Y}, with p(0) = 1 exactly so bonds redeem at par.
func Discount(t uint64, rate fixedpoint.Dec) (fixedpoint.Dec, error) {
	if t == 0 {
		return fixedpoint.One(), nil
	}
	if t < MinTime {
		return fixedpoint.Dec{}, ErrTimeTooSmall
	}
	exponent, err := rate.Mul(YearFraction(t))
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	grown, err := exponent.Exp()
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	return grown.Inv()
}

// Rate derives the instantaneous rate from the reserve mix. A bond-heavy pool
// quotes above the anchor, a cash-heavy pool below it. The unsigned
// representation floors the cash-heavy branch at zero rather than quoting a
// negative rate.
func Rate(pvBonds, cash, anchor fixedpoint.Dec) (fixedpoint.Dec, error) {
	if pvBonds.IsZero() || cash.IsZero() {
		return fixedpoint.Dec{}, ErrEmptyReserves
	}
	if pvBonds.Cmp(cash) >= 0 {
		ratio, err := pvBonds.Div(cash)
		if err != nil {
			return fixedpoint.Dec{}, err
		}
		lnRatio, err := ratio.Ln()
		if err != nil {
			return fixedpoint.Dec{}, err
		}
		spread, err := Kappa.Mul(lnRatio)
		if err != nil {
			return fixedpoint.Dec{}, err
		}
		return anchor.Add(spread)
	}
	ratio, err := cash.Div(pvBonds)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	lnRatio, err := ratio.Ln()
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	spread, err := Kappa.Mul(lnRatio)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	return anchor.SubSat(spread), nil
}

// Invariant evaluates C = K*X^a + y^a for the given reserves and maturity.
func Invariant(pvBonds, cash fixedpoint.Dec, t uint64, anchor fixedpoint.Dec) (fixedpoint.Dec, error) {
	alpha, err := Alpha(t)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	k, err := KFactor(t, anchor)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	bondTerm, err := pvBonds.Pow(alpha)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	if bondTerm, err = k.Mul(bondTerm); err != nil {
		return fixedpoint.Dec{}, err
	}
	cashTerm, err := cash.Pow(alpha)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	return bondTerm.Add(cashTerm)
}

// SolveBond answers the face-value delta for a given cash delta: move the
// cash reserve by deltaCash (addCash true when cash flows into the pool),
// then solve x' = ((C - y'^a)/K)^{1/a} on the invariant and return |x' - X|.
func SolveBond(deltaCash, pvBonds, cash fixedpoint.Dec, t uint64, anchor fixedpoint.Dec, addCash bool) (fixedpoint.Dec, error) {
	if pvBonds.IsZero() || cash.IsZero() {
		return fixedpoint.Dec{}, ErrEmptyReserves
	}
	if deltaCash.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}
	alpha, err := Alpha(t)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	k, err := KFactor(t, anchor)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	c, err := Invariant(pvBonds, cash, t, anchor)
	if err != nil {
		return fixedpoint.Dec{}, err
	}

	var nextCash fixedpoint.Dec
	if addCash {
		if nextCash, err = cash.Add(deltaCash); err != nil {
			return fixedpoint.Dec{}, err
		}
	} else {
		if nextCash, err = cash.Sub(deltaCash); err != nil {
			return fixedpoint.Dec{}, ErrInvalidTrade
		}
		if nextCash.IsZero() {
			return fixedpoint.Dec{}, ErrInvalidTrade
		}
	}

	cashTerm, err := nextCash.Pow(alpha)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	remainder, err := c.Sub(cashTerm)
	if err != nil || remainder.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}

	// Round the base up in both directions: a larger x' shrinks the face value
	// granted to a lender and enlarges the face value owed by a borrower.
	scaled, err := remainder.DivUp(k)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	invAlpha, err := alpha.Inv()
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	nextBonds, err := scaled.Pow(invAlpha)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	if nextBonds.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}

	if addCash {
		delta := pvBonds.SubSat(nextBonds)
		if delta.IsZero() {
			return fixedpoint.Dec{}, ErrInvalidTrade
		}
		return delta, nil
	}
	delta := nextBonds.SubSat(pvBonds)
	if delta.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}
	return delta, nil
}

// SolveCash answers the cash delta for a given face-value delta: move the
// bond reserve by deltaBond (addBond true when face value flows into the
// pool), then solve y' = (C - K*x'^a)^{1/a} and return |y' - y|.
func SolveCash(deltaBond, pvBonds, cash fixedpoint.Dec, t uint64, anchor fixedpoint.Dec, addBond bool) (fixedpoint.Dec, error) {
	if pvBonds.IsZero() || cash.IsZero() {
		return fixedpoint.Dec{}, ErrEmptyReserves
	}
	if deltaBond.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}
	alpha, err := Alpha(t)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	k, err := KFactor(t, anchor)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	c, err := Invariant(pvBonds, cash, t, anchor)
	if err != nil {
		return fixedpoint.Dec{}, err
	}

	var nextBonds fixedpoint.Dec
	if addBond {
		if nextBonds, err = pvBonds.Add(deltaBond); err != nil {
			return fixedpoint.Dec{}, err
		}
	} else {
		if nextBonds, err = pvBonds.Sub(deltaBond); err != nil {
			return fixedpoint.Dec{}, ErrInvalidTrade
		}
		if nextBonds.IsZero() {
			return fixedpoint.Dec{}, ErrInvalidTrade
		}
	}

	bondTerm, err := nextBonds.Pow(alpha)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	if bondTerm, err = k.Mul(bondTerm); err != nil {
		return fixedpoint.Dec{}, err
	}
	remainder, err := c.Sub(bondTerm)
	if err != nil || remainder.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}
	invAlpha, err := alpha.Inv()
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	nextCash, err := remainder.Pow(invAlpha)
	if err != nil {
		return fixedpoint.Dec{}, err
	}
	if nextCash.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}

	if addBond {
		delta := cash.SubSat(nextCash)
		if delta.IsZero() {
			return fixedpoint.Dec{}, ErrInvalidTrade
		}
		return delta, nil
	}
	delta := nextCash.SubSat(cash)
	if delta.IsZero() {
		return fixedpoint.Dec{}, ErrInvalidTrade
	}
	return delta, nil
}
