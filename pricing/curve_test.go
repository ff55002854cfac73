package pricing

import (
	"testing"

	"bondmm/fixedpoint"
)

const (
	day      = uint64(86_400)
	ninetyD  = 90 * day
	year     = uint64(SecondsPerYear)
	reserves = 100_000
)

var anchor = fixedpoint.MustFromDecimal("0.05")

func approx(t *testing.T, got, want fixedpoint.Dec, relTol string) {
	t.Helper()
	tol, err := want.Mul(fixedpoint.MustFromDecimal(relTol))
	if err != nil {
		t.Fatalf("tolerance: %v", err)
	}
	diff := got.SubSat(want)
	if diff.IsZero() {
		diff = want.SubSat(got)
	}
	if diff.Cmp(tol) > 0 {
		t.Fatalf("got %s want %s within %s", got.String(), want.String(), tol.String())
	}
}

func TestAlphaDomainAndValue(t *testing.T) {
	if _, err := Alpha(MinTime - 1); err != ErrTimeTooSmall {
		t.Fatalf("expected ErrTimeTooSmall, got %v", err)
	}
	alpha, err := Alpha(year)
	if err != nil {
		t.Fatalf("alpha: %v", err)
	}
	// kappa*1y = 0.02, so alpha = 1/1.02.
	approx(t, alpha, fixedpoint.MustFromDecimal("0.980392156862745098"), "0.000000000001")
}

func TestAlphaMonotoneDecreasing(t *testing.T) {
	prev, err := Alpha(30 * day)
	if err != nil {
		t.Fatalf("alpha: %v", err)
	}
	for _, span := range []uint64{90 * day, 180 * day, year, 2 * year} {
		next, err := Alpha(span)
		if err != nil {
			t.Fatalf("alpha(%d): %v", span, err)
		}
		if !next.Lt(prev) {
			t.Fatalf("alpha not decreasing at %d: %s >= %s", span, next.String(), prev.String())
		}
		prev = next
	}
}

func TestDiscountParAtMaturity(t *testing.T) {
	for _, rate := range []string{"0", "0.05", "0.20", "1.5"} {
		price, err := Discount(0, fixedpoint.MustFromDecimal(rate))
		if err != nil {
			t.Fatalf("discount at zero span: %v", err)
		}
		if !price.Equal(fixedpoint.One()) {
			t.Fatalf("expected exact par for rate %s, got %s", rate, price.String())
		}
	}
	if _, err := Discount(MinTime-1, anchor); err != ErrTimeTooSmall {
		t.Fatalf("expected ErrTimeTooSmall, got %v", err)
	}
}

func TestDiscountMonotone(t *testing.T) {
	short, err := Discount(30*day, anchor)
	if err != nil {
		t.Fatalf("discount: %v", err)
	}
	long, err := Discount(year, anchor)
	if err != nil {
		t.Fatalf("discount: %v", err)
	}
	if !long.Lt(short) {
		t.Fatalf("discount should fall with span: %s >= %s", long.String(), short.String())
	}

	low, err := Discount(ninetyD, fixedpoint.MustFromDecimal("0.01"))
	if err != nil {
		t.Fatalf("discount: %v", err)
	}
	high, err := Discount(ninetyD, fixedpoint.MustFromDecimal("0.10"))
	if err != nil {
		t.Fatalf("discount: %v", err)
	}
	if !high.Lt(low) {
		t.Fatalf("discount should fall with rate: %s >= %s", high.String(), low.String())
	}
}

func TestRateBalancedEqualsAnchor(t *testing.T) {
	even := fixedpoint.FromUint64(reserves)
	rate, err := Rate(even, even, anchor)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !rate.Equal(anchor) {
		t.Fatalf("balanced pool should quote the anchor exactly, got %s", rate.String())
	}
}

func TestRateMonotone(t *testing.T) {
	cash := fixedpoint.FromUint64(reserves)
	bondHeavy, err := Rate(fixedpoint.FromUint64(reserves*2), cash, anchor)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !bondHeavy.Gt(anchor) {
		t.Fatalf("bond-heavy pool should quote above anchor, got %s", bondHeavy.String())
	}
	cashHeavy, err := Rate(fixedpoint.FromUint64(reserves/2), cash, anchor)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !cashHeavy.Lt(anchor) {
		t.Fatalf("cash-heavy pool should quote below anchor, got %s", cashHeavy.String())
	}
}

func TestRateRequiresReserves(t *testing.T) {
	if _, err := Rate(fixedpoint.Zero(), fixedpoint.FromUint64(1), anchor); err != ErrEmptyReserves {
		t.Fatalf("expected ErrEmptyReserves, got %v", err)
	}
	if _, err := Rate(fixedpoint.FromUint64(1), fixedpoint.Zero(), anchor); err != ErrEmptyReserves {
		t.Fatalf("expected ErrEmptyReserves, got %v", err)
	}
}

func TestRateFloorsAtZero(t *testing.T) {
	// A drastically cash-heavy pool with a tiny anchor would quote negative;
	// the unsigned curve floors at zero instead.
	rate, err := Rate(fixedpoint.FromUint64(1), fixedpoint.FromUint64(reserves), fixedpoint.MustFromDecimal("0.001"))
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !rate.IsZero() {
		t.Fatalf("expected zero-floored rate, got %s", rate.String())
	}
}

func TestSolveBondLendMagnitude(t *testing.T) {
	pvBonds := fixedpoint.FromUint64(reserves)
	cash := fixedpoint.FromUint64(reserves)
	amount := fixedpoint.FromUint64(10_000)

	face, err := SolveBond(amount, pvBonds, cash, ninetyD, anchor, true)
	if err != nil {
		t.Fatalf("solve bond: %v", err)
	}
	// The face value carries roughly e^{0.05*90/365} of growth over the cash.
	if !face.Gt(fixedpoint.FromUint64(10_100)) || !face.Lt(fixedpoint.FromUint64(10_200)) {
		t.Fatalf("lend face value out of range: %s", face.String())
	}
}

func TestSolveBondBorrowMagnitude(t *testing.T) {
	pvBonds := fixedpoint.FromUint64(reserves)
	cash := fixedpoint.FromUint64(reserves)
	amount := fixedpoint.FromUint64(10_000)

	face, err := SolveBond(amount, pvBonds, cash, ninetyD, anchor, false)
	if err != nil {
		t.Fatalf("solve bond: %v", err)
	}
	if !face.Gt(fixedpoint.FromUint64(10_100)) || !face.Lt(fixedpoint.FromUint64(10_200)) {
		t.Fatalf("borrow face value out of range: %s", face.String())
	}
	// Borrowing thins the cash reserve, so the borrower owes slightly more
	// than a lender earns for the same cash amount.
	lendFace, err := SolveBond(amount, pvBonds, cash, ninetyD, anchor, true)
	if err != nil {
		t.Fatalf("solve bond: %v", err)
	}
	if !face.Gt(lendFace) {
		t.Fatalf("borrow face %s should exceed lend face %s", face.String(), lendFace.String())
	}
}

func TestSolveBondRejectsDegenerateTrades(t *testing.T) {
	pvBonds := fixedpoint.FromUint64(reserves)
	cash := fixedpoint.FromUint64(reserves)

	if _, err := SolveBond(fixedpoint.Zero(), pvBonds, cash, ninetyD, anchor, true); err != ErrInvalidTrade {
		t.Fatalf("expected ErrInvalidTrade for zero delta, got %v", err)
	}
	if _, err := SolveBond(cash, pvBonds, cash, ninetyD, anchor, false); err != ErrInvalidTrade {
		t.Fatalf("expected ErrInvalidTrade when draining cash, got %v", err)
	}
	if _, err := SolveBond(fixedpoint.FromUint64(1), fixedpoint.Zero(), cash, ninetyD, anchor, true); err != ErrEmptyReserves {
		t.Fatalf("expected ErrEmptyReserves, got %v", err)
	}
}

func TestSolveCashRoundTripsSolveBond(t *testing.T) {
	pvBonds := fixedpoint.FromUint64(reserves)
	cash := fixedpoint.FromUint64(reserves)
	amount := fixedpoint.FromUint64(10_000)

	face, err := SolveBond(amount, pvBonds, cash, ninetyD, anchor, true)
	if err != nil {
		t.Fatalf("solve bond: %v", err)
	}
	// Removing the granted face value from the bond reserve should demand the
	// original cash amount back, within solver rounding.
	back, err := SolveCash(face, pvBonds, cash, ninetyD, anchor, false)
	if err != nil {
		t.Fatalf("solve cash: %v", err)
	}
	approx(t, back, amount, "0.001")
}

func invariantFor(t *testing.T, pvBonds, cash fixedpoint.Dec) fixedpoint.Dec {
	t.Helper()
	c, err := Invariant(pvBonds, cash, ninetyD, anchor)
	if err != nil {
		t.Fatalf("invariant: %v", err)
	}
	return c
}

func TestInvariantPreservedByLend(t *testing.T) {
	pvBonds := fixedpoint.FromUint64(reserves)
	cash := fixedpoint.FromUint64(reserves)
	amount := fixedpoint.FromUint64(10_000)

	before := invariantFor(t, pvBonds, cash)

	face, err := SolveBond(amount, pvBonds, cash, ninetyD, anchor, true)
	if err != nil {
		t.Fatalf("solve bond: %v", err)
	}
	rate, err := Rate(pvBonds, cash, anchor)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	price, err := Discount(ninetyD, rate)
	if err != nil {
		t.Fatalf("discount: %v", err)
	}
	deltaPV, err := face.Mul(price)
	if err != nil {
		t.Fatalf("pv: %v", err)
	}

	nextCash, err := cash.Add(amount)
	if err != nil {
		t.Fatalf("cash: %v", err)
	}
	nextBonds, err := pvBonds.Sub(deltaPV)
	if err != nil {
		t.Fatalf("bonds: %v", err)
	}

	after := invariantFor(t, nextBonds, nextCash)
	approx(t, after, before, "0.001")
}

func TestInvariantDriftBoundedAcrossTrades(t *testing.T) {
	pvBonds := fixedpoint.FromUint64(reserves)
	cash := fixedpoint.FromUint64(reserves)
	amount := fixedpoint.FromUint64(2_000)

	before := invariantFor(t, pvBonds, cash)

	for i := 0; i < 5; i++ {
		face, err := SolveBond(amount, pvBonds, cash, ninetyD, anchor, true)
		if err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
		rate, err := Rate(pvBonds, cash, anchor)
		if err != nil {
			t.Fatalf("trade %d rate: %v", i, err)
		}
		price, err := Discount(ninetyD, rate)
		if err != nil {
			t.Fatalf("trade %d discount: %v", i, err)
		}
		deltaPV, err := face.Mul(price)
		if err != nil {
			t.Fatalf("trade %d pv: %v", i, err)
		}
		if cash, err = cash.Add(amount); err != nil {
			t.Fatalf("trade %d cash: %v", i, err)
		}
		if pvBonds, err = pvBonds.Sub(deltaPV); err != nil {
			t.Fatalf("trade %d bonds: %v", i, err)
		}
	}

	after := invariantFor(t, pvBonds, cash)
	approx(t, after, before, "0.05")
}
