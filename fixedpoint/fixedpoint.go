package fixedpoint

import (
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Dec is an unsigned 60.18 decimal fixed-point number: the stored integer
// equals the real value multiplied by 1e18. The backing word is a 256-bit
// unsigned integer, matching on-chain token precision.
type Dec struct {
	u uint256.Int
}

var (
	ErrOverflow  = errors.New("fixedpoint: overflow")
	ErrUnderflow = errors.New("fixedpoint: underflow")
	ErrDivByZero = errors.New("fixedpoint: division by zero")
	ErrExpDomain = errors.New("fixedpoint: exp argument out of domain")
	ErrLnDomain  = errors.New("fixedpoint: ln argument below one")
)

var (
	scale = big.NewInt(1_000_000_000_000_000_000)
	// ln(2) scaled by 1e18, truncated.
	ln2 = big.NewInt(693_147_180_559_945_309)
	// Largest admissible Exp input: ln(2^192) scaled by 1e18, which keeps Exp
	// results at or below 2^192 in real terms.
	maxExpInput = mustBig("133084258667509499440")
	maxWord     = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBig(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("fixedpoint: invalid big integer constant")
	}
	return v
}

// Zero returns the additive identity.
func Zero() Dec { return Dec{} }

// One returns 1.0 in fixed-point form.
func One() Dec { return fromWordsUnchecked(scale) }

// FromUint64 converts a whole number into fixed point.
func FromUint64(v uint64) Dec {
	raw := new(big.Int).Mul(new(big.Int).SetUint64(v), scale)
	d, _ := FromBig(raw)
	return d
}

// FromRaw wraps an already-scaled integer without rescaling.
func FromRaw(raw *uint256.Int) Dec {
	var d Dec
	if raw != nil {
		d.u.Set(raw)
	}
	return d
}

// FromBig converts an already-scaled big integer. Negative values and values
// beyond the 256-bit range are rejected.
func FromBig(raw *big.Int) (Dec, error) {
	if raw == nil || raw.Sign() < 0 {
		return Dec{}, ErrUnderflow
	}
	u, overflow := uint256.FromBig(raw)
	if overflow {
		return Dec{}, ErrOverflow
	}
	var d Dec
	d.u.Set(u)
	return d, nil
}

// FromDecimal parses a non-negative decimal literal such as "1.5" or "0.02"
// into fixed point. Fractional digits beyond the 18th are truncated.
func FromDecimal(value string) (Dec, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Dec{}, errors.New("fixedpoint: empty decimal literal")
	}
	intPart := trimmed
	fracPart := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		intPart = trimmed[:idx]
		fracPart = trimmed[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 18 {
		fracPart = fracPart[:18]
	}
	for len(fracPart) < 18 {
		fracPart += "0"
	}
	raw, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok || raw.Sign() < 0 {
		return Dec{}, errors.New("fixedpoint: malformed decimal literal " + value)
	}
	return FromBig(raw)
}

// MustFromDecimal is FromDecimal for package-level constants and test
// fixtures; it panics on malformed input.
func MustFromDecimal(value string) Dec {
	d, err := FromDecimal(value)
	if err != nil {
		panic(err)
	}
	return d
}

func fromWordsUnchecked(raw *big.Int) Dec {
	u, _ := uint256.FromBig(raw)
	var d Dec
	d.u.Set(u)
	return d
}

// Raw exposes the scaled integer backing the value.
func (d Dec) Raw() *uint256.Int { return new(uint256.Int).Set(&d.u) }

// Big returns the scaled integer as a big.Int copy.
func (d Dec) Big() *big.Int { return d.u.ToBig() }

// IsZero reports whether the value is exactly zero.
func (d Dec) IsZero() bool { return d.u.IsZero() }

// Cmp compares two values, returning -1, 0 or 1.
func (d Dec) Cmp(o Dec) int { return d.u.Cmp(&o.u) }

// Lt reports d < o.
func (d Dec) Lt(o Dec) bool { return d.u.Lt(&o.u) }

// Gt reports d > o.
func (d Dec) Gt(o Dec) bool { return d.u.Gt(&o.u) }

// Equal reports exact equality.
func (d Dec) Equal(o Dec) bool { return d.u.Eq(&o.u) }

// String renders the value as a decimal string with full 18-digit precision.
func (d Dec) String() string {
	quo := new(big.Int)
	rem := new(big.Int)
	quo.QuoRem(d.u.ToBig(), scale, rem)
	frac := rem.String()
	for len(frac) < 18 {
		frac = "0" + frac
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return quo.String()
	}
	return quo.String() + "." + frac
}

// MarshalText renders the raw scaled integer in decimal form. Position
// records persist through this representation.
func (d Dec) MarshalText() ([]byte, error) {
	return []byte(d.u.Dec()), nil
}

// UnmarshalText parses the raw scaled integer form produced by MarshalText.
func (d *Dec) UnmarshalText(text []byte) error {
	var u uint256.Int
	if err := u.SetFromDecimal(string(text)); err != nil {
		return err
	}
	d.u.Set(&u)
	return nil
}

// Add returns d + o, failing on 256-bit overflow.
func (d Dec) Add(o Dec) (Dec, error) {
	sum, carry := new(uint256.Int).AddOverflow(&d.u, &o.u)
	if carry {
		return Dec{}, ErrOverflow
	}
	return FromRaw(sum), nil
}

// Sub returns d - o, failing when the result would be negative.
func (d Dec) Sub(o Dec) (Dec, error) {
	if d.u.Lt(&o.u) {
		return Dec{}, ErrUnderflow
	}
	return FromRaw(new(uint256.Int).Sub(&d.u, &o.u)), nil
}

// SubSat returns d - o saturated at zero.
func (d Dec) SubSat(o Dec) Dec {
	if d.u.Lt(&o.u) {
		return Dec{}
	}
	return FromRaw(new(uint256.Int).Sub(&d.u, &o.u))
}

// Mul returns floor(d*o / 1e18).
func (d Dec) Mul(o Dec) (Dec, error) {
	product := new(big.Int).Mul(d.Big(), o.Big())
	product.Quo(product, scale)
	return FromBig(product)
}

// MulUp returns ceil(d*o / 1e18). Used when the product is owed to the pool.
func (d Dec) MulUp(o Dec) (Dec, error) {
	product := new(big.Int).Mul(d.Big(), o.Big())
	return fromBigCeil(product, scale)
}

// Div returns floor(d*1e18 / o), failing with ErrDivByZero when o is zero.
func (d Dec) Div(o Dec) (Dec, error) {
	if o.IsZero() {
		return Dec{}, ErrDivByZero
	}
	num := new(big.Int).Mul(d.Big(), scale)
	num.Quo(num, o.Big())
	return FromBig(num)
}

// DivUp returns ceil(d*1e18 / o).
func (d Dec) DivUp(o Dec) (Dec, error) {
	if o.IsZero() {
		return Dec{}, ErrDivByZero
	}
	num := new(big.Int).Mul(d.Big(), scale)
	return fromBigCeil(num, o.Big())
}

func fromBigCeil(num, den *big.Int) (Dec, error) {
	quo := new(big.Int)
	rem := new(big.Int)
	quo.QuoRem(num, den, rem)
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return FromBig(quo)
}

// Inv returns 1/d.
func (d Dec) Inv() (Dec, error) {
	return One().Div(d)
}

// Exp evaluates e^d. The domain is [0, ~133.084e18]; larger arguments fail
// with ErrExpDomain. Callers needing e^{-x} compute Inv(Exp(x)).
func (d Dec) Exp() (Dec, error) {
	x := d.Big()
	if x.Cmp(maxExpInput) > 0 {
		return Dec{}, ErrExpDomain
	}
	if x.Sign() == 0 {
		return One(), nil
	}

	// Range reduction: e^x = 2^n * e^r with r = x - n*ln2 in [0, ln2).
	n := new(big.Int).Quo(x, ln2)
	r := new(big.Int).Sub(x, new(big.Int).Mul(n, ln2))

	// Maclaurin series for e^r; r < 0.70 so the terms shrink fast enough that
	// the loop terminates within ~20 iterations at this precision.
	sum := new(big.Int).Set(scale)
	term := new(big.Int).Set(scale)
	for k := int64(1); k < 64; k++ {
		term.Mul(term, r)
		term.Quo(term, scale)
		term.Quo(term, big.NewInt(k))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	sum.Lsh(sum, uint(n.Uint64()))
	if sum.Cmp(maxWord) > 0 {
		return Dec{}, ErrOverflow
	}
	return FromBig(sum)
}

// Ln evaluates the natural logarithm for arguments >= 1. Callers needing
// ln(x) for x < 1 compute -ln(1/x) on their own signed bookkeeping.
func (d Dec) Ln() (Dec, error) {
	x := d.Big()
	if x.Cmp(scale) < 0 {
		return Dec{}, ErrLnDomain
	}
	if x.Cmp(scale) == 0 {
		return Zero(), nil
	}

	// Range reduction: halve until the mantissa lands in [1, 2).
	two := new(big.Int).Lsh(scale, 1)
	m := new(big.Int).Set(x)
	n := int64(0)
	for m.Cmp(two) >= 0 {
		m.Rsh(m, 1)
		n++
	}

	// ln(m) = 2*atanh(z) with z = (m-1)/(m+1); z < 1/3 on [1, 2) so the odd
	// power series converges to 18 decimals in under 20 terms.
	num := new(big.Int).Sub(m, scale)
	den := new(big.Int).Add(m, scale)
	z := new(big.Int).Mul(num, scale)
	z.Quo(z, den)

	zsq := new(big.Int).Mul(z, z)
	zsq.Quo(zsq, scale)

	sum := new(big.Int).Set(z)
	term := new(big.Int).Set(z)
	for k := int64(3); k < 128; k += 2 {
		term.Mul(term, zsq)
		term.Quo(term, scale)
		if term.Sign() == 0 {
			break
		}
		contrib := new(big.Int).Quo(term, big.NewInt(k))
		if contrib.Sign() == 0 {
			break
		}
		sum.Add(sum, contrib)
	}
	sum.Lsh(sum, 1)

	sum.Add(sum, new(big.Int).Mul(big.NewInt(n), ln2))
	return FromBig(sum)
}

// Pow evaluates d^o through exp(o*ln(d)). Bases below one use the reciprocal
// continuation 1/((1/d)^o); a zero base collapses to zero for any positive
// exponent and one when the exponent is zero.
func (d Dec) Pow(o Dec) (Dec, error) {
	if o.IsZero() {
		return One(), nil
	}
	if d.IsZero() {
		return Zero(), nil
	}
	if d.Equal(One()) {
		return One(), nil
	}
	if d.Lt(One()) {
		inv, err := d.Inv()
		if err != nil {
			return Dec{}, err
		}
		p, err := inv.Pow(o)
		if err != nil {
			return Dec{}, err
		}
		if p.IsZero() {
			return Dec{}, ErrDivByZero
		}
		return p.Inv()
	}
	lnBase, err := d.Ln()
	if err != nil {
		return Dec{}, err
	}
	exponent, err := o.Mul(lnBase)
	if err != nil {
		return Dec{}, err
	}
	return exponent.Exp()
}
