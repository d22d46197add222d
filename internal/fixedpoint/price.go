package fixedpoint

import (
	"github.com/holiman/uint256"

	"pudl/internal/errs"
)

// MaxBinID bounds |bin_id| accepted by PriceX64.
const MaxBinID = 443_636

// MaxBinStep is the widest allowed bin step (a 2x price ratio per bin).
const MaxBinStep = 10_000

var one = uint256.NewInt(1)

// PriceX64 returns (1 + binStep/10000)^binID as Q64.64, in quote units per
// base unit. Negative ids are computed as 2^128 / price(|binID|).
func PriceX64(binStep uint16, binID int32) (*uint256.Int, error) {
	if binStep == 0 || binStep > MaxBinStep {
		return nil, errs.Wrapf(errs.ErrInvalidBinStep, "bin step %d", binStep)
	}
	n := int64(binID)
	neg := n < 0
	if neg {
		n = -n
	}
	if n > MaxBinID {
		return nil, errs.Wrapf(errs.ErrInvalidBinRange, "bin id %d", binID)
	}

	base := new(uint256.Int).Lsh(uint256.NewInt(BpsDenominator+uint64(binStep)), Q64)
	base.Div(base, uint256.NewInt(BpsDenominator))
	result := new(uint256.Int).Lsh(one, Q64)

	for e := uint64(n); e > 0; e >>= 1 {
		if e&1 == 1 {
			result.Mul(result, base).Rsh(result, Q64)
			if result.BitLen() > maxQ128Bits {
				return nil, errs.Wrapf(errs.ErrOverflow, "price for bin %d", binID)
			}
		}
		if e > 1 {
			base.Mul(base, base).Rsh(base, Q64)
			if base.BitLen() > maxQ128Bits {
				return nil, errs.Wrapf(errs.ErrOverflow, "price for bin %d", binID)
			}
		}
	}

	if neg {
		inv := new(uint256.Int).Lsh(one, 2*Q64)
		inv.Div(inv, result)
		if inv.IsZero() {
			return nil, errs.Wrapf(errs.ErrOverflow, "price for bin %d underflows", binID)
		}
		return inv, nil
	}
	return result, nil
}

// QuoteForBase returns floor(base * price >> 64).
func QuoteForBase(base uint64, priceX64 *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Mul(uint256.NewInt(base), priceX64)
	return z.Rsh(z, Q64)
}

// QuoteForBaseCeil returns ceil(base * price / 2^64).
func QuoteForBaseCeil(base uint64, priceX64 *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Mul(uint256.NewInt(base), priceX64)
	return DivCeil(z, new(uint256.Int).Lsh(one, Q64))
}

// BaseForQuote returns floor((quote << 64) / price).
func BaseForQuote(quote uint64, priceX64 *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Lsh(uint256.NewInt(quote), Q64)
	return z.Div(z, priceX64)
}

// BaseForQuoteCeil returns ceil((quote << 64) / price).
func BaseForQuoteCeil(quote uint64, priceX64 *uint256.Int) *uint256.Int {
	return DivCeil(new(uint256.Int).Lsh(uint256.NewInt(quote), Q64), priceX64)
}

// LiquidityValueX64 is base * price + (quote << 64): the quote-denominated
// value kept at Q64.64 so base deposits at sub-unit prices still count.
func LiquidityValueX64(base, quote uint64, priceX64 *uint256.Int) *uint256.Int {
	v := new(uint256.Int).Mul(uint256.NewInt(base), priceX64)
	return v.Add(v, new(uint256.Int).Lsh(uint256.NewInt(quote), Q64))
}

// InitialShares sizes the first deposit into an empty bin. The value is
// counted, rounded up, in whichever asset unit gives more shares while still
// fitting in 64 bits, so a later deposit of one unit of either asset mints at
// least one share.
func InitialShares(base, quote uint64, priceX64 *uint256.Int) (uint64, error) {
	if priceX64.IsZero() {
		return 0, errs.Wrapf(errs.ErrOverflow, "division by zero price")
	}
	v := LiquidityValueX64(base, quote, priceX64)
	hi := DivCeil(v, new(uint256.Int).Lsh(one, Q64))
	lo := DivCeil(v, priceX64)
	if lo.Gt(hi) {
		hi, lo = lo, hi
	}
	if hi.IsUint64() {
		return hi.Uint64(), nil
	}
	if lo.IsUint64() && !lo.IsZero() {
		return lo.Uint64(), nil
	}
	return 0, errs.Wrapf(errs.ErrOverflow, "deposit value does not fit in shares")
}

// ProRataShares is floor(value * totalShares / binValue), with a 512-bit
// intermediate product.
func ProRataShares(value, binValue *uint256.Int, totalShares uint64) (uint64, error) {
	if binValue.IsZero() {
		return 0, errs.Wrapf(errs.ErrOverflow, "division by zero bin value")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(value, uint256.NewInt(totalShares), binValue)
	if overflow {
		return 0, errs.Wrapf(errs.ErrOverflow, "share product overflow")
	}
	return ToUint64(z)
}
