// Package fixedpoint holds the integer math shared by pools, treasury and
// staking. Results are floor-rounded unless the name says otherwise.
package fixedpoint

import (
	"math"

	"github.com/holiman/uint256"

	"pudl/internal/errs"
)

const (
	// BpsDenominator is 100% in basis points.
	BpsDenominator = 10_000
	// Q64 is the number of fractional bits in Q64.64 values.
	Q64 = 64
	// maxQ128Bits bounds Q64.64 accumulators and prices.
	maxQ128Bits = 128
)

var maxUint64 = uint256.NewInt(math.MaxUint64)

// ValidBps reports whether bps is within [0, 10000].
func ValidBps(bps uint16) bool {
	return bps <= BpsDenominator
}

// BpsOf returns floor(amount * bps / 10000). bps above 10000 is rejected.
func BpsOf(amount uint64, bps uint16) (uint64, error) {
	if !ValidBps(bps) {
		return 0, errs.Wrapf(errs.ErrInvalidBps, "bps %d", bps)
	}
	return MulDiv(amount, uint64(bps), BpsDenominator)
}

// MulDiv returns floor(a * b / d) computed on a 256-bit intermediate.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errs.Wrapf(errs.ErrOverflow, "division by zero")
	}
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	z.Div(z, uint256.NewInt(d))
	return ToUint64(z)
}

// MulDivCeil returns ceil(a * b / d).
func MulDivCeil(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errs.Wrapf(errs.ErrOverflow, "division by zero")
	}
	return ToUint64(DivCeil(new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b)), uint256.NewInt(d)))
}

// DivCeil returns ceil(n / d) as a new value. d must be non-zero.
func DivCeil(n, d *uint256.Int) *uint256.Int {
	q := new(uint256.Int).Div(n, d)
	if new(uint256.Int).Mul(q, d).Cmp(n) != 0 {
		q.Add(q, uint256.NewInt(1))
	}
	return q
}

// ToUint64 narrows a wide value back to the amount domain.
func ToUint64(z *uint256.Int) (uint64, error) {
	if !z.IsUint64() {
		return 0, errs.Wrapf(errs.ErrOverflow, "value exceeds 64 bits")
	}
	return z.Uint64(), nil
}

// AddU64 is a checked uint64 addition.
func AddU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, errs.Wrapf(errs.ErrOverflow, "%d + %d", a, b)
	}
	return a + b, nil
}

// SubU64 is a checked uint64 subtraction.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, errs.Wrapf(errs.ErrUnderflow, "%d - %d", a, b)
	}
	return a - b, nil
}

// AddQ128 returns a + b, failing when the sum no longer fits in 128 bits.
func AddQ128(a, b *uint256.Int) (*uint256.Int, error) {
	sum := new(uint256.Int).Add(a, b)
	if sum.BitLen() > maxQ128Bits || sum.Cmp(a) < 0 {
		return nil, errs.Wrapf(errs.ErrOverflow, "q64.64 accumulator overflow")
	}
	return sum, nil
}

// PerShareX64 returns floor((amount << 64) / total).
func PerShareX64(amount, total uint64) *uint256.Int {
	if total == 0 {
		return new(uint256.Int)
	}
	z := new(uint256.Int).Lsh(uint256.NewInt(amount), Q64)
	return z.Div(z, uint256.NewInt(total))
}

// ScaleX64 returns amount * indexX64 without shifting: the raw debt snapshot.
func ScaleX64(amount uint64, indexX64 *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(amount), indexX64)
}

// PendingX64 returns (amount * indexX64 - debtX64) >> 64. A debt above the
// current product reports ErrUnderflow.
func PendingX64(amount uint64, indexX64, debtX64 *uint256.Int) (uint64, error) {
	acc := ScaleX64(amount, indexX64)
	if acc.Cmp(debtX64) < 0 {
		return 0, errs.Wrapf(errs.ErrUnderflow, "reward debt exceeds accrued value")
	}
	acc.Sub(acc, debtX64)
	acc.Rsh(acc, Q64)
	return ToUint64(acc)
}

// MinU64 mirrors math.Min for the amount domain.
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
