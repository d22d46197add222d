package aggregate

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const ratioScale = 18

var secondsPerYear = big.NewRat(int64(365*24*time.Hour/time.Second), 1)

// decimalTable maps mints to display decimals. Unknown mints stay raw.
type decimalTable map[common.Address]uint8

func (d decimalTable) of(mint string) uint8 {
	if len(d) == 0 || !common.IsHexAddress(mint) {
		return 0
	}
	return d[common.HexToAddress(mint)]
}

// formatTokenAmount renders value in whole tokens with exactly decimals
// fractional digits.
func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(new(big.Int).Abs(value), unit, new(big.Int))

	var b strings.Builder
	if value.Sign() < 0 {
		b.WriteByte('-')
	}
	b.WriteString(whole.String())
	b.WriteByte('.')
	digits := frac.String()
	b.WriteString(strings.Repeat("0", int(decimals)-len(digits)))
	b.WriteString(digits)
	return b.String()
}

// feeRate is fee/tvl as a decimal string, or nil when either side is empty.
func feeRate(fee, tvl *big.Int) *string {
	if fee == nil || fee.Sign() == 0 || tvl == nil || tvl.Sign() == 0 {
		return nil
	}
	s := new(big.Rat).SetFrac(fee, tvl).FloatString(ratioScale)
	return &s
}

func computeFeeRates(feeBase, feeQuote, tvlBase, tvlQuote *big.Int) (*string, *string) {
	return feeRate(feeBase, tvlBase), feeRate(feeQuote, tvlQuote)
}

// computeAPR annualizes the window fee rate. With both sides present the
// two rates are averaged, which is exact when the vault sides hold equal value.
func computeAPR(rateBase, rateQuote *string, windowSeconds uint64) *string {
	if windowSeconds == 0 {
		return nil
	}
	var (
		sum = new(big.Rat)
		n   int64
	)
	for _, r := range []*string{rateBase, rateQuote} {
		if r == nil {
			continue
		}
		v, ok := new(big.Rat).SetString(*r)
		if !ok {
			return nil
		}
		sum.Add(sum, v)
		n++
	}
	if n == 0 {
		return nil
	}
	apr := sum.Quo(sum, big.NewRat(n, 1))
	apr.Mul(apr, secondsPerYear)
	apr.Quo(apr, new(big.Rat).SetInt64(int64(windowSeconds)))
	s := apr.FloatString(ratioScale)
	return &s
}
