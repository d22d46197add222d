package dex

import (
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"

	"pudl/internal/errs"
	"pudl/internal/fixedpoint"
)

// Direction selects which reserve a swap consumes.
type Direction uint8

const (
	// BaseToQuote sells base for quote and moves the active bin down.
	BaseToQuote Direction = iota
	// QuoteToBase sells quote for base and moves the active bin up.
	QuoteToBase
)

func (d Direction) String() string {
	if d == QuoteToBase {
		return "quote_to_base"
	}
	return "base_to_quote"
}

// ParseDirection accepts the String forms plus the short "sell_base"/"sell_quote".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base_to_quote", "sell_base", "a_to_b":
		return BaseToQuote, nil
	case "quote_to_base", "sell_quote", "b_to_a":
		return QuoteToBase, nil
	default:
		return 0, fmt.Errorf("unknown swap direction %q", s)
	}
}

// Fees splits amountIn into the total fee and the protocol's cut of that fee.
// fee = floor(amountIn * baseFeeBps / 10000); protocol = floor(fee * protocolFeeBps / 10000).
func Fees(amountIn uint64, baseFeeBps, protocolFeeBps uint16) (fee, protocol uint64, err error) {
	fee, err = fixedpoint.BpsOf(amountIn, baseFeeBps)
	if err != nil {
		return 0, 0, err
	}
	protocol, err = fixedpoint.BpsOf(fee, protocolFeeBps)
	if err != nil {
		return 0, 0, err
	}
	return fee, protocol, nil
}

type binFill struct {
	id  int32
	in  uint64
	out uint64
}

// Quote is the full breakdown of a swap against the current bins.
type Quote struct {
	Direction      Direction
	AmountIn       uint64
	FeeAmount      uint64
	ProtocolFee    uint64
	LPFee          uint64
	AmountAfterFee uint64
	AmountOut      uint64
	StartBinID     int32
	EndBinID       int32
	BinsCrossed    int

	feeBin int32
	fills  []binFill
}

// quote walks bins from start and fills amountAfterFee against their
// reserves. A partially consumed bin pays floor(in * price); a drained bin
// charges ceil(reserve / price) so the pool never pays more than it takes.
func (l *BinLedger) quote(amountIn uint64, dir Direction, start int32, baseFeeBps, protocolFeeBps uint16) (Quote, error) {
	q := Quote{Direction: dir, AmountIn: amountIn, StartBinID: start, EndBinID: start}
	fee, protocol, err := Fees(amountIn, baseFeeBps, protocolFeeBps)
	if err != nil {
		return q, err
	}
	q.FeeAmount = fee
	q.ProtocolFee = protocol
	q.LPFee = fee - protocol
	q.AmountAfterFee = amountIn - fee

	remaining := q.AmountAfterFee
	found := false
	var walkErr error
	l.walk(start, dir, func(b *Bin) bool {
		reserve := b.reserve(dir)
		if reserve == 0 {
			return true
		}
		if !found {
			found = true
			q.feeBin = b.ID
		}
		if remaining == 0 {
			return false
		}
		price, err := l.Price(b.ID)
		if err != nil {
			walkErr = err
			return false
		}

		var full uint64
		if dir == BaseToQuote {
			full = clampU64(fixedpoint.QuoteForBase(remaining, price))
		} else {
			full = clampU64(fixedpoint.BaseForQuote(remaining, price))
		}
		if full < reserve {
			q.fills = append(q.fills, binFill{id: b.ID, in: remaining, out: full})
			q.AmountOut += full
			q.EndBinID = b.ID
			remaining = 0
			return false
		}

		need, err := drainCost(reserve, price, dir)
		if err != nil {
			walkErr = err
			return false
		}
		if need > remaining {
			walkErr = errs.Wrapf(errs.ErrOverflow, "drain cost %d exceeds input %d at bin %d", need, remaining, b.ID)
			return false
		}
		q.fills = append(q.fills, binFill{id: b.ID, in: need, out: reserve})
		q.AmountOut += reserve
		q.EndBinID = b.ID
		remaining -= need
		return remaining > 0
	})
	if walkErr != nil {
		return q, walkErr
	}
	if !found || remaining > 0 {
		return q, errs.Wrapf(errs.ErrInsufficientLiquidity, "%d of %d unfilled moving %s from bin %d", remaining, q.AmountAfterFee, dir, start)
	}
	if n := len(q.fills); n > 1 {
		q.BinsCrossed = n - 1
	}
	return q, nil
}

// drainCost is the input needed to take the whole reserve out of a bin.
func drainCost(reserve uint64, price *uint256.Int, dir Direction) (uint64, error) {
	if dir == BaseToQuote {
		return fixedpoint.ToUint64(fixedpoint.BaseForQuoteCeil(reserve, price))
	}
	return fixedpoint.ToUint64(fixedpoint.QuoteForBaseCeil(reserve, price))
}

func clampU64(z *uint256.Int) uint64 {
	if !z.IsUint64() {
		return math.MaxUint64
	}
	return z.Uint64()
}
