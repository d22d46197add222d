package aggregate

import (
	"fmt"
	"math/big"

	"pudl/internal/model"
)

// PoolMeta is what the aggregator learns about a pool from pool_initialized.
type PoolMeta struct {
	BaseMint   string
	QuoteMint  string
	BaseFeeBps uint16
	BinStep    uint16
}

// Accumulator holds aggregate values for a pool window.
type Accumulator struct {
	Pool             string
	Meta             PoolMeta
	WindowStart      uint64
	WindowEnd        uint64
	SwapCount        uint64
	VolumeBase       *big.Int
	VolumeQuote      *big.Int
	FeeBase          *big.Int
	FeeQuote         *big.Int
	ProtocolFeeBase  *big.Int
	ProtocolFeeQuote *big.Int
	LastActiveBinID  int32
	LastTS           uint64
}

func NewAccumulator(pool string, meta PoolMeta, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		Pool:             pool,
		Meta:             meta,
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		VolumeBase:       big.NewInt(0),
		VolumeQuote:      big.NewInt(0),
		FeeBase:          big.NewInt(0),
		FeeQuote:         big.NewInt(0),
		ProtocolFeeBase:  big.NewInt(0),
		ProtocolFeeQuote: big.NewInt(0),
	}
}

// AddEvent folds a swap into the window. Other events are ignored.
func (a *Accumulator) AddEvent(record model.EventRecord) error {
	if record.Name != model.EventSwapExecuted {
		return nil
	}
	var swap model.SwapExecuted
	if err := record.Decode(&swap); err != nil {
		return err
	}
	if err := a.applySwap(swap); err != nil {
		return err
	}
	if ts := uint64(record.Timestamp); ts >= a.LastTS {
		a.LastTS = ts
		a.LastActiveBinID = swap.ActiveBinID
	}
	return nil
}

func (a *Accumulator) applySwap(swap model.SwapExecuted) error {
	in := new(big.Int).SetUint64(swap.AmountIn)
	out := new(big.Int).SetUint64(swap.AmountOut)
	fee := new(big.Int).SetUint64(swap.FeeAmount)
	protocol := new(big.Int).SetUint64(swap.ProtocolFee)

	switch swap.InputMint {
	case a.Meta.BaseMint:
		a.VolumeBase.Add(a.VolumeBase, in)
		a.VolumeQuote.Add(a.VolumeQuote, out)
		a.FeeBase.Add(a.FeeBase, fee)
		a.ProtocolFeeBase.Add(a.ProtocolFeeBase, protocol)
	case a.Meta.QuoteMint:
		a.VolumeQuote.Add(a.VolumeQuote, in)
		a.VolumeBase.Add(a.VolumeBase, out)
		a.FeeQuote.Add(a.FeeQuote, fee)
		a.ProtocolFeeQuote.Add(a.ProtocolFeeQuote, protocol)
	default:
		return fmt.Errorf("swap input mint %s not in pool %s", swap.InputMint, a.Pool)
	}
	a.SwapCount++
	return nil
}
