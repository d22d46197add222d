package aggregate

import (
	"fmt"
	"math/big"

	"pudl/internal/model"
)

// VaultTracker rebuilds pool vault balances from the event log. Every
// transfer into or out of a pool vault is visible as an event, so the
// running totals equal the vault balances at the last applied event.
type VaultTracker struct {
	balances map[string]*vaultBalance
}

type vaultBalance struct {
	base  *big.Int
	quote *big.Int
}

func NewVaultTracker() *VaultTracker {
	return &VaultTracker{balances: make(map[string]*vaultBalance)}
}

func (v *VaultTracker) get(pool string) *vaultBalance {
	b := v.balances[pool]
	if b == nil {
		b = &vaultBalance{base: big.NewInt(0), quote: big.NewInt(0)}
		v.balances[pool] = b
	}
	return b
}

// Apply updates the vault of pool for one event.
func (v *VaultTracker) Apply(pool string, meta PoolMeta, record model.EventRecord) error {
	switch record.Name {
	case model.EventLiquidityAdded:
		var e model.LiquidityAdded
		if err := record.Decode(&e); err != nil {
			return err
		}
		v.move(pool, int64(1), e.BaseAmount, e.QuoteAmount)
	case model.EventLiquidityRemoved:
		var e model.LiquidityRemoved
		if err := record.Decode(&e); err != nil {
			return err
		}
		v.move(pool, int64(-1), e.BaseAmount, e.QuoteAmount)
	case model.EventFeesClaimed:
		var e model.FeesClaimed
		if err := record.Decode(&e); err != nil {
			return err
		}
		v.move(pool, int64(-1), e.BaseAmount, e.QuoteAmount)
	case model.EventProtocolFeesCollected:
		var e model.ProtocolFeesCollected
		if err := record.Decode(&e); err != nil {
			return err
		}
		v.move(pool, int64(-1), e.BaseAmount, e.QuoteAmount)
	case model.EventSwapExecuted:
		var e model.SwapExecuted
		if err := record.Decode(&e); err != nil {
			return err
		}
		switch e.InputMint {
		case meta.BaseMint:
			v.move(pool, 1, e.AmountIn, 0)
			v.move(pool, -1, 0, e.AmountOut)
		case meta.QuoteMint:
			v.move(pool, 1, 0, e.AmountIn)
			v.move(pool, -1, e.AmountOut, 0)
		default:
			return fmt.Errorf("swap input mint %s not in pool %s", e.InputMint, pool)
		}
	}
	return nil
}

func (v *VaultTracker) move(pool string, sign int64, base, quote uint64) {
	b := v.get(pool)
	delta := new(big.Int)
	b.base.Add(b.base, delta.Mul(new(big.Int).SetUint64(base), big.NewInt(sign)))
	b.quote.Add(b.quote, new(big.Int).Mul(new(big.Int).SetUint64(quote), big.NewInt(sign)))
}

// Balances returns copies of the tracked vault balances of pool.
func (v *VaultTracker) Balances(pool string) (*big.Int, *big.Int, bool) {
	b, ok := v.balances[pool]
	if !ok {
		return nil, nil, false
	}
	return new(big.Int).Set(b.base), new(big.Int).Set(b.quote), true
}
