package dex

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pudl/internal/fixedpoint"
	"pudl/internal/model"
)

// Position is one owner's claim on a pool. It supplies a single bin, so
// LowerBinID always equals UpperBinID.
type Position struct {
	Key        common.Hash
	Owner      common.Address
	LowerBinID int32
	UpperBinID int32
	Shares     uint64

	// BaseAmount and QuoteAmount are the pro-rata value of Shares,
	// refreshed after every mutation of the position.
	BaseAmount    uint64
	QuoteAmount   uint64
	FeeDebtBase   *uint256.Int
	FeeDebtQuote  *uint256.Int
	FeesOwedBase  uint64
	FeesOwedQuote uint64
}

func newPosition(key common.Hash, owner common.Address, binID int32) *Position {
	return &Position{
		Key:          key,
		Owner:        owner,
		LowerBinID:   binID,
		UpperBinID:   binID,
		FeeDebtBase:  new(uint256.Int),
		FeeDebtQuote: new(uint256.Int),
	}
}

func (p *Position) clone() *Position {
	c := *p
	c.FeeDebtBase = p.FeeDebtBase.Clone()
	c.FeeDebtQuote = p.FeeDebtQuote.Clone()
	return &c
}

// BinID is the bin the position supplies.
func (p *Position) BinID() int32 {
	return p.LowerBinID
}

// pendingFees reports fees accrued in b since the last settlement.
func (p *Position) pendingFees(b *Bin) (base, quote uint64, err error) {
	base, err = fixedpoint.PendingX64(p.Shares, b.FeePerShareBaseX64, p.FeeDebtBase)
	if err != nil {
		return 0, 0, err
	}
	quote, err = fixedpoint.PendingX64(p.Shares, b.FeePerShareQuoteX64, p.FeeDebtQuote)
	if err != nil {
		return 0, 0, err
	}
	return base, quote, nil
}

// settle moves pending fees from the bin escrow into the position's owed
// balance. Must run before Shares changes.
func (p *Position) settle(b *Bin) error {
	base, quote, err := p.pendingFees(b)
	if err != nil {
		return err
	}
	if b.FeeBase, err = fixedpoint.SubU64(b.FeeBase, base); err != nil {
		return err
	}
	if b.FeeQuote, err = fixedpoint.SubU64(b.FeeQuote, quote); err != nil {
		return err
	}
	if p.FeesOwedBase, err = fixedpoint.AddU64(p.FeesOwedBase, base); err != nil {
		return err
	}
	if p.FeesOwedQuote, err = fixedpoint.AddU64(p.FeesOwedQuote, quote); err != nil {
		return err
	}
	p.resetDebt(b)
	return nil
}

func (p *Position) resetDebt(b *Bin) {
	p.FeeDebtBase = fixedpoint.ScaleX64(p.Shares, b.FeePerShareBaseX64)
	p.FeeDebtQuote = fixedpoint.ScaleX64(p.Shares, b.FeePerShareQuoteX64)
}

// refresh recomputes the pro-rata amounts against the bin reserves.
func (p *Position) refresh(b *Bin) {
	if p.Shares == 0 || b.TotalShares == 0 {
		p.BaseAmount, p.QuoteAmount = 0, 0
		return
	}
	// Shares never exceed TotalShares, so neither result can overflow.
	p.BaseAmount, _ = fixedpoint.MulDiv(b.Base, p.Shares, b.TotalShares)
	p.QuoteAmount, _ = fixedpoint.MulDiv(b.Quote, p.Shares, b.TotalShares)
}

func (p *Position) snapshot(pool common.Hash) model.PositionSnapshot {
	return model.PositionSnapshot{
		Key:           p.Key.Hex(),
		Pool:          pool.Hex(),
		Owner:         p.Owner.Hex(),
		LowerBinID:    p.LowerBinID,
		UpperBinID:    p.UpperBinID,
		Shares:        p.Shares,
		BaseAmount:    p.BaseAmount,
		QuoteAmount:   p.QuoteAmount,
		FeeDebtBase:   p.FeeDebtBase.ToBig().String(),
		FeeDebtQuote:  p.FeeDebtQuote.ToBig().String(),
		FeesOwedBase:  p.FeesOwedBase,
		FeesOwedQuote: p.FeesOwedQuote,
	}
}
