// Package convert provides SwapConverter implementations used by the
// treasury to turn harvested fees into the protocol token.
package convert

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/dex"
	"pudl/internal/errs"
	"pudl/internal/fixedpoint"
	"pudl/internal/ledger"
	"pudl/internal/treasury"
)

// FixedRate trades with a desk account at Num/Den protocol tokens per fee
// token. The desk must hold enough of ToMint to pay out.
type FixedRate struct {
	Ledger ledger.Ledger
	Desk   common.Address
	Num    uint64
	Den    uint64
}

func (c *FixedRate) Convert(ctx context.Context, req treasury.ConvertRequest) (uint64, error) {
	if req.AmountIn == 0 {
		return 0, errs.Wrapf(errs.ErrZeroAmount, "convert amount")
	}
	if c.Ledger == nil {
		return 0, fmt.Errorf("fixed rate converter has no ledger")
	}
	out, err := fixedpoint.MulDiv(req.AmountIn, c.Num, c.Den)
	if err != nil {
		return 0, err
	}
	if out == 0 {
		return 0, errs.Wrapf(errs.ErrZeroAmount, "%d converts to nothing at %d/%d", req.AmountIn, c.Num, c.Den)
	}

	j := ledger.NewJournal(c.Ledger)
	legs := []ledger.Transfer{
		{Mint: req.FromMint, From: req.Owner, To: c.Desk, Authority: req.Owner, Amount: req.AmountIn},
		{Mint: req.ToMint, From: c.Desk, To: req.Owner, Authority: c.Desk, Amount: out},
	}
	for _, leg := range legs {
		if err := j.Do(ctx, leg); err != nil {
			if rbErr := j.Rollback(ctx); rbErr != nil {
				return 0, fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return 0, err
		}
	}
	return out, nil
}

// Swapper is the part of a pool a PoolRoute trades against.
type Swapper interface {
	Params() dex.Params
	QuoteSwap(amountIn uint64, dir dex.Direction) (dex.Quote, error)
	SwapExactIn(ctx context.Context, trader common.Address, amountIn, minOut uint64, dir dex.Direction) (dex.SwapResult, error)
}

// PoolRoute sells fee tokens into a DLMM pool that pairs them with the
// protocol token. The swap is bounded by SlippageBps below the quoted output.
type PoolRoute struct {
	Pool        Swapper
	SlippageBps uint16
}

func (c *PoolRoute) Convert(ctx context.Context, req treasury.ConvertRequest) (uint64, error) {
	if c.Pool == nil {
		return 0, fmt.Errorf("pool route has no pool")
	}
	dir, err := direction(c.Pool.Params(), req.FromMint, req.ToMint)
	if err != nil {
		return 0, err
	}
	q, err := c.Pool.QuoteSwap(req.AmountIn, dir)
	if err != nil {
		return 0, fmt.Errorf("quote: %w", err)
	}
	slack, err := fixedpoint.BpsOf(q.AmountOut, c.SlippageBps)
	if err != nil {
		return 0, err
	}
	res, err := c.Pool.SwapExactIn(ctx, req.Owner, req.AmountIn, q.AmountOut-slack, dir)
	if err != nil {
		return 0, err
	}
	return res.AmountOut, nil
}

func direction(p dex.Params, from, to common.Address) (dex.Direction, error) {
	switch {
	case from == p.BaseMint && to == p.QuoteMint:
		return dex.BaseToQuote, nil
	case from == p.QuoteMint && to == p.BaseMint:
		return dex.QuoteToBase, nil
	default:
		return 0, errs.Wrapf(errs.ErrInvalidMint, "pool does not pair %s with %s", from.Hex(), to.Hex())
	}
}

// ByMint picks a converter by the mint being sold.
type ByMint map[common.Address]treasury.SwapConverter

func (m ByMint) Convert(ctx context.Context, req treasury.ConvertRequest) (uint64, error) {
	c, ok := m[req.FromMint]
	if !ok || c == nil {
		return 0, errs.Wrapf(errs.ErrNotFound, "no converter for %s", req.FromMint.Hex())
	}
	return c.Convert(ctx, req)
}
