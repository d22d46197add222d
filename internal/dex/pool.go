package dex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"pudl/internal/errs"
	"pudl/internal/events"
	"pudl/internal/fixedpoint"
	"pudl/internal/gate"
	"pudl/internal/keys"
	"pudl/internal/ledger"
	"pudl/internal/model"
)

// FlagActive is bit 0 of Pool flags. Clearing it is irreversible.
const FlagActive uint8 = 1 << 0

// Params are the creation parameters of a pool.
type Params struct {
	BaseMint       common.Address
	QuoteMint      common.Address
	Creator        common.Address
	Authority      common.Address
	BaseFeeBps     uint16
	ProtocolFeeBps uint16
	BinStep        uint16
	ActiveBinID    int32
}

// Key derives the pool key from base mint, quote mint and bin step.
func (p Params) Key() common.Hash {
	return keys.Pool(p.BaseMint, p.QuoteMint, p.BinStep)
}

// Validate checks fee bounds, mint distinctness and that the starting bin
// has a representable price.
func (p Params) Validate() error {
	if p.BaseMint == p.QuoteMint {
		return errs.Wrapf(errs.ErrInvalidMint, "base and quote mint are both %s", p.BaseMint.Hex())
	}
	if !fixedpoint.ValidBps(p.BaseFeeBps) {
		return errs.Wrapf(errs.ErrInvalidFee, "base fee bps %d", p.BaseFeeBps)
	}
	if !fixedpoint.ValidBps(p.ProtocolFeeBps) {
		return errs.Wrapf(errs.ErrInvalidFee, "protocol fee bps %d", p.ProtocolFeeBps)
	}
	if _, err := fixedpoint.PriceX64(p.BinStep, p.ActiveBinID); err != nil {
		return err
	}
	return nil
}

// BondRefunder returns a creator's bond when a pool is closed.
type BondRefunder interface {
	RefundBond(ctx context.Context, pool common.Hash, creator common.Address) (uint64, error)
}

// Options are the collaborators of a Pool. Ledger is required.
type Options struct {
	Ledger   ledger.Ledger
	Emitter  *events.Emitter
	Gate     gate.Gate
	Refunder BondRefunder
	Logger   *zap.Logger
}

// Pool is the controller for one DLMM pool. Every operation holds the pool
// lock for its whole duration, including ledger transfers.
type Pool struct {
	mu sync.Mutex

	key    common.Hash
	vault  common.Address
	params Params

	flags            uint8
	paused           bool
	closed           bool
	activeBinID      int32
	totalVolume      uint64
	totalFees        uint64
	protocolFeeBase  uint64
	protocolFeeQuote uint64

	bins      *BinLedger
	positions map[common.Hash]*Position

	ledger   ledger.Ledger
	emitter  *events.Emitter
	gate     gate.Gate
	refunder BondRefunder
	logger   *zap.Logger
}

func NewPool(params Params, opts Options) (*Pool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if opts.Gate == nil {
		opts.Gate = gate.AllowAll{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	key := params.Key()
	return &Pool{
		key:         key,
		vault:       keys.Signer(key),
		params:      params,
		flags:       FlagActive,
		activeBinID: params.ActiveBinID,
		bins:        NewBinLedger(params.BinStep),
		positions:   make(map[common.Hash]*Position),
		ledger:      opts.Ledger,
		emitter:     opts.Emitter,
		gate:        opts.Gate,
		refunder:    opts.Refunder,
		logger:      opts.Logger.With(zap.String("pool", key.Hex())),
	}, nil
}

func (p *Pool) Key() common.Hash { return p.key }

// Vault is the pool-owned account holding reserves. It signs every outgoing transfer.
func (p *Pool) Vault() common.Address { return p.vault }

func (p *Pool) Params() Params { return p.params }

func (p *Pool) checkTrading() error {
	switch {
	case p.closed:
		return errs.ErrPoolClosed
	case p.flags&FlagActive == 0:
		return errs.ErrPoolInactive
	case p.paused:
		return errs.ErrPoolPaused
	}
	return nil
}

func (p *Pool) authorize(ctx context.Context, caller common.Address, action gate.Action) error {
	if caller != p.params.Authority {
		return errs.Wrapf(errs.ErrUnauthorized, "%s is not the pool authority", caller.Hex())
	}
	if err := p.gate.Check(ctx, action, p.key.Hex()); err != nil {
		return fmt.Errorf("governance %s: %w", action, err)
	}
	return nil
}

// transfer issues every leg or none of them.
func (p *Pool) transfer(ctx context.Context, legs ...ledger.Transfer) error {
	j := ledger.NewJournal(p.ledger)
	for _, leg := range legs {
		if err := j.Do(ctx, leg); err != nil {
			if rbErr := j.Rollback(ctx); rbErr != nil {
				p.logger.Error("rollback failed", zap.Error(rbErr))
				return fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return err
		}
	}
	return nil
}

func (p *Pool) in(mint, from common.Address, amount uint64) ledger.Transfer {
	return ledger.Transfer{Mint: mint, From: from, To: p.vault, Authority: from, Amount: amount}
}

func (p *Pool) out(mint, to common.Address, amount uint64) ledger.Transfer {
	return ledger.Transfer{Mint: mint, From: p.vault, To: to, Authority: p.vault, Amount: amount}
}

// QuoteSwap prices a swap against current bins without moving funds.
func (p *Pool) QuoteSwap(amountIn uint64, dir Direction) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amountIn == 0 {
		return Quote{}, errs.Wrapf(errs.ErrZeroAmount, "amount in")
	}
	return p.bins.quote(amountIn, dir, p.activeBinID, p.params.BaseFeeBps, p.params.ProtocolFeeBps)
}

// SwapResult is a committed swap.
type SwapResult struct {
	Quote
	InputMint  common.Address
	OutputMint common.Address
}

// SwapExactIn sells amountIn and fails with ErrSlippageExceeded when the
// computed output is below minOut. The slippage check runs before any funds move.
func (p *Pool) SwapExactIn(ctx context.Context, trader common.Address, amountIn, minOut uint64, dir Direction) (SwapResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.swap(ctx, trader, amountIn, minOut, dir)
	if err != nil {
		p.logger.Debug("swap rejected",
			zap.Stringer("trader", trader),
			zap.Uint64("amount_in", amountIn),
			zap.Uint64("min_out", minOut),
			zap.Stringer("direction", dir),
			zap.Error(err),
		)
		return SwapResult{}, err
	}

	p.logger.Debug("swap executed",
		zap.Stringer("trader", trader),
		zap.Uint64("amount_in", res.AmountIn),
		zap.Uint64("amount_out", res.AmountOut),
		zap.Uint64("fee", res.FeeAmount),
		zap.Int32("active_bin", res.EndBinID),
	)
	p.emitter.Emit(ctx, model.EventSwapExecuted, p.key.Hex(), model.SwapExecuted{
		Pool:        p.key.Hex(),
		Trader:      trader.Hex(),
		InputMint:   res.InputMint.Hex(),
		OutputMint:  res.OutputMint.Hex(),
		AmountIn:    res.AmountIn,
		AmountOut:   res.AmountOut,
		FeeAmount:   res.FeeAmount,
		ProtocolFee: res.ProtocolFee,
		FeeBps:      p.params.BaseFeeBps,
		StartBinID:  res.StartBinID,
		ActiveBinID: res.EndBinID,
		BinsCrossed: res.BinsCrossed,
	})
	return res, nil
}

func (p *Pool) swap(ctx context.Context, trader common.Address, amountIn, minOut uint64, dir Direction) (SwapResult, error) {
	if amountIn == 0 {
		return SwapResult{}, errs.Wrapf(errs.ErrZeroAmount, "amount in")
	}
	if err := p.checkTrading(); err != nil {
		return SwapResult{}, err
	}
	q, err := p.bins.quote(amountIn, dir, p.activeBinID, p.params.BaseFeeBps, p.params.ProtocolFeeBps)
	if err != nil {
		return SwapResult{}, err
	}
	if q.AmountOut < minOut {
		return SwapResult{}, errs.Wrapf(errs.ErrSlippageExceeded, "out %d < min %d", q.AmountOut, minOut)
	}

	res := SwapResult{Quote: q, InputMint: p.params.BaseMint, OutputMint: p.params.QuoteMint}
	if dir == QuoteToBase {
		res.InputMint, res.OutputMint = p.params.QuoteMint, p.params.BaseMint
	}

	staged := make(map[int32]*Bin, len(q.fills)+1)
	stage := func(id int32) *Bin {
		if b, ok := staged[id]; ok {
			return b
		}
		b := p.bins.peek(id).clone()
		staged[id] = b
		return b
	}
	for _, f := range q.fills {
		b := stage(f.id)
		if dir == BaseToQuote {
			if b.Base, err = fixedpoint.AddU64(b.Base, f.in); err != nil {
				return SwapResult{}, err
			}
			if b.Quote, err = fixedpoint.SubU64(b.Quote, f.out); err != nil {
				return SwapResult{}, err
			}
		} else {
			if b.Quote, err = fixedpoint.AddU64(b.Quote, f.in); err != nil {
				return SwapResult{}, err
			}
			if b.Base, err = fixedpoint.SubU64(b.Base, f.out); err != nil {
				return SwapResult{}, err
			}
		}
	}
	if q.LPFee > 0 {
		if err := escrowFee(stage(q.feeBin), dir, q.LPFee); err != nil {
			return SwapResult{}, err
		}
	}

	protoBase, protoQuote := p.protocolFeeBase, p.protocolFeeQuote
	if dir == BaseToQuote {
		protoBase, err = fixedpoint.AddU64(protoBase, q.ProtocolFee)
	} else {
		protoQuote, err = fixedpoint.AddU64(protoQuote, q.ProtocolFee)
	}
	if err != nil {
		return SwapResult{}, err
	}
	volume, err := fixedpoint.AddU64(p.totalVolume, amountIn)
	if err != nil {
		return SwapResult{}, err
	}
	fees, err := fixedpoint.AddU64(p.totalFees, q.FeeAmount)
	if err != nil {
		return SwapResult{}, err
	}

	if err := p.transfer(ctx,
		p.in(res.InputMint, trader, amountIn),
		p.out(res.OutputMint, trader, q.AmountOut),
	); err != nil {
		return SwapResult{}, fmt.Errorf("swap transfer: %w", err)
	}

	for _, b := range staged {
		p.bins.put(b)
	}
	p.activeBinID = q.EndBinID
	p.totalVolume = volume
	p.totalFees = fees
	p.protocolFeeBase, p.protocolFeeQuote = protoBase, protoQuote
	return res, nil
}

// escrowFee credits the LP fee to a bin and raises its per-share accumulator.
// The fee is paid in the input mint.
func escrowFee(b *Bin, dir Direction, fee uint64) error {
	if b.TotalShares == 0 {
		return errs.Wrapf(errs.ErrInsufficientLiquidity, "bin %d has no shares to receive fees", b.ID)
	}
	delta := fixedpoint.PerShareX64(fee, b.TotalShares)
	var err error
	if dir == BaseToQuote {
		if b.FeeBase, err = fixedpoint.AddU64(b.FeeBase, fee); err != nil {
			return err
		}
		b.FeePerShareBaseX64, err = fixedpoint.AddQ128(b.FeePerShareBaseX64, delta)
		return err
	}
	if b.FeeQuote, err = fixedpoint.AddU64(b.FeeQuote, fee); err != nil {
		return err
	}
	b.FeePerShareQuoteX64, err = fixedpoint.AddQ128(b.FeePerShareQuoteX64, delta)
	return err
}

// AddResult is a committed deposit.
type AddResult struct {
	Position     common.Hash
	BinID        int32
	SharesMinted uint64
	BaseAmount   uint64
	QuoteAmount  uint64
	Created      bool
}

// AddLiquidity deposits into binID. The owner's position is created on the
// first deposit. A position holding shares in another bin is rejected with
// ErrInvalidBinRange; an empty position may move to a new bin.
func (p *Pool) AddLiquidity(ctx context.Context, owner common.Address, binID int32, baseAmount, quoteAmount uint64) (AddResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.addLiquidity(ctx, owner, binID, baseAmount, quoteAmount)
	if err != nil {
		p.logger.Debug("add liquidity rejected",
			zap.Stringer("owner", owner),
			zap.Int32("bin", binID),
			zap.Uint64("base", baseAmount),
			zap.Uint64("quote", quoteAmount),
			zap.Error(err),
		)
		return AddResult{}, err
	}

	p.logger.Debug("liquidity added",
		zap.Stringer("owner", owner),
		zap.Int32("bin", binID),
		zap.Uint64("shares", res.SharesMinted),
		zap.Bool("created", res.Created),
	)
	p.emitter.Emit(ctx, model.EventLiquidityAdded, p.key.Hex(), model.LiquidityAdded{
		Pool:         p.key.Hex(),
		Position:     res.Position.Hex(),
		Owner:        owner.Hex(),
		BinID:        binID,
		BaseAmount:   baseAmount,
		QuoteAmount:  quoteAmount,
		SharesMinted: res.SharesMinted,
	})
	return res, nil
}

func (p *Pool) addLiquidity(ctx context.Context, owner common.Address, binID int32, baseAmount, quoteAmount uint64) (AddResult, error) {
	if baseAmount == 0 && quoteAmount == 0 {
		return AddResult{}, errs.Wrapf(errs.ErrZeroAmount, "base and quote amounts are both zero")
	}
	if err := p.checkTrading(); err != nil {
		return AddResult{}, err
	}
	price, err := p.bins.Price(binID)
	if err != nil {
		return AddResult{}, err
	}

	posKey := keys.Position(p.key, owner)
	current, exists := p.positions[posKey]
	var pos *Position
	if exists {
		pos = current.clone()
	} else {
		pos = newPosition(posKey, owner, binID)
	}
	if pos.BinID() != binID {
		if pos.Shares > 0 {
			return AddResult{}, errs.Wrapf(errs.ErrInvalidBinRange, "position supplies bin %d, not %d", pos.BinID(), binID)
		}
		pos.LowerBinID, pos.UpperBinID = binID, binID
	}

	bin := p.bins.peek(binID).clone()
	if err := pos.settle(bin); err != nil {
		return AddResult{}, err
	}

	var shares uint64
	binValue := fixedpoint.LiquidityValueX64(bin.Base, bin.Quote, price)
	if bin.TotalShares == 0 || binValue.IsZero() {
		shares, err = fixedpoint.InitialShares(baseAmount, quoteAmount, price)
	} else {
		value := fixedpoint.LiquidityValueX64(baseAmount, quoteAmount, price)
		shares, err = fixedpoint.ProRataShares(value, binValue, bin.TotalShares)
	}
	if err != nil {
		return AddResult{}, err
	}
	if shares == 0 {
		return AddResult{}, errs.Wrapf(errs.ErrZeroAmount, "deposit mints no shares in bin %d", binID)
	}

	if bin.Base, err = fixedpoint.AddU64(bin.Base, baseAmount); err != nil {
		return AddResult{}, err
	}
	if bin.Quote, err = fixedpoint.AddU64(bin.Quote, quoteAmount); err != nil {
		return AddResult{}, err
	}
	if bin.TotalShares, err = fixedpoint.AddU64(bin.TotalShares, shares); err != nil {
		return AddResult{}, err
	}
	if pos.Shares, err = fixedpoint.AddU64(pos.Shares, shares); err != nil {
		return AddResult{}, err
	}
	pos.resetDebt(bin)
	pos.refresh(bin)

	if err := p.transfer(ctx,
		p.in(p.params.BaseMint, owner, baseAmount),
		p.in(p.params.QuoteMint, owner, quoteAmount),
	); err != nil {
		return AddResult{}, fmt.Errorf("deposit transfer: %w", err)
	}

	p.bins.put(bin)
	p.positions[posKey] = pos
	return AddResult{
		Position:     posKey,
		BinID:        binID,
		SharesMinted: shares,
		BaseAmount:   baseAmount,
		QuoteAmount:  quoteAmount,
		Created:      !exists,
	}, nil
}

// RemoveResult is a committed withdrawal.
type RemoveResult struct {
	Position     common.Hash
	BinID        int32
	SharesBurned uint64
	BaseAmount   uint64
	QuoteAmount  uint64
}

// RemoveLiquidity burns floor(shares * bps / 10000) of the owner's shares and
// pays out the matching fraction of the bin reserves. A position that is the
// bin's only supplier is paid floor(reserve * bps / 10000) of each asset
// directly. Withdrawals are allowed while the pool is paused, deactivated or
// closed.
func (p *Pool) RemoveLiquidity(ctx context.Context, owner common.Address, bps uint16) (RemoveResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.removeLiquidity(ctx, owner, bps)
	if err != nil {
		p.logger.Debug("remove liquidity rejected", zap.Stringer("owner", owner), zap.Uint16("bps", bps), zap.Error(err))
		return RemoveResult{}, err
	}
	if res.SharesBurned == 0 && res.BaseAmount == 0 && res.QuoteAmount == 0 {
		return res, nil
	}

	p.logger.Debug("liquidity removed",
		zap.Stringer("owner", owner),
		zap.Uint16("bps", bps),
		zap.Uint64("base", res.BaseAmount),
		zap.Uint64("quote", res.QuoteAmount),
	)
	p.emitter.Emit(ctx, model.EventLiquidityRemoved, p.key.Hex(), model.LiquidityRemoved{
		Pool:         p.key.Hex(),
		Position:     res.Position.Hex(),
		Owner:        owner.Hex(),
		BinID:        res.BinID,
		Bps:          bps,
		BaseAmount:   res.BaseAmount,
		QuoteAmount:  res.QuoteAmount,
		SharesBurned: res.SharesBurned,
	})
	return res, nil
}

func (p *Pool) removeLiquidity(ctx context.Context, owner common.Address, bps uint16) (RemoveResult, error) {
	if !fixedpoint.ValidBps(bps) {
		return RemoveResult{}, errs.Wrapf(errs.ErrInvalidBps, "bps %d", bps)
	}
	posKey := keys.Position(p.key, owner)
	current, ok := p.positions[posKey]
	if !ok {
		return RemoveResult{}, errs.Wrapf(errs.ErrNotFound, "no position for %s", owner.Hex())
	}
	pos := current.clone()
	bin := p.bins.peek(pos.BinID()).clone()
	if err := pos.settle(bin); err != nil {
		return RemoveResult{}, err
	}

	res := RemoveResult{Position: posKey, BinID: pos.BinID()}
	burn, err := fixedpoint.MulDiv(pos.Shares, uint64(bps), fixedpoint.BpsDenominator)
	if err != nil {
		return RemoveResult{}, err
	}
	sole := pos.Shares > 0 && pos.Shares == bin.TotalShares
	if sole {
		if res.BaseAmount, err = fixedpoint.MulDiv(bin.Base, uint64(bps), fixedpoint.BpsDenominator); err != nil {
			return RemoveResult{}, err
		}
		if res.QuoteAmount, err = fixedpoint.MulDiv(bin.Quote, uint64(bps), fixedpoint.BpsDenominator); err != nil {
			return RemoveResult{}, err
		}
	} else if burn > 0 {
		if res.BaseAmount, err = fixedpoint.MulDiv(bin.Base, burn, bin.TotalShares); err != nil {
			return RemoveResult{}, err
		}
		if res.QuoteAmount, err = fixedpoint.MulDiv(bin.Quote, burn, bin.TotalShares); err != nil {
			return RemoveResult{}, err
		}
	}
	if bin.Base, err = fixedpoint.SubU64(bin.Base, res.BaseAmount); err != nil {
		return RemoveResult{}, err
	}
	if bin.Quote, err = fixedpoint.SubU64(bin.Quote, res.QuoteAmount); err != nil {
		return RemoveResult{}, err
	}
	if bin.TotalShares, err = fixedpoint.SubU64(bin.TotalShares, burn); err != nil {
		return RemoveResult{}, err
	}
	if pos.Shares, err = fixedpoint.SubU64(pos.Shares, burn); err != nil {
		return RemoveResult{}, err
	}
	res.SharesBurned = burn

	pos.resetDebt(bin)
	pos.refresh(bin)

	if err := p.transfer(ctx,
		p.out(p.params.BaseMint, owner, res.BaseAmount),
		p.out(p.params.QuoteMint, owner, res.QuoteAmount),
	); err != nil {
		return RemoveResult{}, fmt.Errorf("withdraw transfer: %w", err)
	}

	p.bins.put(bin)
	p.positions[posKey] = pos
	return res, nil
}

// ClaimFees pays the owner every LP fee owed or pending on the position.
func (p *Pool) ClaimFees(ctx context.Context, owner common.Address) (base, quote uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	posKey := keys.Position(p.key, owner)
	current, ok := p.positions[posKey]
	if !ok {
		err = errs.Wrapf(errs.ErrNotFound, "no position for %s", owner.Hex())
		p.logger.Debug("claim fees rejected", zap.Stringer("owner", owner), zap.Error(err))
		return 0, 0, err
	}
	pos := current.clone()
	bin := p.bins.peek(pos.BinID()).clone()
	if err := pos.settle(bin); err != nil {
		return 0, 0, err
	}
	base, quote = pos.FeesOwedBase, pos.FeesOwedQuote
	if base == 0 && quote == 0 {
		return 0, 0, nil
	}
	if err := p.transfer(ctx,
		p.out(p.params.BaseMint, owner, base),
		p.out(p.params.QuoteMint, owner, quote),
	); err != nil {
		p.logger.Debug("claim fees rejected", zap.Stringer("owner", owner), zap.Error(err))
		return 0, 0, fmt.Errorf("claim transfer: %w", err)
	}
	pos.FeesOwedBase, pos.FeesOwedQuote = 0, 0
	p.bins.put(bin)
	p.positions[posKey] = pos

	p.logger.Debug("fees claimed", zap.Stringer("owner", owner), zap.Uint64("base", base), zap.Uint64("quote", quote))
	p.emitter.Emit(ctx, model.EventFeesClaimed, p.key.Hex(), model.FeesClaimed{
		Pool:        p.key.Hex(),
		Position:    posKey.Hex(),
		Owner:       owner.Hex(),
		BaseAmount:  base,
		QuoteAmount: quote,
	})
	return base, quote, nil
}

// CollectProtocolFees moves accrued protocol fees to recipient.
func (p *Pool) CollectProtocolFees(ctx context.Context, caller, recipient common.Address) (base, quote uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authorize(ctx, caller, gate.ActionCollectFees); err != nil {
		p.logger.Debug("collect protocol fees rejected", zap.Stringer("caller", caller), zap.Error(err))
		return 0, 0, err
	}
	base, quote = p.protocolFeeBase, p.protocolFeeQuote
	if base == 0 && quote == 0 {
		return 0, 0, nil
	}
	if err := p.transfer(ctx,
		p.out(p.params.BaseMint, recipient, base),
		p.out(p.params.QuoteMint, recipient, quote),
	); err != nil {
		return 0, 0, fmt.Errorf("collect transfer: %w", err)
	}
	p.protocolFeeBase, p.protocolFeeQuote = 0, 0

	p.logger.Debug("protocol fees collected", zap.Stringer("recipient", recipient), zap.Uint64("base", base), zap.Uint64("quote", quote))
	p.emitter.Emit(ctx, model.EventProtocolFeesCollected, p.key.Hex(), model.ProtocolFeesCollected{
		Pool:        p.key.Hex(),
		Recipient:   recipient.Hex(),
		BaseAmount:  base,
		QuoteAmount: quote,
	})
	return base, quote, nil
}

// Pause halts swaps and deposits. Pausing a paused pool is a no-op.
func (p *Pool) Pause(ctx context.Context, caller common.Address) error {
	return p.setPaused(ctx, caller, true)
}

// Unpause reverses Pause.
func (p *Pool) Unpause(ctx context.Context, caller common.Address) error {
	return p.setPaused(ctx, caller, false)
}

func (p *Pool) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	action, name := gate.ActionUnpause, model.EventPoolUnpaused
	if paused {
		action, name = gate.ActionPause, model.EventPoolPaused
	}
	if err := p.authorize(ctx, caller, action); err != nil {
		p.logger.Debug("pause change rejected", zap.Stringer("caller", caller), zap.Bool("paused", paused), zap.Error(err))
		return err
	}
	if p.closed {
		return errs.ErrPoolClosed
	}
	if p.paused == paused {
		return nil
	}
	p.paused = paused

	p.logger.Debug("pause changed", zap.Bool("paused", paused))
	p.emitter.Emit(ctx, name, p.key.Hex(), model.PoolAuthorityAction{Pool: p.key.Hex(), Authority: caller.Hex()})
	return nil
}

// Deactivate clears FlagActive. The pool stays withdrawal-only afterwards and
// becomes eligible for Close.
func (p *Pool) Deactivate(ctx context.Context, caller common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authorize(ctx, caller, gate.ActionDeactivate); err != nil {
		p.logger.Debug("deactivate rejected", zap.Stringer("caller", caller), zap.Error(err))
		return err
	}
	if p.flags&FlagActive == 0 {
		return nil
	}
	p.flags &^= FlagActive

	p.logger.Debug("pool deactivated")
	p.emitter.Emit(ctx, model.EventPoolDeactivated, p.key.Hex(), model.PoolAuthorityAction{Pool: p.key.Hex(), Authority: caller.Hex()})
	return nil
}

// Close decommissions a deactivated pool and refunds the creator's bond.
func (p *Pool) Close(ctx context.Context, caller common.Address) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	refunded, err := p.close(ctx, caller)
	if err != nil {
		p.logger.Debug("close rejected", zap.Stringer("caller", caller), zap.Error(err))
		return 0, err
	}
	p.logger.Debug("pool closed", zap.Uint64("bond_refunded", refunded))
	p.emitter.Emit(ctx, model.EventPoolClosed, p.key.Hex(), model.PoolClosed{
		Pool:         p.key.Hex(),
		Creator:      p.params.Creator.Hex(),
		BondRefunded: refunded,
	})
	return refunded, nil
}

func (p *Pool) close(ctx context.Context, caller common.Address) (uint64, error) {
	if err := p.authorize(ctx, caller, gate.ActionClosePool); err != nil {
		return 0, err
	}
	if p.closed {
		return 0, errs.ErrPoolClosed
	}
	if p.flags&FlagActive != 0 {
		return 0, errs.Wrapf(errs.ErrPoolStillActive, "deactivate before closing")
	}
	var refunded uint64
	if p.refunder != nil {
		var err error
		refunded, err = p.refunder.RefundBond(ctx, p.key, p.params.Creator)
		if err != nil {
			return 0, fmt.Errorf("refund bond: %w", err)
		}
	}
	p.closed = true
	return refunded, nil
}

// ActiveBinID is the bin the next swap starts from.
func (p *Pool) ActiveBinID() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeBinID
}

// ActivePriceX64 is the Q64.64 price of the active bin.
func (p *Pool) ActivePriceX64() (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bins.Price(p.activeBinID)
}

// Position returns a refreshed copy of the owner's position.
func (p *Pool) Position(owner common.Address) (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[keys.Position(p.key, owner)]
	if !ok {
		return Position{}, false
	}
	return *p.view(pos), true
}

// PendingFees reports owed plus unsettled fees for the owner's position.
func (p *Pool) PendingFees(owner common.Address) (base, quote uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[keys.Position(p.key, owner)]
	if !ok {
		return 0, 0, errs.Wrapf(errs.ErrNotFound, "no position for %s", owner.Hex())
	}
	bin := p.bins.peek(pos.BinID())
	base, quote, err = pos.pendingFees(bin)
	if err != nil {
		return 0, 0, err
	}
	return base + pos.FeesOwedBase, quote + pos.FeesOwedQuote, nil
}

func (p *Pool) view(pos *Position) *Position {
	c := pos.clone()
	c.refresh(p.bins.peek(c.BinID()))
	return c
}

// VaultBreakdown attributes the vault balances to bins, fee escrow, settled
// LP fees and pending protocol fees. Each side sums to the vault balance.
type VaultBreakdown struct {
	ReserveBase, ReserveQuote         uint64
	FeeEscrowBase, FeeEscrowQuote     uint64
	OwedBase, OwedQuote               uint64
	ProtocolFeeBase, ProtocolFeeQuote uint64
}

func (v VaultBreakdown) Base() uint64 {
	return v.ReserveBase + v.FeeEscrowBase + v.OwedBase + v.ProtocolFeeBase
}

func (v VaultBreakdown) Quote() uint64 {
	return v.ReserveQuote + v.FeeEscrowQuote + v.OwedQuote + v.ProtocolFeeQuote
}

func (p *Pool) Breakdown() VaultBreakdown {
	p.mu.Lock()
	defer p.mu.Unlock()
	var v VaultBreakdown
	v.ReserveBase, v.ReserveQuote, v.FeeEscrowBase, v.FeeEscrowQuote = p.bins.Totals()
	for _, pos := range p.positions {
		v.OwedBase += pos.FeesOwedBase
		v.OwedQuote += pos.FeesOwedQuote
	}
	v.ProtocolFeeBase, v.ProtocolFeeQuote = p.protocolFeeBase, p.protocolFeeQuote
	return v
}

// Snapshot returns the persisted view of the pool.
func (p *Pool) Snapshot() model.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	base, quote, _, _ := p.bins.Totals()
	return model.PoolSnapshot{
		Key:              p.key.Hex(),
		BaseMint:         p.params.BaseMint.Hex(),
		QuoteMint:        p.params.QuoteMint.Hex(),
		Creator:          p.params.Creator.Hex(),
		Authority:        p.params.Authority.Hex(),
		BaseFeeBps:       p.params.BaseFeeBps,
		ProtocolFeeBps:   p.params.ProtocolFeeBps,
		BinStep:          p.params.BinStep,
		ActiveBinID:      p.activeBinID,
		Flags:            p.flags,
		Paused:           p.paused,
		Closed:           p.closed,
		TotalVolume:      p.totalVolume,
		TotalFees:        p.totalFees,
		ProtocolFeeBase:  p.protocolFeeBase,
		ProtocolFeeQuote: p.protocolFeeQuote,
		ReserveBase:      base,
		ReserveQuote:     quote,
		BinCount:         len(p.bins.Snapshot()),
	}
}

// Bins lists non-empty bins in id order.
func (p *Pool) Bins() []model.BinSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bins.Snapshot()
}

// PositionSnapshots lists every position in key order, refreshed.
func (p *Pool) PositionSnapshots() []model.PositionSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	keyList := make([]common.Hash, 0, len(p.positions))
	for k := range p.positions {
		keyList = append(keyList, k)
	}
	sort.Slice(keyList, func(i, j int) bool { return keyList[i].Cmp(keyList[j]) < 0 })
	out := make([]model.PositionSnapshot, 0, len(keyList))
	for _, k := range keyList {
		out = append(out, p.view(p.positions[k]).snapshot(p.key))
	}
	return out
}
