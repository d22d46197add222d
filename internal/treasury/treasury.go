// Package treasury accumulates protocol fees, converts them into the
// protocol token and splits the proceeds between burn, stakers and ops.
package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pudl/internal/errs"
	"pudl/internal/events"
	"pudl/internal/fixedpoint"
	"pudl/internal/gate"
	"pudl/internal/keys"
	"pudl/internal/ledger"
	"pudl/internal/model"
)

// DefaultSplit sends 30% to burn, 50% to stakers and 20% to ops.
var DefaultSplit = Split{BurnBps: 3_000, StakerBps: 5_000, OpsBps: 2_000}

// DefaultBuybackBps converts every harvested unit.
const DefaultBuybackBps = fixedpoint.BpsDenominator

// Split distributes converted protocol tokens. The parts must sum to 10000.
type Split struct {
	BurnBps   uint16 `json:"burn_bps" mapstructure:"burn-bps"`
	StakerBps uint16 `json:"staker_bps" mapstructure:"staker-bps"`
	OpsBps    uint16 `json:"ops_bps" mapstructure:"ops-bps"`
}

func (s Split) Validate() error {
	sum := uint32(s.BurnBps) + uint32(s.StakerBps) + uint32(s.OpsBps)
	if sum != fixedpoint.BpsDenominator {
		return errs.Wrapf(errs.ErrInvalidSplit, "burn %d + stakers %d + ops %d = %d", s.BurnBps, s.StakerBps, s.OpsBps, sum)
	}
	return nil
}

// ConvertRequest asks a converter to sell AmountIn of FromMint held by
// Owner and credit the ToMint proceeds back to Owner.
type ConvertRequest struct {
	FromMint common.Address
	ToMint   common.Address
	Owner    common.Address
	AmountIn uint64
}

// SwapConverter turns fee tokens into the protocol token.
type SwapConverter interface {
	Convert(ctx context.Context, req ConvertRequest) (uint64, error)
}

// RewardNotifier is told about rewards sent to the staking rewards vault.
type RewardNotifier interface {
	SyncRewards(ctx context.Context, caller common.Address, newRewards uint64) (model.RewardsSynced, error)
}

// Params configure the treasury singleton.
type Params struct {
	Authority common.Address
	PudlMint  common.Address
	OpsWallet common.Address
	// BurnAddress and RewardsVault default to the well-known accounts.
	BurnAddress  common.Address
	RewardsVault common.Address
	Split        Split
	BuybackBps   uint16
}

// Options are the collaborators of a Treasury. Converter is only needed to
// harvest mints other than the protocol token.
type Options struct {
	Ledger    ledger.Ledger
	Converter SwapConverter
	Notifier  RewardNotifier
	Emitter   *events.Emitter
	Gate      gate.Gate
	Logger    *zap.Logger
}

// Harvest is the outcome of one HarvestAndConvert run.
type Harvest struct {
	FeeMint   common.Address
	TotalIn   uint64
	Converted uint64
	PudlOut   uint64
	Burned    uint64
	ToStakers uint64
	ToOps     uint64
	Forwarded uint64
}

// Treasury is safe for concurrent use. Every operation holds the treasury
// lock for its whole duration.
type Treasury struct {
	mu sync.Mutex

	params Params
	vault  common.Address

	totalFeesCollected uint64
	totalPudlBurned    uint64
	lastHarvestAt      int64

	ledger    ledger.Ledger
	converter SwapConverter
	notifier  RewardNotifier
	emitter   *events.Emitter
	gate      gate.Gate
	logger    *zap.Logger
}

func New(params Params, opts Options) (*Treasury, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if params.Split == (Split{}) {
		params.Split = DefaultSplit
	}
	if err := params.Split.Validate(); err != nil {
		return nil, err
	}
	if !fixedpoint.ValidBps(params.BuybackBps) {
		return nil, errs.Wrapf(errs.ErrInvalidBps, "buyback bps %d", params.BuybackBps)
	}
	if params.BurnAddress == (common.Address{}) {
		params.BurnAddress = keys.BurnAddress
	}
	if params.RewardsVault == (common.Address{}) {
		params.RewardsVault = keys.RewardsVault()
	}
	if opts.Gate == nil {
		opts.Gate = gate.AllowAll{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Treasury{
		params:    params,
		vault:     keys.FeeVault(),
		ledger:    opts.Ledger,
		converter: opts.Converter,
		notifier:  opts.Notifier,
		emitter:   opts.Emitter,
		gate:      opts.Gate,
		logger:    opts.Logger.With(zap.String("component", "treasury")),
	}, nil
}

// FeeVault holds recorded fees until they are harvested.
func (t *Treasury) FeeVault() common.Address { return t.vault }

func (t *Treasury) Params() Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

func (t *Treasury) authorize(ctx context.Context, caller common.Address, action gate.Action) error {
	if caller != t.params.Authority {
		return errs.Wrapf(errs.ErrUnauthorized, "%s is not the treasury authority", caller.Hex())
	}
	if err := t.gate.Check(ctx, action, keys.Treasury().Hex()); err != nil {
		return fmt.Errorf("governance %s: %w", action, err)
	}
	return nil
}

// RecordFee moves amount of mint from source into the fee vault. source
// signs the transfer; it is the authority of the pool the fee came from.
func (t *Treasury) RecordFee(ctx context.Context, source, mint common.Address, amount uint64) error {
	if amount == 0 {
		return errs.Wrapf(errs.ErrZeroAmount, "fee amount")
	}
	if err := t.gate.Check(ctx, gate.ActionRecordFee, source.Hex()); err != nil {
		return fmt.Errorf("governance %s: %w", gate.ActionRecordFee, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	total, err := fixedpoint.AddU64(t.totalFeesCollected, amount)
	if err != nil {
		return err
	}
	tr := ledger.Transfer{Mint: mint, From: source, To: t.vault, Authority: source, Amount: amount}
	if err := t.ledger.Transfer(ctx, tr); err != nil {
		return fmt.Errorf("transfer fee: %w", err)
	}
	t.totalFeesCollected = total

	now := t.emitter.Now().Unix()
	t.logger.Debug("fee recorded", zap.Stringer("source", source), zap.Stringer("mint", mint), zap.Uint64("amount", amount))
	t.emitter.Emit(ctx, model.EventFeeRecorded, keys.Treasury().Hex(), model.FeeRecorded{
		Pool: source.Hex(), Mint: mint.Hex(), Amount: amount, Timestamp: now,
	})
	return nil
}

// HarvestAndConvert empties the fee vault balance of feeMint. The buyback
// share is converted into the protocol token and split between burn,
// stakers and ops; the rest is forwarded to ops unconverted. An empty
// vault is a no-op.
//
// Conversion runs first. If a later transfer fails the distribution legs
// are rolled back, but the converted tokens stay in the fee vault and are
// picked up by a harvest of the protocol token.
func (t *Treasury) HarvestAndConvert(ctx context.Context, feeMint common.Address) (Harvest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := Harvest{FeeMint: feeMint}
	bal, err := t.ledger.BalanceOf(ctx, feeMint, t.vault)
	if err != nil {
		return res, fmt.Errorf("fee vault balance: %w", err)
	}
	if bal == 0 {
		return res, nil
	}
	res.TotalIn = bal
	if res.Converted, err = fixedpoint.BpsOf(bal, t.params.BuybackBps); err != nil {
		return res, err
	}
	res.Forwarded = bal - res.Converted

	switch {
	case res.Converted == 0:
	case feeMint == t.params.PudlMint:
		res.PudlOut = res.Converted
	case t.converter == nil:
		return res, fmt.Errorf("no converter for %s", feeMint.Hex())
	default:
		out, err := t.converter.Convert(ctx, ConvertRequest{
			FromMint: feeMint,
			ToMint:   t.params.PudlMint,
			Owner:    t.vault,
			AmountIn: res.Converted,
		})
		if err != nil {
			return res, fmt.Errorf("convert %s: %w", feeMint.Hex(), err)
		}
		res.PudlOut = out
	}

	split := t.params.Split
	if res.Burned, err = fixedpoint.BpsOf(res.PudlOut, split.BurnBps); err != nil {
		return res, err
	}
	if res.ToStakers, err = fixedpoint.BpsOf(res.PudlOut, split.StakerBps); err != nil {
		return res, err
	}
	// Rounding dust from the floored shares goes to ops.
	res.ToOps = res.PudlOut - res.Burned - res.ToStakers
	burned, err := fixedpoint.AddU64(t.totalPudlBurned, res.Burned)
	if err != nil {
		return res, err
	}

	j := ledger.NewJournal(t.ledger)
	legs := []ledger.Transfer{
		t.out(t.params.PudlMint, t.params.BurnAddress, res.Burned),
		t.out(t.params.PudlMint, t.params.RewardsVault, res.ToStakers),
		t.out(t.params.PudlMint, t.params.OpsWallet, res.ToOps),
		t.out(feeMint, t.params.OpsWallet, res.Forwarded),
	}
	for _, leg := range legs {
		if err := j.Do(ctx, leg); err != nil {
			return res, t.rollback(ctx, j, err)
		}
	}
	if t.notifier != nil && res.ToStakers > 0 {
		if _, err := t.notifier.SyncRewards(ctx, t.params.Authority, res.ToStakers); err != nil {
			return res, t.rollback(ctx, j, fmt.Errorf("sync rewards: %w", err))
		}
	}

	t.totalPudlBurned = burned
	t.lastHarvestAt = t.emitter.Now().Unix()

	t.logger.Info("harvested",
		zap.Stringer("fee_mint", feeMint),
		zap.Uint64("total_in", res.TotalIn),
		zap.Uint64("pudl_out", res.PudlOut),
		zap.Uint64("burned", res.Burned),
		zap.Uint64("to_stakers", res.ToStakers),
	)
	t.emitter.Emit(ctx, model.EventHarvested, keys.Treasury().Hex(), model.Harvested{
		FeeMint:   feeMint.Hex(),
		TotalIn:   res.TotalIn,
		Converted: res.Converted,
		PudlOut:   res.PudlOut,
		Burned:    res.Burned,
		ToStakers: res.ToStakers,
		ToOps:     res.ToOps,
		Forwarded: res.Forwarded,
	})
	return res, nil
}

func (t *Treasury) out(mint, to common.Address, amount uint64) ledger.Transfer {
	return ledger.Transfer{Mint: mint, From: t.vault, To: to, Authority: t.vault, Amount: amount}
}

func (t *Treasury) rollback(ctx context.Context, j *ledger.Journal, cause error) error {
	if err := j.Rollback(ctx); err != nil {
		t.logger.Error("rollback failed", zap.Error(err))
		return fmt.Errorf("%w (rollback: %v)", cause, err)
	}
	return cause
}

// SetSplit replaces the distribution split. An invalid split leaves the
// current one in place.
func (t *Treasury) SetSplit(ctx context.Context, caller common.Address, split Split) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.authorize(ctx, caller, gate.ActionSetSplit); err != nil {
		return err
	}
	if err := split.Validate(); err != nil {
		return err
	}
	t.params.Split = split
	t.logger.Info("split updated", zap.Uint16("burn_bps", split.BurnBps), zap.Uint16("staker_bps", split.StakerBps), zap.Uint16("ops_bps", split.OpsBps))
	t.emitter.Emit(ctx, model.EventSplitUpdated, keys.Treasury().Hex(), model.SplitUpdated{
		BurnBps: split.BurnBps, StakerBps: split.StakerBps, OpsBps: split.OpsBps,
	})
	return nil
}

// SetBuyback sets the share of each harvest converted into the protocol token.
func (t *Treasury) SetBuyback(ctx context.Context, caller common.Address, bps uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.authorize(ctx, caller, gate.ActionSetBuyback); err != nil {
		return err
	}
	if !fixedpoint.ValidBps(bps) {
		return errs.Wrapf(errs.ErrInvalidBps, "buyback bps %d", bps)
	}
	t.params.BuybackBps = bps
	t.logger.Info("buyback updated", zap.Uint16("buyback_bps", bps))
	t.emitter.Emit(ctx, model.EventBuybackUpdated, keys.Treasury().Hex(), model.BuybackUpdated{BuybackBps: bps})
	return nil
}

func (t *Treasury) Snapshot() model.TreasurySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.TreasurySnapshot{
		Authority:          t.params.Authority.Hex(),
		PudlMint:           t.params.PudlMint.Hex(),
		BuybackBps:         t.params.BuybackBps,
		BurnBps:            t.params.Split.BurnBps,
		StakerBps:          t.params.Split.StakerBps,
		OpsBps:             t.params.Split.OpsBps,
		TotalFeesCollected: t.totalFeesCollected,
		TotalPudlBurned:    t.totalPudlBurned,
		LastHarvestAt:      t.lastHarvestAt,
	}
}
