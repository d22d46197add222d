// Package staking distributes protocol-token rewards to stakers through a
// global Q64.64 reward index. Each account carries a debt snapshot of the
// index, so a payout is (amount*index - debt) >> 64.
package staking

import (
	"context"
	"fmt"
	"math/big"
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
	"pudl/internal/store"
)

// DefaultTierDecimals is the decimal precision of the protocol token.
const DefaultTierDecimals = 6

// Whole-token thresholds for tiers 1, 2 and 3.
var tierThresholds = [...]uint64{1_000, 10_000, 100_000}

// Params configure the staking pool singleton.
type Params struct {
	// Authority may sync rewards. It is the treasury authority.
	Authority    common.Address
	PudlMint     common.Address
	TierDecimals uint8
}

type Options struct {
	Ledger  ledger.Ledger
	Emitter *events.Emitter
	Gate    gate.Gate
	Logger  *zap.Logger
}

// Account is one owner's stake.
type Account struct {
	mu sync.Mutex

	Key           common.Hash
	Owner         common.Address
	Amount        uint64
	RewardDebtX64 *uint256.Int
	// Owed holds rewards settled on stake changes but not yet claimed.
	Owed uint64
	Tier uint8
}

func (a *Account) snapshot() model.StakeSnapshot {
	return model.StakeSnapshot{
		Key:           a.Key.Hex(),
		Owner:         a.Owner.Hex(),
		Amount:        a.Amount,
		RewardDebtX64: a.RewardDebtX64.ToBig().String(),
		Owed:          a.Owed,
		Tier:          a.Tier,
	}
}

// Pool is the staking singleton. Lock order is account before pool.
type Pool struct {
	mu sync.RWMutex
	// createMu serializes first stakes so an account is registered once.
	createMu sync.Mutex

	params       Params
	tierUnit     uint64
	stakeVault   common.Address
	rewardsVault common.Address

	totalStaked    uint64
	rewardIndexX64 *uint256.Int
	undistributed  uint64
	lastUpdate     int64

	accounts *store.Registry[*Account]

	ledger  ledger.Ledger
	emitter *events.Emitter
	gate    gate.Gate
	logger  *zap.Logger
}

func New(params Params, opts Options) (*Pool, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if opts.Gate == nil {
		opts.Gate = gate.AllowAll{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if params.TierDecimals == 0 {
		params.TierDecimals = DefaultTierDecimals
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(params.TierDecimals)), nil)
	if !unit.IsUint64() {
		return nil, fmt.Errorf("tier decimals %d too large", params.TierDecimals)
	}
	return &Pool{
		params:         params,
		tierUnit:       unit.Uint64(),
		stakeVault:     keys.StakingVault(),
		rewardsVault:   keys.RewardsVault(),
		rewardIndexX64: new(uint256.Int),
		accounts:       store.NewRegistry[*Account](),
		ledger:         opts.Ledger,
		emitter:        opts.Emitter,
		gate:           opts.Gate,
		logger:         opts.Logger.With(zap.String("component", "staking")),
	}, nil
}

// StakeVault custodies staked principal.
func (p *Pool) StakeVault() common.Address { return p.stakeVault }

// RewardsVault holds rewards awaiting claims.
func (p *Pool) RewardsVault() common.Address { return p.rewardsVault }

// Tier maps a raw amount to its tier: whole tokens of 1k, 10k and 100k
// reach tiers 1, 2 and 3.
func (p *Pool) Tier(amount uint64) uint8 {
	whole := amount / p.tierUnit
	var tier uint8
	for i, threshold := range tierThresholds {
		if whole >= threshold {
			tier = uint8(i + 1)
		}
	}
	return tier
}


// settle folds rewards accrued since the last debt snapshot into Owed.
// Callers hold the account lock and the pool lock.
func (p *Pool) settle(a *Account) (uint64, error) {
	pending, err := fixedpoint.PendingX64(a.Amount, p.rewardIndexX64, a.RewardDebtX64)
	if err != nil {
		return 0, err
	}
	return fixedpoint.AddU64(a.Owed, pending)
}

// Stake moves amount of the protocol token from owner into the stake vault.
// A first stake registers the account only once the transfer has succeeded.
func (p *Pool) Stake(ctx context.Context, owner common.Address, amount uint64) (model.StakeSnapshot, error) {
	if amount == 0 {
		return model.StakeSnapshot{}, errs.Wrapf(errs.ErrZeroAmount, "stake amount")
	}
	key := keys.Stake(owner)
	if acct, err := p.accounts.Get(key); err == nil {
		return p.stake(ctx, acct, amount)
	}

	p.createMu.Lock()
	defer p.createMu.Unlock()
	if acct, err := p.accounts.Get(key); err == nil {
		return p.stake(ctx, acct, amount)
	}
	acct := &Account{Key: key, Owner: owner, RewardDebtX64: new(uint256.Int)}
	snap, err := p.stake(ctx, acct, amount)
	if err != nil {
		return model.StakeSnapshot{}, err
	}
	if err := p.accounts.Create(key, acct); err != nil {
		return model.StakeSnapshot{}, err
	}
	return snap, nil
}

func (p *Pool) stake(ctx context.Context, acct *Account, amount uint64) (model.StakeSnapshot, error) {
	owner := acct.Owner
	acct.mu.Lock()
	defer acct.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	owed, err := p.settle(acct)
	if err != nil {
		return model.StakeSnapshot{}, fmt.Errorf("settle rewards: %w", err)
	}
	newAmount, err := fixedpoint.AddU64(acct.Amount, amount)
	if err != nil {
		return model.StakeSnapshot{}, err
	}
	newTotal, err := fixedpoint.AddU64(p.totalStaked, amount)
	if err != nil {
		return model.StakeSnapshot{}, err
	}
	tr := ledger.Transfer{Mint: p.params.PudlMint, From: owner, To: p.stakeVault, Authority: owner, Amount: amount}
	if err := p.ledger.Transfer(ctx, tr); err != nil {
		return model.StakeSnapshot{}, fmt.Errorf("transfer stake: %w", err)
	}

	acct.Owed = owed
	acct.Amount = newAmount
	acct.RewardDebtX64 = fixedpoint.ScaleX64(newAmount, p.rewardIndexX64)
	acct.Tier = p.Tier(newAmount)
	p.totalStaked = newTotal

	p.logger.Debug("staked", zap.Stringer("owner", owner), zap.Uint64("amount", amount), zap.Uint64("total", newTotal))
	p.emitter.Emit(ctx, model.EventStaked, acct.Key.Hex(), model.StakeChanged{
		User: owner.Hex(), Amount: amount, Total: newAmount, NewTier: acct.Tier,
	})
	return acct.snapshot(), nil
}

// Unstake returns amount of principal to owner. Accrued rewards stay owed.
func (p *Pool) Unstake(ctx context.Context, owner common.Address, amount uint64) (model.StakeSnapshot, error) {
	if amount == 0 {
		return model.StakeSnapshot{}, errs.Wrapf(errs.ErrZeroAmount, "unstake amount")
	}
	acct, err := p.accounts.Get(keys.Stake(owner))
	if err != nil {
		return model.StakeSnapshot{}, errs.Wrapf(errs.ErrInsufficientStake, "%s has no stake", owner.Hex())
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount > acct.Amount {
		return model.StakeSnapshot{}, errs.Wrapf(errs.ErrInsufficientStake, "staked %d, requested %d", acct.Amount, amount)
	}
	owed, err := p.settle(acct)
	if err != nil {
		return model.StakeSnapshot{}, fmt.Errorf("settle rewards: %w", err)
	}
	newAmount := acct.Amount - amount
	newTotal, err := fixedpoint.SubU64(p.totalStaked, amount)
	if err != nil {
		return model.StakeSnapshot{}, err
	}
	tr := ledger.Transfer{Mint: p.params.PudlMint, From: p.stakeVault, To: owner, Authority: p.stakeVault, Amount: amount}
	if err := p.ledger.Transfer(ctx, tr); err != nil {
		return model.StakeSnapshot{}, fmt.Errorf("transfer unstake: %w", err)
	}

	acct.Owed = owed
	acct.Amount = newAmount
	acct.RewardDebtX64 = fixedpoint.ScaleX64(newAmount, p.rewardIndexX64)
	acct.Tier = p.Tier(newAmount)
	p.totalStaked = newTotal

	p.logger.Debug("unstaked", zap.Stringer("owner", owner), zap.Uint64("amount", amount), zap.Uint64("total", newTotal))
	p.emitter.Emit(ctx, model.EventUnstaked, acct.Key.Hex(), model.StakeChanged{
		User: owner.Hex(), Amount: amount, Total: newAmount, NewTier: acct.Tier,
	})
	return acct.snapshot(), nil
}

// ClaimRewards pays everything owed to owner. Nothing owed is a no-op.
func (p *Pool) ClaimRewards(ctx context.Context, owner common.Address) (uint64, error) {
	acct, err := p.accounts.Get(keys.Stake(owner))
	if err != nil {
		return 0, nil
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	// The index only moves under the write lock, and this account's debt
	// only moves under its own lock, so a read lock suffices.
	p.mu.RLock()
	defer p.mu.RUnlock()

	payout, err := p.settle(acct)
	if err != nil {
		return 0, fmt.Errorf("settle rewards: %w", err)
	}
	if payout == 0 {
		return 0, nil
	}
	tr := ledger.Transfer{Mint: p.params.PudlMint, From: p.rewardsVault, To: owner, Authority: p.rewardsVault, Amount: payout}
	if err := p.ledger.Transfer(ctx, tr); err != nil {
		return 0, fmt.Errorf("transfer rewards: %w", err)
	}
	acct.Owed = 0
	acct.RewardDebtX64 = fixedpoint.ScaleX64(acct.Amount, p.rewardIndexX64)

	p.emitter.Emit(ctx, model.EventRewardsClaimed, acct.Key.Hex(), model.RewardsClaimed{User: owner.Hex(), Amount: payout})
	return payout, nil
}

// PendingRewards reports what ClaimRewards would pay right now.
func (p *Pool) PendingRewards(owner common.Address) (uint64, error) {
	acct, err := p.accounts.Get(keys.Stake(owner))
	if err != nil {
		return 0, nil
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settle(acct)
}

// SyncRewards credits newRewards, already deposited in the rewards vault,
// to current stakers. With nothing staked the rewards are escrowed and
// folded into the next sync that has stakers.
func (p *Pool) SyncRewards(ctx context.Context, caller common.Address, newRewards uint64) (model.RewardsSynced, error) {
	if caller != p.params.Authority {
		return model.RewardsSynced{}, errs.Wrapf(errs.ErrUnauthorized, "%s is not the treasury authority", caller.Hex())
	}
	if err := p.gate.Check(ctx, gate.ActionSyncRewards, keys.Staking().Hex()); err != nil {
		return model.RewardsSynced{}, fmt.Errorf("governance %s: %w", gate.ActionSyncRewards, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncLocked(ctx, newRewards)
}

// DepositRewards moves amount from caller into the rewards vault and syncs it.
func (p *Pool) DepositRewards(ctx context.Context, caller common.Address, amount uint64) (model.RewardsSynced, error) {
	if caller != p.params.Authority {
		return model.RewardsSynced{}, errs.Wrapf(errs.ErrUnauthorized, "%s is not the treasury authority", caller.Hex())
	}
	if amount == 0 {
		return model.RewardsSynced{}, errs.Wrapf(errs.ErrZeroAmount, "reward deposit")
	}
	if err := p.gate.Check(ctx, gate.ActionSyncRewards, keys.Staking().Hex()); err != nil {
		return model.RewardsSynced{}, fmt.Errorf("governance %s: %w", gate.ActionSyncRewards, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tr := ledger.Transfer{Mint: p.params.PudlMint, From: caller, To: p.rewardsVault, Authority: caller, Amount: amount}
	if err := p.ledger.Transfer(ctx, tr); err != nil {
		return model.RewardsSynced{}, fmt.Errorf("transfer rewards: %w", err)
	}
	res, err := p.syncLocked(ctx, amount)
	if err != nil {
		rev := ledger.Transfer{Mint: tr.Mint, From: tr.To, To: tr.From, Authority: tr.To, Amount: tr.Amount}
		if rbErr := p.ledger.Transfer(ctx, rev); rbErr != nil {
			p.logger.Error("rollback failed", zap.Error(rbErr))
			return model.RewardsSynced{}, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return model.RewardsSynced{}, err
	}
	return res, nil
}

func (p *Pool) syncLocked(ctx context.Context, newRewards uint64) (model.RewardsSynced, error) {
	total, err := fixedpoint.AddU64(p.undistributed, newRewards)
	if err != nil {
		return model.RewardsSynced{}, err
	}
	res := model.RewardsSynced{NewRewards: newRewards}
	if total == 0 {
		res.NewIndex = p.rewardIndexX64.ToBig().String()
		return res, nil
	}

	now := p.emitter.Now().Unix()
	if p.totalStaked == 0 {
		p.undistributed = total
		p.lastUpdate = now
		res.Escrowed = total
		res.NewIndex = p.rewardIndexX64.ToBig().String()
		p.logger.Info("rewards escrowed", zap.Uint64("escrowed", total))
		p.emitter.Emit(ctx, model.EventRewardsSynced, keys.Staking().Hex(), res)
		return res, nil
	}

	index, err := fixedpoint.AddQ128(p.rewardIndexX64, fixedpoint.PerShareX64(total, p.totalStaked))
	if err != nil {
		return model.RewardsSynced{}, err
	}
	p.rewardIndexX64 = index
	p.undistributed = 0
	p.lastUpdate = now
	res.Distributed = total
	res.NewIndex = index.ToBig().String()

	p.logger.Info("rewards synced", zap.Uint64("distributed", total), zap.Uint64("total_staked", p.totalStaked))
	p.emitter.Emit(ctx, model.EventRewardsSynced, keys.Staking().Hex(), res)
	return res, nil
}

// Account returns a copy of owner's stake.
func (p *Pool) Account(owner common.Address) (model.StakeSnapshot, bool) {
	acct, err := p.accounts.Get(keys.Stake(owner))
	if err != nil {
		return model.StakeSnapshot{}, false
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.snapshot(), true
}

// Accounts lists every stake account in key order.
func (p *Pool) Accounts() []model.StakeSnapshot {
	keysList := p.accounts.Keys()
	out := make([]model.StakeSnapshot, 0, len(keysList))
	for _, key := range keysList {
		acct, err := p.accounts.Get(key)
		if err != nil {
			continue
		}
		acct.mu.Lock()
		out = append(out, acct.snapshot())
		acct.mu.Unlock()
	}
	return out
}

func (p *Pool) Snapshot() model.StakingSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return model.StakingSnapshot{
		TotalStaked:    p.totalStaked,
		RewardIndexX64: p.rewardIndexX64.ToBig().String(),
		Undistributed:  p.undistributed,
		LastUpdate:     p.lastUpdate,
	}
}
