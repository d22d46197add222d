package staking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"pudl/internal/errs"
	"pudl/internal/events"
	"pudl/internal/ledger"
	"pudl/internal/model"
)

var (
	pudlMint  = common.HexToAddress("0x000000000000000000000000000000000000d001")
	authority = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a1c00")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000b0b00")
)

type fataler interface {
	Fatalf(format string, args ...interface{})
}

type fixture struct {
	pool   *Pool
	ledger *ledger.Memory
	sink   *events.MemorySink
}

func newFixture(t fataler) *fixture {
	mem := ledger.NewMemory()
	sink := events.NewMemorySink()
	pool, err := New(Params{Authority: authority, PudlMint: pudlMint}, Options{
		Ledger:  mem,
		Emitter: events.NewEmitter(sink, func() time.Time { return time.Unix(1700000000, 0) }, nil),
	})
	if err != nil {
		t.Fatalf("new staking pool: %v", err)
	}
	return &fixture{pool: pool, ledger: mem, sink: sink}
}

func (f *fixture) fund(t fataler, owner common.Address, amount uint64) {
	if err := f.ledger.Mint(pudlMint, owner, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) balance(owner common.Address) uint64 {
	bal, _ := f.ledger.BalanceOf(context.Background(), pudlMint, owner)
	return bal
}

func TestStakeAssignsTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, alice, 1_000_000_000)

	acct, err := f.pool.Stake(ctx, alice, 1_000_000_000)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if acct.Tier != 1 || acct.Amount != 1_000_000_000 {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if got := f.balance(f.pool.StakeVault()); got != 1_000_000_000 {
		t.Fatalf("stake vault holds %d", got)
	}
	recs := f.sink.Named(model.EventStaked)
	if len(recs) != 1 {
		t.Fatalf("expected one staked event, got %d", len(recs))
	}
	var ev model.StakeChanged
	if err := recs[0].Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.NewTier != 1 || ev.Total != 1_000_000_000 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestTierThresholds(t *testing.T) {
	f := newFixture(t)
	cases := map[uint64]uint8{
		0:                   0,
		999_999_999:         0,
		1_000_000_000:       1,
		9_999_999_999:       1,
		10_000_000_000:      2,
		100_000_000_000:     3,
		100_000_000_000_000: 3,
	}
	for amount, want := range cases {
		if got := f.pool.Tier(amount); got != want {
			t.Fatalf("tier(%d) = %d, want %d", amount, got, want)
		}
	}
}

func TestRewardsSplitProRata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, alice, 100)
	f.fund(t, bob, 300)
	f.fund(t, authority, 400)

	if _, err := f.pool.Stake(ctx, alice, 100); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	if _, err := f.pool.Stake(ctx, bob, 300); err != nil {
		t.Fatalf("stake bob: %v", err)
	}
	res, err := f.pool.DepositRewards(ctx, authority, 400)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Distributed != 400 || res.Escrowed != 0 {
		t.Fatalf("unexpected sync: %+v", res)
	}

	got, err := f.pool.ClaimRewards(ctx, alice)
	if err != nil || got != 100 {
		t.Fatalf("alice claimed %d (%v)", got, err)
	}
	got, err = f.pool.ClaimRewards(ctx, bob)
	if err != nil || got != 300 {
		t.Fatalf("bob claimed %d (%v)", got, err)
	}
	got, err = f.pool.ClaimRewards(ctx, bob)
	if err != nil || got != 0 {
		t.Fatalf("second claim paid %d (%v)", got, err)
	}
	if n := len(f.sink.Named(model.EventRewardsClaimed)); n != 2 {
		t.Fatalf("expected 2 claim events, got %d", n)
	}
}

func TestRewardsEscrowedWithoutStakers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, authority, 500)
	f.fund(t, alice, 10)

	res, err := f.pool.DepositRewards(ctx, authority, 500)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Escrowed != 500 || res.Distributed != 0 {
		t.Fatalf("expected escrow, got %+v", res)
	}
	if snap := f.pool.Snapshot(); snap.Undistributed != 500 || snap.RewardIndexX64 != "0" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if _, err := f.pool.Stake(ctx, alice, 10); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// A late staker earns nothing until the next sync folds the escrow in.
	if pending, _ := f.pool.PendingRewards(alice); pending != 0 {
		t.Fatalf("pending before sync: %d", pending)
	}
	res, err = f.pool.SyncRewards(ctx, authority, 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Distributed != 500 {
		t.Fatalf("escrow not folded in: %+v", res)
	}
	got, err := f.pool.ClaimRewards(ctx, alice)
	if err != nil || got != 500 {
		t.Fatalf("claimed %d (%v)", got, err)
	}
}

func TestStakeChangeKeepsAccruedRewards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, alice, 200)
	f.fund(t, authority, 50)

	if _, err := f.pool.Stake(ctx, alice, 100); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := f.pool.DepositRewards(ctx, authority, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	acct, err := f.pool.Stake(ctx, alice, 100)
	if err != nil {
		t.Fatalf("restake: %v", err)
	}
	if acct.Owed != 50 {
		t.Fatalf("expected 50 owed after restake, got %+v", acct)
	}
	if _, err := f.pool.Unstake(ctx, alice, 200); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	got, err := f.pool.ClaimRewards(ctx, alice)
	if err != nil || got != 50 {
		t.Fatalf("claimed %d (%v)", got, err)
	}
	if bal := f.balance(alice); bal != 250 {
		t.Fatalf("alice ends with %d", bal)
	}
}

func TestUnstakeRejectsExcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, alice, 100)
	if _, err := f.pool.Unstake(ctx, alice, 1); !errors.Is(err, errs.ErrInsufficientStake) {
		t.Fatalf("expected InsufficientStake without account, got %v", err)
	}
	if _, err := f.pool.Stake(ctx, alice, 100); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := f.pool.Unstake(ctx, alice, 101); !errors.Is(err, errs.ErrInsufficientStake) {
		t.Fatalf("expected InsufficientStake, got %v", err)
	}
	if _, err := f.pool.Stake(ctx, alice, 0); !errors.Is(err, errs.ErrZeroAmount) {
		t.Fatalf("expected ZeroAmount, got %v", err)
	}
	if snap := f.pool.Snapshot(); snap.TotalStaked != 100 {
		t.Fatalf("total staked %d", snap.TotalStaked)
	}
}

func TestFailedFirstStakeLeavesNoAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.pool.Stake(ctx, alice, 1_000); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
	if _, ok := f.pool.Account(alice); ok {
		t.Fatalf("failed stake registered an account")
	}
	if n := len(f.pool.Accounts()); n != 0 {
		t.Fatalf("expected no accounts, got %d", n)
	}
	if snap := f.pool.Snapshot(); snap.TotalStaked != 0 {
		t.Fatalf("failed stake changed state: %+v", snap)
	}
	if len(f.sink.Named(model.EventStaked)) != 0 {
		t.Fatalf("failed stake emitted an event")
	}

	f.fund(t, alice, 1_000)
	if _, err := f.pool.Stake(ctx, alice, 1_000); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if n := len(f.pool.Accounts()); n != 1 {
		t.Fatalf("expected one account, got %d", n)
	}
	// a failed top-up keeps the existing account unchanged
	if _, err := f.pool.Stake(ctx, alice, 1); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
	if acct, ok := f.pool.Account(alice); !ok || acct.Amount != 1_000 {
		t.Fatalf("unexpected account after failed top-up: %+v", acct)
	}
}

func TestConcurrentFirstStakesShareOneAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, alice, 800)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.pool.Stake(ctx, alice, 100)
		}()
	}
	wg.Wait()
	acct, ok := f.pool.Account(alice)
	if !ok || acct.Amount != 800 {
		t.Fatalf("expected one account holding 800, got %+v", acct)
	}
	if n := len(f.pool.Accounts()); n != 1 {
		t.Fatalf("expected one account, got %d", n)
	}
}

func TestSyncRequiresAuthority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.pool.SyncRewards(ctx, alice, 10); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	f.fund(t, alice, 10)
	if _, err := f.pool.DepositRewards(ctx, alice, 10); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if f.balance(alice) != 10 {
		t.Fatalf("rejected deposit moved funds")
	}
}

func TestDepositFailureMovesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.pool.DepositRewards(ctx, authority, 10); !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
	if snap := f.pool.Snapshot(); snap.Undistributed != 0 {
		t.Fatalf("failed deposit changed state: %+v", snap)
	}
}

func TestClaimsNeverExceedRewards(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		f := newFixture(t)
		stake := rapid.Uint64Range(1, 1<<40).Draw(t, "stake")
		f.fund(t, alice, stake)
		if _, err := f.pool.Stake(ctx, alice, stake); err != nil {
			t.Fatalf("stake: %v", err)
		}

		var rewards, claimed, claims uint64
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "claim") {
				got, err := f.pool.ClaimRewards(ctx, alice)
				if err != nil {
					t.Fatalf("claim: %v", err)
				}
				claimed += got
				claims++
				continue
			}
			amount := rapid.Uint64Range(1, 1<<32).Draw(t, "reward")
			f.fund(t, authority, amount)
			if _, err := f.pool.DepositRewards(ctx, authority, amount); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			rewards += amount
		}
		got, err := f.pool.ClaimRewards(ctx, alice)
		if err != nil {
			t.Fatalf("final claim: %v", err)
		}
		claimed += got
		claims++

		if claimed > rewards {
			t.Fatalf("claimed %d of %d rewards", claimed, rewards)
		}
		if rewards-claimed > claims {
			t.Fatalf("lost %d to rounding over %d claims", rewards-claimed, claims)
		}
		if f.balance(f.pool.RewardsVault()) != rewards-claimed {
			t.Fatalf("rewards vault out of balance")
		}
	})
}
