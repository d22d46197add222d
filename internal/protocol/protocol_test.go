package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/convert"
	"pudl/internal/dex"
	"pudl/internal/errs"
	"pudl/internal/events"
	"pudl/internal/keys"
	"pudl/internal/ledger"
	"pudl/internal/model"
	"pudl/internal/treasury"
)

var (
	solMint   = common.HexToAddress("0x00000000000000000000000000000000000005a1")
	usdcMint  = common.HexToAddress("0x000000000000000000000000000000000000c0c0")
	pudlMint  = common.HexToAddress("0x000000000000000000000000000000000000bd01")
	admin     = common.HexToAddress("0x000000000000000000000000000000000000ad00")
	opsWallet = common.HexToAddress("0x0000000000000000000000000000000000000095")
	desk      = common.HexToAddress("0x000000000000000000000000000000000000de5c")
	creator   = common.HexToAddress("0x00000000000000000000000000000000000c0001")
	poolAuth  = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a1c00")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000b0b00")
	trader    = common.HexToAddress("0x0000000000000000000000000000000000070ade")
)

type fixture struct {
	proto  *Protocol
	ledger *ledger.Memory
	sink   *events.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := ledger.NewMemory()
	sink := events.NewMemorySink()
	proto, err := New(Config{
		Authority:  admin,
		PudlMint:   pudlMint,
		OpsWallet:  opsWallet,
		Split:      treasury.DefaultSplit,
		BuybackBps: treasury.DefaultBuybackBps,
		BondAmount: 500,
	}, Options{
		Ledger:    mem,
		Sink:      sink,
		Clock:     func() time.Time { return time.Unix(1700000000, 0) },
		Converter: &convert.FixedRate{Ledger: mem, Desk: desk, Num: 2, Den: 1},
	})
	if err != nil {
		t.Fatalf("new protocol: %v", err)
	}
	return &fixture{proto: proto, ledger: mem, sink: sink}
}

func (f *fixture) mint(t *testing.T, mint, owner common.Address, amount uint64) {
	t.Helper()
	if err := f.ledger.Mint(mint, owner, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, mint, owner common.Address) uint64 {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), mint, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func solUsdc() dex.Params {
	return dex.Params{
		BaseMint:       solMint,
		QuoteMint:      usdcMint,
		Authority:      poolAuth,
		BaseFeeBps:     30,
		ProtocolFeeBps: 1000,
		BinStep:        10,
	}
}

func TestInitializePoolEscrowsBondOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mint(t, pudlMint, creator, 1_000)

	pool, err := f.proto.InitializePool(ctx, creator, solUsdc())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if pool.Key() != keys.Pool(solMint, usdcMint, 10) {
		t.Fatalf("pool key mismatch")
	}
	if got := f.balance(t, pudlMint, keys.BondVault(pool.Key())); got != 500 {
		t.Fatalf("bond vault: %d", got)
	}
	if n := len(f.sink.Named(model.EventPoolInitialized)); n != 1 {
		t.Fatalf("pool_initialized events: %d", n)
	}

	_, err = f.proto.InitializePool(ctx, creator, solUsdc())
	if !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if got := f.balance(t, pudlMint, creator); got != 500 {
		t.Fatalf("second bond charged: creator has %d", got)
	}
}

func TestInitializePoolRejectsWithoutBond(t *testing.T) {
	f := newFixture(t)
	_, err := f.proto.InitializePool(context.Background(), creator, solUsdc())
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := f.proto.Pool(keys.Pool(solMint, usdcMint, 10)); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("pool registered without bond: %v", err)
	}
}

func TestInitializePoolFeeRange(t *testing.T) {
	mem := ledger.NewMemory()
	proto, err := New(Config{Authority: admin, PudlMint: pudlMint, Split: treasury.DefaultSplit, MinBaseFeeBps: 10, MaxBaseFeeBps: 100}, Options{Ledger: mem})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	params := solUsdc()
	params.BaseFeeBps = 101
	if _, err := proto.InitializePool(context.Background(), creator, params); !errors.Is(err, errs.ErrInvalidFee) {
		t.Fatalf("expected invalid fee, got %v", err)
	}
}

func TestFeesFlowToStakers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mint(t, pudlMint, creator, 500)
	f.mint(t, solMint, alice, 1_000_000)
	f.mint(t, usdcMint, alice, 1_000_000)
	f.mint(t, solMint, trader, 1_000_000)
	f.mint(t, pudlMint, desk, 10_000)
	f.mint(t, pudlMint, bob, 1_000_000_000)

	pool, err := f.proto.InitializePool(ctx, creator, solUsdc())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := pool.AddLiquidity(ctx, alice, 0, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	if _, err := f.proto.Staking().Stake(ctx, bob, 1_000_000_000); err != nil {
		t.Fatalf("stake: %v", err)
	}

	res, err := pool.SwapExactIn(ctx, trader, 1_000_000, 0, dex.BaseToQuote)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if res.FeeAmount != 3_000 || res.ProtocolFee != 300 || res.AmountAfterFee != 997_000 {
		t.Fatalf("fee breakdown mismatch: %+v", res.Quote)
	}

	base, quote, err := f.proto.RouteProtocolFees(ctx, pool.Key(), poolAuth)
	if err != nil {
		t.Fatalf("route fees: %v", err)
	}
	if base != 300 || quote != 0 {
		t.Fatalf("routed %d/%d", base, quote)
	}
	if got := f.balance(t, solMint, f.proto.Treasury().FeeVault()); got != 300 {
		t.Fatalf("fee vault: %d", got)
	}

	h, err := f.proto.Treasury().HarvestAndConvert(ctx, solMint)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if h.PudlOut != 600 || h.Burned != 180 || h.ToStakers != 300 || h.ToOps != 120 {
		t.Fatalf("harvest mismatch: %+v", h)
	}

	claimed, err := f.proto.Staking().ClaimRewards(ctx, bob)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed < 299 || claimed > 300 {
		t.Fatalf("claimed %d, want 300 within truncation", claimed)
	}

	again, err := f.proto.Treasury().HarvestAndConvert(ctx, solMint)
	if err != nil {
		t.Fatalf("second harvest: %v", err)
	}
	if again.TotalIn != 0 {
		t.Fatalf("second harvest moved funds: %+v", again)
	}
	if n := len(f.sink.Named(model.EventHarvested)); n != 1 {
		t.Fatalf("harvested events: %d", n)
	}
	if err := f.proto.CheckVaults(ctx); err != nil {
		t.Fatalf("vault invariant: %v", err)
	}
}

func TestClosePoolRefundsBond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mint(t, pudlMint, creator, 500)
	pool, err := f.proto.InitializePool(ctx, creator, solUsdc())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := pool.Close(ctx, poolAuth); !errors.Is(err, errs.ErrPoolStillActive) {
		t.Fatalf("expected still active, got %v", err)
	}
	if err := pool.Deactivate(ctx, poolAuth); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	refunded, err := pool.Close(ctx, poolAuth)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if refunded != 500 || f.balance(t, pudlMint, creator) != 500 {
		t.Fatalf("bond not refunded: %d", refunded)
	}
}

func TestRouteConversionThroughPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mint(t, pudlMint, creator, 500)
	f.mint(t, pudlMint, alice, 1_000_000)

	pool, err := f.proto.InitializePool(ctx, creator, dex.Params{
		BaseMint:   usdcMint,
		QuoteMint:  pudlMint,
		Authority:  poolAuth,
		BaseFeeBps: 0,
		BinStep:    10,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := pool.AddLiquidity(ctx, alice, 0, 0, 1_000_000); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	if err := f.proto.RouteConversion(alice, usdcMint, pool.Key(), 100); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.proto.RouteConversion(admin, solMint, pool.Key(), 100); !errors.Is(err, errs.ErrInvalidMint) {
		t.Fatalf("expected invalid mint, got %v", err)
	}
	if err := f.proto.RouteConversion(admin, usdcMint, pool.Key(), 100); err != nil {
		t.Fatalf("route: %v", err)
	}

	f.mint(t, usdcMint, poolAuth, 1_000)
	if err := f.proto.Treasury().RecordFee(ctx, poolAuth, usdcMint, 1_000); err != nil {
		t.Fatalf("record fee: %v", err)
	}
	h, err := f.proto.Treasury().HarvestAndConvert(ctx, usdcMint)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if h.PudlOut != 1_000 {
		t.Fatalf("converted through pool: %+v", h)
	}
	// nobody staked, so the staker share is escrowed
	if st := f.proto.Staking().Snapshot(); st.Undistributed != h.ToStakers {
		t.Fatalf("undistributed %d, want %d", st.Undistributed, h.ToStakers)
	}
}

func TestStateListsEveryRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mint(t, pudlMint, creator, 500)
	f.mint(t, solMint, alice, 10)
	pool, err := f.proto.InitializePool(ctx, creator, solUsdc())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := pool.AddLiquidity(ctx, alice, 0, 10, 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	st := f.proto.State()
	if len(st.Pools) != 1 || len(st.Positions) != 1 || len(st.Bins[pool.Key().Hex()]) != 1 {
		t.Fatalf("state mismatch: %+v", st)
	}
	if st.Treasury.BurnBps != 3_000 {
		t.Fatalf("treasury snapshot: %+v", st.Treasury)
	}
}
