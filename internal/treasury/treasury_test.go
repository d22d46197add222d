package treasury

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/errs"
	"pudl/internal/events"
	"pudl/internal/keys"
	"pudl/internal/ledger"
	"pudl/internal/model"
)

var (
	pudlMint  = common.HexToAddress("0x000000000000000000000000000000000000d001")
	usdcMint  = common.HexToAddress("0x000000000000000000000000000000000000c001")
	authority = common.HexToAddress("0x00000000000000000000000000000000000a0001")
	poolAuth  = common.HexToAddress("0x00000000000000000000000000000000000a0002")
	opsWallet = common.HexToAddress("0x000000000000000000000000000000000000095a")
	reserve   = common.HexToAddress("0x00000000000000000000000000000000000e5e00")
	stranger  = common.HexToAddress("0x0000000000000000000000000000000000051a00")
)

// doubler pays two protocol tokens per fee token out of a reserve.
type doubler struct {
	ledger *ledger.Memory
	calls  int
}

func (d *doubler) Convert(ctx context.Context, req ConvertRequest) (uint64, error) {
	d.calls++
	out := req.AmountIn * 2
	if err := d.ledger.Transfer(ctx, ledger.Transfer{Mint: req.FromMint, From: req.Owner, To: reserve, Authority: req.Owner, Amount: req.AmountIn}); err != nil {
		return 0, err
	}
	if err := d.ledger.Transfer(ctx, ledger.Transfer{Mint: req.ToMint, From: reserve, To: req.Owner, Authority: reserve, Amount: out}); err != nil {
		return 0, err
	}
	return out, nil
}

type recordingNotifier struct {
	synced []uint64
	err    error
}

func (n *recordingNotifier) SyncRewards(_ context.Context, caller common.Address, amount uint64) (model.RewardsSynced, error) {
	if n.err != nil {
		return model.RewardsSynced{}, n.err
	}
	if caller != authority {
		return model.RewardsSynced{}, errs.ErrUnauthorized
	}
	n.synced = append(n.synced, amount)
	return model.RewardsSynced{NewRewards: amount}, nil
}

type fixture struct {
	treasury  *Treasury
	ledger    *ledger.Memory
	sink      *events.MemorySink
	converter *doubler
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := ledger.NewMemory()
	sink := events.NewMemorySink()
	conv := &doubler{ledger: mem}
	notifier := &recordingNotifier{}
	tr, err := New(Params{
		Authority:  authority,
		PudlMint:   pudlMint,
		OpsWallet:  opsWallet,
		BuybackBps: DefaultBuybackBps,
	}, Options{
		Ledger:    mem,
		Converter: conv,
		Notifier:  notifier,
		Emitter:   events.NewEmitter(sink, func() time.Time { return time.Unix(1700000000, 0) }, nil),
	})
	if err != nil {
		t.Fatalf("new treasury: %v", err)
	}
	if err := mem.Mint(pudlMint, reserve, 1<<40); err != nil {
		t.Fatalf("mint reserve: %v", err)
	}
	return &fixture{treasury: tr, ledger: mem, sink: sink, converter: conv, notifier: notifier}
}

func (f *fixture) balance(mint, owner common.Address) uint64 {
	bal, _ := f.ledger.BalanceOf(context.Background(), mint, owner)
	return bal
}

func (f *fixture) recordFee(t *testing.T, mint common.Address, amount uint64) {
	t.Helper()
	if err := f.ledger.Mint(mint, poolAuth, amount); err != nil {
		t.Fatalf("mint fee: %v", err)
	}
	if err := f.treasury.RecordFee(context.Background(), poolAuth, mint, amount); err != nil {
		t.Fatalf("record fee: %v", err)
	}
}

func TestSplitValidate(t *testing.T) {
	if err := DefaultSplit.Validate(); err != nil {
		t.Fatalf("default split: %v", err)
	}
	for _, s := range []Split{{}, {BurnBps: 5_000, StakerBps: 5_000, OpsBps: 1}, {BurnBps: 10_000, StakerBps: 10_000}} {
		if err := s.Validate(); !errors.Is(err, errs.ErrInvalidSplit) {
			t.Fatalf("split %+v: expected InvalidSplit, got %v", s, err)
		}
	}
}

func TestRecordFee(t *testing.T) {
	f := newFixture(t)
	f.recordFee(t, usdcMint, 1_000)
	f.recordFee(t, pudlMint, 50)

	if got := f.balance(usdcMint, f.treasury.FeeVault()); got != 1_000 {
		t.Fatalf("fee vault holds %d", got)
	}
	if snap := f.treasury.Snapshot(); snap.TotalFeesCollected != 1_050 {
		t.Fatalf("total fees %d", snap.TotalFeesCollected)
	}
	recs := f.sink.Named(model.EventFeeRecorded)
	if len(recs) != 2 {
		t.Fatalf("expected 2 fee events, got %d", len(recs))
	}
	var ev model.FeeRecorded
	if err := recs[0].Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Pool != poolAuth.Hex() || ev.Mint != usdcMint.Hex() || ev.Amount != 1_000 || ev.Timestamp != 1700000000 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if err := f.treasury.RecordFee(context.Background(), poolAuth, usdcMint, 0); !errors.Is(err, errs.ErrZeroAmount) {
		t.Fatalf("expected ZeroAmount, got %v", err)
	}
}

func TestHarvestSplitsConvertedTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordFee(t, usdcMint, 1_000)

	res, err := f.treasury.HarvestAndConvert(ctx, usdcMint)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	want := Harvest{FeeMint: usdcMint, TotalIn: 1_000, Converted: 1_000, PudlOut: 2_000, Burned: 600, ToStakers: 1_000, ToOps: 400}
	if res != want {
		t.Fatalf("harvest = %+v, want %+v", res, want)
	}
	if got := f.balance(pudlMint, keys.BurnAddress); got != 600 {
		t.Fatalf("burned %d", got)
	}
	if got := f.balance(pudlMint, keys.RewardsVault()); got != 1_000 {
		t.Fatalf("rewards vault %d", got)
	}
	if got := f.balance(pudlMint, opsWallet); got != 400 {
		t.Fatalf("ops %d", got)
	}
	if len(f.notifier.synced) != 1 || f.notifier.synced[0] != 1_000 {
		t.Fatalf("notifier saw %v", f.notifier.synced)
	}
	if snap := f.treasury.Snapshot(); snap.TotalPudlBurned != 600 || snap.LastHarvestAt != 1700000000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	again, err := f.treasury.HarvestAndConvert(ctx, usdcMint)
	if err != nil {
		t.Fatalf("second harvest: %v", err)
	}
	if again.TotalIn != 0 || f.converter.calls != 1 {
		t.Fatalf("second harvest was not a no-op: %+v", again)
	}
	if n := len(f.sink.Named(model.EventHarvested)); n != 1 {
		t.Fatalf("expected 1 harvest event, got %d", n)
	}
}

func TestHarvestRoundingDustGoesToOps(t *testing.T) {
	f := newFixture(t)
	f.recordFee(t, pudlMint, 7)

	res, err := f.treasury.HarvestAndConvert(context.Background(), pudlMint)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if res.Burned != 2 || res.ToStakers != 3 || res.ToOps != 2 {
		t.Fatalf("unexpected split of 7: %+v", res)
	}
	if f.converter.calls != 0 {
		t.Fatalf("protocol token should not be converted")
	}
}

func TestHarvestForwardsUnconvertedShare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.treasury.SetBuyback(ctx, authority, 2_500); err != nil {
		t.Fatalf("set buyback: %v", err)
	}
	f.recordFee(t, usdcMint, 1_000)

	res, err := f.treasury.HarvestAndConvert(ctx, usdcMint)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if res.Converted != 250 || res.Forwarded != 750 || res.PudlOut != 500 {
		t.Fatalf("unexpected harvest: %+v", res)
	}
	if got := f.balance(usdcMint, opsWallet); got != 750 {
		t.Fatalf("ops received %d fee tokens", got)
	}
	if got := f.balance(usdcMint, f.treasury.FeeVault()); got != 0 {
		t.Fatalf("fee vault kept %d", got)
	}
}

func TestHarvestNotifierFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("staking offline")
	f.recordFee(t, pudlMint, 100)

	if _, err := f.treasury.HarvestAndConvert(context.Background(), pudlMint); err == nil {
		t.Fatalf("expected harvest to fail")
	}
	if got := f.balance(pudlMint, f.treasury.FeeVault()); got != 100 {
		t.Fatalf("fee vault holds %d after rollback", got)
	}
	if got := f.balance(pudlMint, keys.BurnAddress); got != 0 {
		t.Fatalf("burn not rolled back: %d", got)
	}
	if snap := f.treasury.Snapshot(); snap.TotalPudlBurned != 0 || snap.LastHarvestAt != 0 {
		t.Fatalf("failed harvest changed state: %+v", snap)
	}
}

func TestFailedHarvestKeepsConvertedTokensInVault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.err = errors.New("staking offline")
	f.recordFee(t, usdcMint, 100)

	if _, err := f.treasury.HarvestAndConvert(ctx, usdcMint); err == nil {
		t.Fatalf("expected harvest to fail")
	}
	// the conversion is not undone
	if got := f.balance(usdcMint, f.treasury.FeeVault()); got != 0 {
		t.Fatalf("fee vault still holds %d usdc", got)
	}
	if got := f.balance(pudlMint, f.treasury.FeeVault()); got != 200 {
		t.Fatalf("fee vault holds %d pudl, want 200", got)
	}
	if len(f.sink.Named(model.EventHarvested)) != 0 {
		t.Fatalf("failed harvest emitted an event")
	}

	f.notifier.err = nil
	res, err := f.treasury.HarvestAndConvert(ctx, pudlMint)
	if err != nil {
		t.Fatalf("harvest pudl: %v", err)
	}
	if res.PudlOut != 200 || res.Burned != 60 || res.ToStakers != 100 || res.ToOps != 40 {
		t.Fatalf("unexpected harvest: %+v", res)
	}
	if f.converter.calls != 1 {
		t.Fatalf("protocol token must not be converted again, calls %d", f.converter.calls)
	}
}

func TestHarvestWithoutConverter(t *testing.T) {
	mem := ledger.NewMemory()
	tr, err := New(Params{Authority: authority, PudlMint: pudlMint, OpsWallet: opsWallet, BuybackBps: DefaultBuybackBps}, Options{Ledger: mem})
	if err != nil {
		t.Fatalf("new treasury: %v", err)
	}
	if err := mem.Mint(usdcMint, tr.FeeVault(), 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := tr.HarvestAndConvert(context.Background(), usdcMint); err == nil {
		t.Fatalf("expected missing converter error")
	}
	if bal, _ := mem.BalanceOf(context.Background(), usdcMint, tr.FeeVault()); bal != 10 {
		t.Fatalf("fee vault holds %d", bal)
	}
}

func TestSetSplit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.treasury.SetSplit(ctx, authority, Split{BurnBps: 3_000, StakerBps: 3_000, OpsBps: 3_000}); !errors.Is(err, errs.ErrInvalidSplit) {
		t.Fatalf("expected InvalidSplit, got %v", err)
	}
	if got := f.treasury.Params().Split; got != DefaultSplit {
		t.Fatalf("invalid split replaced %+v", got)
	}
	if err := f.treasury.SetSplit(ctx, stranger, Split{BurnBps: 10_000}); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	next := Split{BurnBps: 10_000}
	if err := f.treasury.SetSplit(ctx, authority, next); err != nil {
		t.Fatalf("set split: %v", err)
	}
	f.recordFee(t, pudlMint, 9)
	res, err := f.treasury.HarvestAndConvert(ctx, pudlMint)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if res.Burned != 9 || res.ToStakers != 0 || len(f.notifier.synced) != 0 {
		t.Fatalf("unexpected harvest under full burn: %+v", res)
	}
	if n := len(f.sink.Named(model.EventSplitUpdated)); n != 1 {
		t.Fatalf("expected 1 split event, got %d", n)
	}
}

func TestSetBuybackBounds(t *testing.T) {
	f := newFixture(t)
	if err := f.treasury.SetBuyback(context.Background(), authority, 10_001); !errors.Is(err, errs.ErrInvalidBps) {
		t.Fatalf("expected InvalidBps, got %v", err)
	}
	if got := f.treasury.Params().BuybackBps; got != DefaultBuybackBps {
		t.Fatalf("buyback changed to %d", got)
	}
}
