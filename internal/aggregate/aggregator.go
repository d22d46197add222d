package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pudl/internal/model"
	"pudl/internal/storage"
)

const tvlMethodVault = "vault_replay"

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	// RecomputeFrom overrides the cursor: swaps at or after it are recounted.
	RecomputeFrom uint64
	Cursor        Cursor
	// Decimals maps mints to display decimals. Unknown mints stay raw.
	Decimals map[common.Address]uint8
}

type runCounts struct {
	lines   int
	windows int
	skipped int
	failed  int
}

// Aggregator folds protocol events into per-pool window metrics.
type Aggregator struct {
	cfg      Config
	sink     storage.MetricsStorage
	logger   *zap.Logger
	decimals decimalTable
	vaults   *VaultTracker
	pools    map[string]PoolMeta
	open     map[string]*Accumulator
	pending  []model.PoolWindowMetrics

	resumeAfter uint64
	lastSwapTs  uint64
	counts      runCounts
}

func NewAggregator(cfg Config, sink storage.MetricsStorage, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Aggregator{
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
		decimals: decimalTable(cfg.Decimals),
		vaults:   NewVaultTracker(),
		pools:    make(map[string]PoolMeta),
		open:     make(map[string]*Accumulator),
	}
}

// Run aggregates the events JSONL file at inputPath.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return a.Consume(ctx, file)
}

// Consume reads events JSONL from r and writes every window it closes.
// Events at or before the resume point still move vault balances but open
// no windows. Undecodable lines are counted and skipped.
func (a *Aggregator) Consume(ctx context.Context, r io.Reader) error {
	if a.sink == nil {
		return fmt.Errorf("metrics sink is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}

	after, err := a.resumePoint(ctx)
	if err != nil {
		return err
	}
	a.resumeAfter, a.lastSwapTs = after, after

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		a.counts.lines++

		var rec model.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			a.counts.failed++
			a.logger.Warn("decode event", zap.Int("line", a.counts.lines), zap.Error(err))
			continue
		}
		if err := a.fold(rec); err != nil {
			a.counts.failed++
			a.logger.Warn("skip event", zap.Uint64("seq", rec.Seq), zap.String("event", rec.Name), zap.String("entity", rec.Entity), zap.Error(err))
			continue
		}
		if len(a.pending) >= a.cfg.BatchSize {
			if err := a.writePending(ctx); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events: %w", err)
	}

	open := make([]string, 0, len(a.open))
	for pool := range a.open {
		open = append(open, pool)
	}
	sort.Strings(open)
	for _, pool := range open {
		a.close(a.open[pool])
	}
	if err := a.writePending(ctx); err != nil {
		return err
	}

	a.logger.Info("stats complete",
		zap.Int("lines", a.counts.lines),
		zap.Int("windows", a.counts.windows),
		zap.Int("skipped", a.counts.skipped),
		zap.Int("failed", a.counts.failed),
		zap.Uint64("last_swap_ts", a.lastSwapTs),
	)
	return nil
}

// fold applies one event. A pool's open window closes on the first event
// of that pool in a later window, before the event moves the vault.
func (a *Aggregator) fold(rec model.EventRecord) error {
	if rec.Timestamp < 0 {
		return fmt.Errorf("negative timestamp %d", rec.Timestamp)
	}
	if rec.Name == model.EventPoolInitialized {
		return a.registerPool(rec)
	}
	meta, ok := a.pools[rec.Entity]
	if !ok {
		// treasury and staking events carry no pool flows
		return nil
	}

	ts := uint64(rec.Timestamp)
	start := windowStart(ts, a.cfg.WindowSeconds)
	if acc := a.open[rec.Entity]; acc != nil && acc.WindowStart != start {
		a.close(acc)
	}
	if err := a.vaults.Apply(rec.Entity, meta, rec); err != nil {
		return fmt.Errorf("vault replay: %w", err)
	}

	if rec.Name != model.EventSwapExecuted {
		return nil
	}
	if ts <= a.resumeAfter {
		a.counts.skipped++
		return nil
	}
	acc := a.open[rec.Entity]
	if acc == nil {
		acc = NewAccumulator(rec.Entity, meta, start, start+a.cfg.WindowSeconds)
		a.open[rec.Entity] = acc
	}
	if err := acc.AddEvent(rec); err != nil {
		return err
	}
	if ts > a.lastSwapTs {
		a.lastSwapTs = ts
	}
	return nil
}

func (a *Aggregator) registerPool(rec model.EventRecord) error {
	var init model.PoolInitialized
	if err := rec.Decode(&init); err != nil {
		return err
	}
	a.pools[rec.Entity] = PoolMeta{
		BaseMint:   init.BaseMint,
		QuoteMint:  init.QuoteMint,
		BaseFeeBps: init.BaseFeeBps,
		BinStep:    init.BinStep,
	}
	return nil
}

func (a *Aggregator) close(acc *Accumulator) {
	a.pending = append(a.pending, a.windowMetrics(acc))
	a.counts.windows++
	delete(a.open, acc.Pool)
}

// writePending stores closed windows, then advances the cursor.
func (a *Aggregator) writePending(ctx context.Context) error {
	if len(a.pending) > 0 {
		if err := a.sink.UpsertWindowMetrics(ctx, a.pending); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		a.pending = a.pending[:0]
	}
	if a.cfg.Cursor == nil {
		return nil
	}
	return a.cfg.Cursor.Save(ctx, a.cursorValue())
}

// cursorValue is the newest timestamp whose swaps all sit in written
// windows: just before the oldest open window, or the last swap seen.
func (a *Aggregator) cursorValue() uint64 {
	var oldest uint64
	found := false
	for _, acc := range a.open {
		if !found || acc.WindowStart < oldest {
			oldest, found = acc.WindowStart, true
		}
	}
	switch {
	case !found:
		return a.lastSwapTs
	case oldest == 0:
		return 0
	default:
		return oldest - 1
	}
}

func (a *Aggregator) resumePoint(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.Cursor == nil {
		return 0, nil
	}
	last, _, err := a.cfg.Cursor.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return last, nil
}

func (a *Aggregator) windowMetrics(acc *Accumulator) model.PoolWindowMetrics {
	baseDec := a.decimals.of(acc.Meta.BaseMint)
	quoteDec := a.decimals.of(acc.Meta.QuoteMint)

	m := model.PoolWindowMetrics{
		Pool:             acc.Pool,
		WindowSizeSecs:   int64(a.cfg.WindowSeconds),
		WindowStart:      time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:        time.Unix(int64(acc.WindowEnd), 0).UTC(),
		SwapCount:        acc.SwapCount,
		VolumeBase:       formatTokenAmount(acc.VolumeBase, baseDec),
		VolumeQuote:      formatTokenAmount(acc.VolumeQuote, quoteDec),
		FeeBase:          formatTokenAmount(acc.FeeBase, baseDec),
		FeeQuote:         formatTokenAmount(acc.FeeQuote, quoteDec),
		ProtocolFeeBase:  formatTokenAmount(acc.ProtocolFeeBase, baseDec),
		ProtocolFeeQuote: formatTokenAmount(acc.ProtocolFeeQuote, quoteDec),
		LastActiveBinID:  acc.LastActiveBinID,
		TVLMethod:        tvlMethodVault,
	}

	var tvlBase, tvlQuote *big.Int
	if base, quote, ok := a.vaults.Balances(acc.Pool); ok {
		tvlBase, tvlQuote = base, quote
		b, q := formatTokenAmount(base, baseDec), formatTokenAmount(quote, quoteDec)
		m.TVLBase, m.TVLQuote = &b, &q
	}
	m.FeeRateBase, m.FeeRateQuote = computeFeeRates(acc.FeeBase, acc.FeeQuote, tvlBase, tvlQuote)
	m.APR = computeAPR(m.FeeRateBase, m.FeeRateQuote, a.cfg.WindowSeconds)
	return m
}

func windowStart(ts, size uint64) uint64 {
	return ts - ts%size
}
