// Package protocol assembles one deployment: keyed pools, the treasury and
// staking singletons, and the collaborators they share.
package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pudl/internal/convert"
	"pudl/internal/dex"
	"pudl/internal/errs"
	"pudl/internal/events"
	"pudl/internal/gate"
	"pudl/internal/keys"
	"pudl/internal/ledger"
	"pudl/internal/model"
	"pudl/internal/staking"
	"pudl/internal/store"
	"pudl/internal/treasury"
)

// Config holds deployment-wide parameters.
type Config struct {
	// Authority governs the treasury and syncs staking rewards.
	Authority    common.Address
	PudlMint     common.Address
	OpsWallet    common.Address
	Split        treasury.Split
	BuybackBps   uint16
	TierDecimals uint8

	// BondMint defaults to PudlMint. A zero BondAmount disables bonding.
	BondMint   common.Address
	BondAmount uint64

	// Allowed base fee range for new pools. A zero MaxBaseFeeBps means 10000.
	MinBaseFeeBps uint16
	MaxBaseFeeBps uint16
}

// Options are the collaborators shared by every component. Ledger is required.
type Options struct {
	Ledger ledger.Ledger
	Sink   events.Sink
	Clock  events.Clock
	Gate   gate.Gate
	// Converter handles fee mints without a registered pool route.
	Converter treasury.SwapConverter
	Logger    *zap.Logger
}

// Protocol is safe for concurrent use. Operations on different pools never
// contend; the treasury and staking singletons each serialize on their own lock.
type Protocol struct {
	cfg     Config
	ledger  ledger.Ledger
	emitter *events.Emitter
	gate    gate.Gate
	logger  *zap.Logger

	pools    *store.Registry[*dex.Pool]
	treasury *treasury.Treasury
	staking  *staking.Pool

	mu       sync.Mutex
	bonds    map[common.Hash]uint64
	routes   convert.ByMint
	fallback treasury.SwapConverter
}

func New(cfg Config, opts Options) (*Protocol, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if opts.Gate == nil {
		opts.Gate = gate.AllowAll{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if cfg.BondMint == (common.Address{}) {
		cfg.BondMint = cfg.PudlMint
	}
	if cfg.MaxBaseFeeBps == 0 {
		cfg.MaxBaseFeeBps = 10_000
	}
	if cfg.MinBaseFeeBps > cfg.MaxBaseFeeBps {
		return nil, errs.Wrapf(errs.ErrInvalidFee, "fee range [%d, %d]", cfg.MinBaseFeeBps, cfg.MaxBaseFeeBps)
	}

	p := &Protocol{
		cfg:      cfg,
		ledger:   opts.Ledger,
		emitter:  events.NewEmitter(opts.Sink, opts.Clock, opts.Logger),
		gate:     opts.Gate,
		logger:   opts.Logger,
		pools:    store.NewRegistry[*dex.Pool](),
		bonds:    make(map[common.Hash]uint64),
		routes:   convert.ByMint{},
		fallback: opts.Converter,
	}

	var err error
	p.staking, err = staking.New(staking.Params{
		Authority:    cfg.Authority,
		PudlMint:     cfg.PudlMint,
		TierDecimals: cfg.TierDecimals,
	}, staking.Options{Ledger: p.ledger, Emitter: p.emitter, Gate: p.gate, Logger: p.logger})
	if err != nil {
		return nil, fmt.Errorf("staking: %w", err)
	}
	p.treasury, err = treasury.New(treasury.Params{
		Authority:    cfg.Authority,
		PudlMint:     cfg.PudlMint,
		OpsWallet:    cfg.OpsWallet,
		RewardsVault: p.staking.RewardsVault(),
		Split:        cfg.Split,
		BuybackBps:   cfg.BuybackBps,
	}, treasury.Options{
		Ledger:    p.ledger,
		Converter: converterFunc(p.convert),
		Notifier:  p.staking,
		Emitter:   p.emitter,
		Gate:      p.gate,
		Logger:    p.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("treasury: %w", err)
	}
	return p, nil
}

func (p *Protocol) Treasury() *treasury.Treasury { return p.treasury }

func (p *Protocol) Staking() *staking.Pool { return p.staking }

func (p *Protocol) Config() Config { return p.cfg }

// Pool looks up a pool by key.
func (p *Protocol) Pool(key common.Hash) (*dex.Pool, error) {
	return p.pools.Get(key)
}

// PoolKeys lists every pool key in ascending order.
func (p *Protocol) PoolKeys() []common.Hash {
	return p.pools.Keys()
}

// InitializePool creates the pool keyed by base mint, quote mint and bin
// step, escrowing the creator's bond. A key can be initialized once.
func (p *Protocol) InitializePool(ctx context.Context, creator common.Address, params dex.Params) (*dex.Pool, error) {
	params.Creator = creator
	pool, bond, err := p.initializePool(ctx, params)
	if err != nil {
		p.logger.Debug("initialize pool rejected", zap.Stringer("creator", creator), zap.Error(err))
		return nil, err
	}

	key := pool.Key()
	p.logger.Info("pool initialized",
		zap.String("pool", key.Hex()),
		zap.Stringer("base_mint", params.BaseMint),
		zap.Stringer("quote_mint", params.QuoteMint),
		zap.Uint16("bin_step", params.BinStep),
		zap.Uint64("bond", bond),
	)
	p.emitter.Emit(ctx, model.EventPoolInitialized, key.Hex(), model.PoolInitialized{
		Pool:           key.Hex(),
		BaseMint:       params.BaseMint.Hex(),
		QuoteMint:      params.QuoteMint.Hex(),
		Creator:        creator.Hex(),
		Authority:      params.Authority.Hex(),
		BaseFeeBps:     params.BaseFeeBps,
		ProtocolFeeBps: params.ProtocolFeeBps,
		BinStep:        params.BinStep,
		ActiveBinID:    params.ActiveBinID,
	})
	return pool, nil
}

func (p *Protocol) initializePool(ctx context.Context, params dex.Params) (*dex.Pool, uint64, error) {
	if params.BaseFeeBps < p.cfg.MinBaseFeeBps || params.BaseFeeBps > p.cfg.MaxBaseFeeBps {
		return nil, 0, errs.Wrapf(errs.ErrInvalidFee, "base fee %d outside [%d, %d]", params.BaseFeeBps, p.cfg.MinBaseFeeBps, p.cfg.MaxBaseFeeBps)
	}
	key := params.Key()
	if _, err := p.pools.Get(key); err == nil {
		return nil, 0, errs.Wrapf(errs.ErrAlreadyExists, "pool %s", key.Hex())
	}
	pool, err := dex.NewPool(params, dex.Options{
		Ledger:   p.ledger,
		Emitter:  p.emitter,
		Gate:     p.gate,
		Refunder: p,
		Logger:   p.logger,
	})
	if err != nil {
		return nil, 0, err
	}

	bond := ledger.Transfer{
		Mint:      p.cfg.BondMint,
		From:      params.Creator,
		To:        keys.BondVault(key),
		Authority: params.Creator,
		Amount:    p.cfg.BondAmount,
	}
	j := ledger.NewJournal(p.ledger)
	if err := j.Do(ctx, bond); err != nil {
		return nil, 0, fmt.Errorf("bond: %w", err)
	}
	if err := p.pools.Create(key, pool); err != nil {
		if rbErr := j.Rollback(ctx); rbErr != nil {
			return nil, 0, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return nil, 0, err
	}

	p.mu.Lock()
	p.bonds[key] = bond.Amount
	p.mu.Unlock()
	return pool, bond.Amount, nil
}

// RefundBond returns the bond escrowed for pool to its creator. It is called
// by the pool while closing.
func (p *Protocol) RefundBond(ctx context.Context, pool common.Hash, creator common.Address) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount := p.bonds[pool]
	vault := keys.BondVault(pool)
	tr := ledger.Transfer{Mint: p.cfg.BondMint, From: vault, To: creator, Authority: vault, Amount: amount}
	if amount > 0 {
		if err := p.ledger.Transfer(ctx, tr); err != nil {
			return 0, err
		}
	}
	delete(p.bonds, pool)
	return amount, nil
}

// RouteProtocolFees collects a pool's protocol fees into its authority and
// records both mints with the treasury. A failed recording leaves the
// collected fees with the authority.
func (p *Protocol) RouteProtocolFees(ctx context.Context, key common.Hash, caller common.Address) (base, quote uint64, err error) {
	pool, err := p.pools.Get(key)
	if err != nil {
		return 0, 0, err
	}
	base, quote, err = pool.CollectProtocolFees(ctx, caller, caller)
	if err != nil {
		return 0, 0, err
	}
	params := pool.Params()
	if base > 0 {
		if err := p.treasury.RecordFee(ctx, caller, params.BaseMint, base); err != nil {
			return base, quote, fmt.Errorf("record base fee: %w", err)
		}
	}
	if quote > 0 {
		if err := p.treasury.RecordFee(ctx, caller, params.QuoteMint, quote); err != nil {
			return base, quote, fmt.Errorf("record quote fee: %w", err)
		}
	}
	return base, quote, nil
}

// RouteConversion makes harvests of mint sell through the pool at key. The
// pool must pair mint with the protocol token.
func (p *Protocol) RouteConversion(caller, mint common.Address, key common.Hash, slippageBps uint16) error {
	if caller != p.cfg.Authority {
		return errs.Wrapf(errs.ErrUnauthorized, "%s is not the treasury authority", caller.Hex())
	}
	if slippageBps > 10_000 {
		return errs.Wrapf(errs.ErrInvalidBps, "slippage bps %d", slippageBps)
	}
	pool, err := p.pools.Get(key)
	if err != nil {
		return err
	}
	params := pool.Params()
	pair := [2]common.Address{params.BaseMint, params.QuoteMint}
	if pair != [2]common.Address{mint, p.cfg.PudlMint} && pair != [2]common.Address{p.cfg.PudlMint, mint} {
		return errs.Wrapf(errs.ErrInvalidMint, "pool %s does not pair %s with the protocol token", key.Hex(), mint.Hex())
	}
	p.mu.Lock()
	p.routes[mint] = &convert.PoolRoute{Pool: pool, SlippageBps: slippageBps}
	p.mu.Unlock()
	p.logger.Info("conversion routed", zap.Stringer("mint", mint), zap.String("pool", key.Hex()))
	return nil
}

func (p *Protocol) convert(ctx context.Context, req treasury.ConvertRequest) (uint64, error) {
	p.mu.Lock()
	route, ok := p.routes[req.FromMint]
	p.mu.Unlock()
	if ok {
		return route.Convert(ctx, req)
	}
	if p.fallback == nil {
		return 0, errs.Wrapf(errs.ErrNotFound, "no conversion route for %s", req.FromMint.Hex())
	}
	return p.fallback.Convert(ctx, req)
}

type converterFunc func(ctx context.Context, req treasury.ConvertRequest) (uint64, error)

func (f converterFunc) Convert(ctx context.Context, req treasury.ConvertRequest) (uint64, error) {
	return f(ctx, req)
}

// CheckVaults verifies that every pool vault holds exactly what its bins,
// fee escrow, owed LP fees and pending protocol fees account for.
func (p *Protocol) CheckVaults(ctx context.Context) error {
	for _, key := range p.pools.Keys() {
		pool, err := p.pools.Get(key)
		if err != nil {
			return err
		}
		params := pool.Params()
		want := pool.Breakdown()
		base, err := p.ledger.BalanceOf(ctx, params.BaseMint, pool.Vault())
		if err != nil {
			return fmt.Errorf("base vault balance: %w", err)
		}
		quote, err := p.ledger.BalanceOf(ctx, params.QuoteMint, pool.Vault())
		if err != nil {
			return fmt.Errorf("quote vault balance: %w", err)
		}
		if base != want.Base() || quote != want.Quote() {
			return fmt.Errorf("pool %s vault holds %d/%d, accounts for %d/%d", key.Hex(), base, quote, want.Base(), want.Quote())
		}
	}
	return nil
}

// State snapshots every record of the deployment.
func (p *Protocol) State() model.DeploymentState {
	st := model.DeploymentState{
		Bins:     make(map[string][]model.BinSnapshot),
		Treasury: p.treasury.Snapshot(),
		Staking:  p.staking.Snapshot(),
		Stakes:   p.staking.Accounts(),
	}
	for _, key := range p.pools.Keys() {
		pool, err := p.pools.Get(key)
		if err != nil {
			continue
		}
		st.Pools = append(st.Pools, pool.Snapshot())
		st.Bins[key.Hex()] = pool.Bins()
		st.Positions = append(st.Positions, pool.PositionSnapshots()...)
	}
	return st
}
