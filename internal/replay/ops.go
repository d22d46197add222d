package replay

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/dex"
	"pudl/internal/errs"
	"pudl/internal/model"
	"pudl/internal/treasury"
)

// Operation names accepted in a replay log.
const (
	OpFund                = "fund"
	OpInitializePool      = "initialize_pool"
	OpAddLiquidity        = "add_liquidity"
	OpRemoveLiquidity     = "remove_liquidity"
	OpSwapExactIn         = "swap_exact_in"
	OpClaimFees           = "claim_fees"
	OpCollectProtocolFees = "collect_protocol_fees"
	OpRouteProtocolFees   = "route_protocol_fees"
	OpPause               = "pause"
	OpUnpause             = "unpause"
	OpDeactivate          = "deactivate"
	OpClosePool           = "close_pool"
	OpRecordFee           = "record_fee"
	OpHarvestAndConvert   = "harvest_and_convert"
	OpSetSplit            = "set_split"
	OpSetBuyback          = "set_buyback"
	OpStake               = "stake"
	OpUnstake             = "unstake"
	OpClaimRewards        = "claim_rewards"
	OpSyncRewards         = "sync_rewards"
	OpDepositRewards      = "deposit_rewards"
	OpRouteConversion     = "route_conversion"
)

var knownOps = map[string]struct{}{
	OpFund: {}, OpInitializePool: {}, OpAddLiquidity: {}, OpRemoveLiquidity: {},
	OpSwapExactIn: {}, OpClaimFees: {}, OpCollectProtocolFees: {}, OpRouteProtocolFees: {},
	OpPause: {}, OpUnpause: {}, OpDeactivate: {}, OpClosePool: {}, OpRecordFee: {},
	OpHarvestAndConvert: {}, OpSetSplit: {}, OpSetBuyback: {}, OpStake: {}, OpUnstake: {},
	OpClaimRewards: {}, OpSyncRewards: {}, OpDepositRewards: {}, OpRouteConversion: {},
	opPropose: {}, opVote: {},
}

type fundParams struct {
	Mint   common.Address `json:"mint"`
	Owner  common.Address `json:"owner"`
	Amount Amount         `json:"amount"`
}

type initPoolParams struct {
	BaseMint       common.Address `json:"base_mint"`
	QuoteMint      common.Address `json:"quote_mint"`
	Authority      common.Address `json:"authority"`
	BaseFeeBps     uint16         `json:"base_fee_bps"`
	ProtocolFeeBps uint16         `json:"protocol_fee_bps"`
	BinStep        uint16         `json:"bin_step"`
	ActiveBinID    int32          `json:"active_bin_id"`
}

type poolParams struct {
	Pool common.Hash `json:"pool"`
}

type addLiquidityParams struct {
	Pool  common.Hash `json:"pool"`
	BinID int32       `json:"bin_id"`
	Base  Amount      `json:"base"`
	Quote Amount      `json:"quote"`
}

type removeLiquidityParams struct {
	Pool common.Hash `json:"pool"`
	Bps  uint16      `json:"bps"`
}

type swapParams struct {
	Pool      common.Hash `json:"pool"`
	AmountIn  Amount      `json:"amount_in"`
	MinOut    Amount      `json:"min_out"`
	Direction string      `json:"direction"`
}

type collectParams struct {
	Pool      common.Hash    `json:"pool"`
	Recipient common.Address `json:"recipient"`
}

type mintAmountParams struct {
	Mint   common.Address `json:"mint"`
	Amount Amount         `json:"amount"`
}

type mintParams struct {
	Mint common.Address `json:"mint"`
}

type bpsParams struct {
	Bps uint16 `json:"bps"`
}

type amountParams struct {
	Amount Amount `json:"amount"`
}

type routeParams struct {
	Mint        common.Address `json:"mint"`
	Pool        common.Hash    `json:"pool"`
	SlippageBps uint16         `json:"slippage_bps"`
}

func decodeParams(op model.OpRecord, v interface{}) error {
	if len(op.Params) == 0 {
		return errs.Wrapf(errs.ErrInvalidParams, "%s: missing params", op.Op)
	}
	if err := json.Unmarshal(op.Params, v); err != nil {
		return errs.Wrapf(errs.ErrInvalidParams, "%s: %v", op.Op, err)
	}
	return nil
}

// apply dispatches a single operation. The returned value is logged at
// debug level as the operation result.
func (r *Runner) apply(ctx context.Context, caller common.Address, op model.OpRecord) (interface{}, error) {
	p := r.proto
	switch op.Op {
	case OpFund:
		var in fundParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		if caller != r.cfg.Protocol.Authority {
			return nil, errs.Wrapf(errs.ErrUnauthorized, "fund is reserved to the deployment authority")
		}
		return nil, r.ledger.Mint(in.Mint, in.Owner, uint64(in.Amount))

	case OpInitializePool:
		var in initPoolParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		pool, err := p.InitializePool(ctx, caller, dex.Params{
			BaseMint:       in.BaseMint,
			QuoteMint:      in.QuoteMint,
			Authority:      in.Authority,
			BaseFeeBps:     in.BaseFeeBps,
			ProtocolFeeBps: in.ProtocolFeeBps,
			BinStep:        in.BinStep,
			ActiveBinID:    in.ActiveBinID,
		})
		if err != nil {
			return nil, err
		}
		return pool.Key().Hex(), nil

	case OpAddLiquidity:
		var in addLiquidityParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		pool, err := p.Pool(in.Pool)
		if err != nil {
			return nil, err
		}
		return pool.AddLiquidity(ctx, caller, in.BinID, uint64(in.Base), uint64(in.Quote))

	case OpRemoveLiquidity:
		var in removeLiquidityParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		pool, err := p.Pool(in.Pool)
		if err != nil {
			return nil, err
		}
		return pool.RemoveLiquidity(ctx, caller, in.Bps)

	case OpSwapExactIn:
		var in swapParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		dir, err := dex.ParseDirection(in.Direction)
		if err != nil {
			return nil, errs.Wrapf(errs.ErrInvalidParams, "%v", err)
		}
		pool, err := p.Pool(in.Pool)
		if err != nil {
			return nil, err
		}
		return pool.SwapExactIn(ctx, caller, uint64(in.AmountIn), uint64(in.MinOut), dir)

	case OpClaimFees:
		var in poolParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		pool, err := p.Pool(in.Pool)
		if err != nil {
			return nil, err
		}
		base, quote, err := pool.ClaimFees(ctx, caller)
		return [2]uint64{base, quote}, err

	case OpCollectProtocolFees:
		var in collectParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		pool, err := p.Pool(in.Pool)
		if err != nil {
			return nil, err
		}
		base, quote, err := pool.CollectProtocolFees(ctx, caller, in.Recipient)
		return [2]uint64{base, quote}, err

	case OpRouteProtocolFees:
		var in poolParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		base, quote, err := p.RouteProtocolFees(ctx, in.Pool, caller)
		return [2]uint64{base, quote}, err

	case OpPause, OpUnpause, OpDeactivate, OpClosePool:
		var in poolParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		pool, err := p.Pool(in.Pool)
		if err != nil {
			return nil, err
		}
		switch op.Op {
		case OpPause:
			return nil, pool.Pause(ctx, caller)
		case OpUnpause:
			return nil, pool.Unpause(ctx, caller)
		case OpDeactivate:
			return nil, pool.Deactivate(ctx, caller)
		default:
			return pool.Close(ctx, caller)
		}

	case OpRecordFee:
		var in mintAmountParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		return nil, p.Treasury().RecordFee(ctx, caller, in.Mint, uint64(in.Amount))

	case OpHarvestAndConvert:
		var in mintParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		return p.Treasury().HarvestAndConvert(ctx, in.Mint)

	case OpSetSplit:
		var in treasury.Split
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		return nil, p.Treasury().SetSplit(ctx, caller, in)

	case OpSetBuyback:
		var in bpsParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		return nil, p.Treasury().SetBuyback(ctx, caller, in.Bps)

	case OpStake, OpUnstake:
		var in amountParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		if op.Op == OpStake {
			return p.Staking().Stake(ctx, caller, uint64(in.Amount))
		}
		return p.Staking().Unstake(ctx, caller, uint64(in.Amount))

	case OpClaimRewards:
		return p.Staking().ClaimRewards(ctx, caller)

	case OpSyncRewards, OpDepositRewards:
		var in amountParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		if op.Op == OpSyncRewards {
			return p.Staking().SyncRewards(ctx, caller, uint64(in.Amount))
		}
		return p.Staking().DepositRewards(ctx, caller, uint64(in.Amount))

	case OpRouteConversion:
		var in routeParams
		if err := decodeParams(op, &in); err != nil {
			return nil, err
		}
		return nil, p.RouteConversion(caller, in.Mint, in.Pool, in.SlippageBps)
	}
	return nil, errs.Wrapf(errs.ErrInvalidParams, "unknown operation %q", op.Op)
}

func opError(line uint64, op model.OpRecord, err error) model.OpError {
	rec := model.OpError{
		Line:   line,
		Op:     op.Op,
		Caller: op.Caller,
		Kind:   errs.KindOf(err).String(),
		Error:  err.Error(),
	}
	rec.Code = errs.CodeOf(err)
	return rec
}
