package replay

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/errs"
	"pudl/internal/gate"
	"pudl/internal/model"
)

const (
	opPropose = "propose"
	opVote    = "vote"
)

type proposalParams struct {
	Action gate.Action `json:"action"`
	Target string      `json:"target"`
}

// govern queues proposals and records stake-weighted votes. Only the
// deployment authority may propose; any staker may vote with its stake, once
// per proposal. An executed proposal must be proposed again.
func (r *Runner) govern(caller common.Address, op model.OpRecord) error {
	if r.timelock == nil {
		return errs.Wrapf(errs.ErrInvalidParams, "%s: governance is not enabled", op.Op)
	}
	var in proposalParams
	if err := decodeParams(op, &in); err != nil {
		return err
	}
	if in.Action == "" || in.Target == "" {
		return errs.Wrapf(errs.ErrInvalidParams, "%s: action and target are required", op.Op)
	}

	if op.Op == opPropose {
		if caller != r.cfg.Protocol.Authority {
			return errs.Wrapf(errs.ErrUnauthorized, "only the authority may propose")
		}
		r.timelock.Queue(in.Action, in.Target)
		return nil
	}

	acct, ok := r.proto.Staking().Account(caller)
	if !ok || acct.Amount == 0 {
		return errs.Wrapf(errs.ErrInsufficientStake, "voter %s has no stake", caller.Hex())
	}
	prop, ok := r.timelock.Proposal(in.Action, in.Target)
	if !ok || prop.Executed {
		return errs.Wrapf(errs.ErrNotFound, "no open proposal %s on %s", in.Action, in.Target)
	}
	ballot := strconv.FormatUint(prop.ID, 10) + "/" + caller.Hex()
	if _, done := r.voted[ballot]; done {
		return errs.Wrapf(errs.ErrAlreadyExists, "%s already voted on %s %s", caller.Hex(), in.Action, in.Target)
	}
	if err := r.timelock.Vote(in.Action, in.Target, acct.Amount); err != nil {
		return err
	}
	r.voted[ballot] = struct{}{}
	return nil
}
