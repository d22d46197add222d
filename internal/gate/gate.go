// Package gate answers whether a privileged action has passed governance.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pudl/internal/errs"
	"pudl/internal/fixedpoint"
)

// Action names a privileged operation.
type Action string

const (
	ActionPause       Action = "pause"
	ActionUnpause     Action = "unpause"
	ActionDeactivate  Action = "deactivate"
	ActionClosePool   Action = "close_pool"
	ActionCollectFees Action = "collect_protocol_fees"
	ActionSetSplit    Action = "set_split"
	ActionSetBuyback  Action = "set_buyback"
	ActionSyncRewards Action = "sync_rewards"
	ActionRecordFee   Action = "record_fee"
)

// Gate reports whether action on target may proceed. A nil error means
// quorum was met and the timelock has elapsed.
type Gate interface {
	Check(ctx context.Context, action Action, target string) error
}

// AllowAll approves everything. It is the default when no governance is wired.
type AllowAll struct{}

func (AllowAll) Check(context.Context, Action, string) error { return nil }

// Proposal tracks votes for one action on one target. An approved proposal
// authorizes a single execution; the action needs a fresh proposal after that.
type Proposal struct {
	ID         uint64
	Action     Action
	Target     string
	VotesFor   uint64
	QueuedAt   time.Time
	Executed   bool
	ExecutedAt time.Time
}

// Timelock is a Gate backed by registered proposals. An action passes when
// its proposal has at least Quorum votes and Delay has elapsed since queueing.
type Timelock struct {
	Quorum uint64
	Delay  time.Duration
	Clock  func() time.Time

	mu        sync.Mutex
	nextID    uint64
	proposals map[string]*Proposal
}

func NewTimelock(quorum uint64, delay time.Duration, clock func() time.Time) *Timelock {
	if clock == nil {
		clock = time.Now
	}
	return &Timelock{
		Quorum:    quorum,
		Delay:     delay,
		Clock:     clock,
		proposals: make(map[string]*Proposal),
	}
}

func proposalKey(action Action, target string) string {
	return string(action) + "/" + target
}

// Queue registers a proposal or returns the open one. An executed proposal
// is replaced by a new one with a fresh id and no votes.
func (t *Timelock) Queue(action Action, target string) Proposal {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := proposalKey(action, target)
	if p, ok := t.proposals[key]; ok && !p.Executed {
		return *p
	}
	t.nextID++
	p := &Proposal{ID: t.nextID, Action: action, Target: target, QueuedAt: t.Clock()}
	t.proposals[key] = p
	return *p
}

// Proposal returns the latest proposal for action on target.
func (t *Timelock) Proposal(action Action, target string) (Proposal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.proposals[proposalKey(action, target)]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}

// Vote adds weight in favour of an open proposal.
func (t *Timelock) Vote(action Action, target string, weight uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.proposals[proposalKey(action, target)]
	if !ok || p.Executed {
		return errs.Wrapf(errs.ErrNotFound, "no open proposal %s on %s", action, target)
	}
	votes, err := fixedpoint.AddU64(p.VotesFor, weight)
	if err != nil {
		return fmt.Errorf("votes on %s %s: %w", action, target, err)
	}
	p.VotesFor = votes
	return nil
}

// Check passes an approved proposal once and marks it executed.
func (t *Timelock) Check(_ context.Context, action Action, target string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.proposals[proposalKey(action, target)]
	if !ok || p.Executed || p.VotesFor < t.Quorum {
		return errs.Wrapf(errs.ErrQuorumNotMet, "%s on %s", action, target)
	}
	now := t.Clock()
	if now.Sub(p.QueuedAt) < t.Delay {
		return errs.Wrapf(errs.ErrTimelockNotElapsed, "%s on %s", action, target)
	}
	p.Executed = true
	p.ExecutedAt = now
	return nil
}
