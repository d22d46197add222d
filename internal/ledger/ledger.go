// Package ledger defines the asset-custody boundary. The protocol never edits
// balances directly; it asks a Ledger to move value between accounts.
package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer moves Amount of Mint from From to To. Authority is the identity
// signing the transfer and must own From.
type Transfer struct {
	Mint      common.Address `json:"mint"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Authority common.Address `json:"authority"`
	Amount    uint64         `json:"amount"`
}

func (t Transfer) String() string {
	return fmt.Sprintf("%d of %s %s->%s", t.Amount, t.Mint.Hex(), t.From.Hex(), t.To.Hex())
}

// Ledger is the external custody collaborator.
type Ledger interface {
	Transfer(ctx context.Context, tr Transfer) error
	BalanceOf(ctx context.Context, mint, owner common.Address) (uint64, error)
}

// Journal issues transfers through a Ledger and can undo them in reverse
// order. Operations that move more than one asset use a Journal so a later
// failure leaves no earlier transfer in effect.
type Journal struct {
	ledger Ledger
	done   []Transfer
}

func NewJournal(l Ledger) *Journal {
	return &Journal{ledger: l}
}

// Do issues the transfer and records it for rollback. Zero amounts are skipped.
func (j *Journal) Do(ctx context.Context, tr Transfer) error {
	if tr.Amount == 0 {
		return nil
	}
	if err := j.ledger.Transfer(ctx, tr); err != nil {
		return fmt.Errorf("transfer %s: %w", tr, err)
	}
	j.done = append(j.done, tr)
	return nil
}

// Rollback reverses every recorded transfer, newest first. The reversal is
// signed by the original recipient.
func (j *Journal) Rollback(ctx context.Context) error {
	var firstErr error
	for i := len(j.done) - 1; i >= 0; i-- {
		tr := j.done[i]
		rev := Transfer{Mint: tr.Mint, From: tr.To, To: tr.From, Authority: tr.To, Amount: tr.Amount}
		if err := j.ledger.Transfer(ctx, rev); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rollback %s: %w", rev, err)
		}
	}
	j.done = nil
	return firstErr
}

// Len returns the number of transfers currently recorded.
func (j *Journal) Len() int {
	return len(j.done)
}
