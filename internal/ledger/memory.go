package ledger

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/errs"
)

type account struct {
	mint  common.Address
	owner common.Address
}

// Memory is an in-process Ledger. It enforces that the signing authority owns
// the source account and that balances never go negative.
type Memory struct {
	mu       sync.RWMutex
	balances map[account]uint64
	// FailOn, when set, is consulted before each transfer; a non-nil result
	// rejects it. Tests use it to inject custody failures.
	FailOn func(Transfer) error
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[account]uint64)}
}

// Mint credits amount to owner out of thin air.
func (m *Memory) Mint(mint, owner common.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := account{mint: mint, owner: owner}
	if m.balances[key] > math.MaxUint64-amount {
		return errs.Wrapf(errs.ErrOverflow, "mint %d to %s", amount, owner.Hex())
	}
	m.balances[key] += amount
	return nil
}

func (m *Memory) Transfer(_ context.Context, tr Transfer) error {
	if m.FailOn != nil {
		if err := m.FailOn(tr); err != nil {
			return err
		}
	}
	if tr.Authority != tr.From {
		return errs.Wrapf(errs.ErrUnauthorized, "%s cannot move funds of %s", tr.Authority.Hex(), tr.From.Hex())
	}
	if tr.Amount == 0 || tr.From == tr.To {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	from := account{mint: tr.Mint, owner: tr.From}
	to := account{mint: tr.Mint, owner: tr.To}
	if m.balances[from] < tr.Amount {
		return errs.Wrapf(errs.ErrInsufficientBalance, "%s has %d, needs %d", tr.From.Hex(), m.balances[from], tr.Amount)
	}
	if m.balances[to] > math.MaxUint64-tr.Amount {
		return errs.Wrapf(errs.ErrOverflow, "credit %d to %s", tr.Amount, tr.To.Hex())
	}
	m.balances[from] -= tr.Amount
	m.balances[to] += tr.Amount
	return nil
}

func (m *Memory) BalanceOf(_ context.Context, mint, owner common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[account{mint: mint, owner: owner}], nil
}

// Balance is a single non-zero holding returned by Snapshot.
type Balance struct {
	Mint   common.Address `json:"mint"`
	Owner  common.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

// Snapshot lists every non-zero balance ordered by mint then owner.
func (m *Memory) Snapshot() []Balance {
	m.mu.RLock()
	out := make([]Balance, 0, len(m.balances))
	for key, amount := range m.balances {
		if amount == 0 {
			continue
		}
		out = append(out, Balance{Mint: key.mint, Owner: key.owner, Amount: amount})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Mint != out[j].Mint {
			return out[i].Mint.Cmp(out[j].Mint) < 0
		}
		return out[i].Owner.Cmp(out[j].Owner) < 0
	})
	return out
}
