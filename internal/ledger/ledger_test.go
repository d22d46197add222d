package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/errs"
)

var (
	mintA = common.HexToAddress("0xa0")
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb1")
)

func TestMemoryTransferRequiresOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Mint(mintA, alice, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err := m.Transfer(ctx, Transfer{Mint: mintA, From: alice, To: bob, Authority: bob, Amount: 10})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	err = m.Transfer(ctx, Transfer{Mint: mintA, From: alice, To: bob, Authority: alice, Amount: 101})
	if !errors.Is(err, errs.ErrInsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
	if err := m.Transfer(ctx, Transfer{Mint: mintA, From: alice, To: bob, Authority: alice, Amount: 40}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := m.BalanceOf(ctx, mintA, alice)
	b, _ := m.BalanceOf(ctx, mintA, bob)
	if a != 60 || b != 40 {
		t.Fatalf("balances mismatch: alice=%d bob=%d", a, b)
	}
}

func TestJournalRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	mintB := common.HexToAddress("0xb0")
	_ = m.Mint(mintA, alice, 50)
	_ = m.Mint(mintB, alice, 50)

	j := NewJournal(m)
	if err := j.Do(ctx, Transfer{Mint: mintA, From: alice, To: bob, Authority: alice, Amount: 20}); err != nil {
		t.Fatalf("first leg: %v", err)
	}
	if err := j.Do(ctx, Transfer{Mint: mintB, From: alice, To: bob, Authority: alice, Amount: 500}); err == nil {
		t.Fatalf("expected second leg to fail")
	}
	if j.Len() != 1 {
		t.Fatalf("expected one recorded transfer, got %d", j.Len())
	}
	if err := j.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	a, _ := m.BalanceOf(ctx, mintA, alice)
	b, _ := m.BalanceOf(ctx, mintA, bob)
	if a != 50 || b != 0 {
		t.Fatalf("rollback left alice=%d bob=%d", a, b)
	}
}

func TestSnapshotOrdered(t *testing.T) {
	m := NewMemory()
	_ = m.Mint(mintA, bob, 2)
	_ = m.Mint(mintA, alice, 1)
	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected two balances, got %d", len(snap))
	}
	if snap[0].Owner != alice || snap[1].Owner != bob {
		t.Fatalf("snapshot not ordered: %+v", snap)
	}
}
