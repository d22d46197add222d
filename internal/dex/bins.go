package dex

import (
	"sort"

	"github.com/holiman/uint256"

	"pudl/internal/fixedpoint"
	"pudl/internal/model"
)

// Bin holds the reserves and escrowed LP fees at one price level.
type Bin struct {
	ID          int32
	Base        uint64
	Quote       uint64
	FeeBase     uint64
	FeeQuote    uint64
	TotalShares uint64

	// Fee accumulators, Q64.64 per share.
	FeePerShareBaseX64  *uint256.Int
	FeePerShareQuoteX64 *uint256.Int
}

func newBin(id int32) *Bin {
	return &Bin{
		ID:                  id,
		FeePerShareBaseX64:  new(uint256.Int),
		FeePerShareQuoteX64: new(uint256.Int),
	}
}

func (b *Bin) clone() *Bin {
	c := *b
	c.FeePerShareBaseX64 = b.FeePerShareBaseX64.Clone()
	c.FeePerShareQuoteX64 = b.FeePerShareQuoteX64.Clone()
	return &c
}

// reserve returns the reserve paid out by a swap in dir.
func (b *Bin) reserve(dir Direction) uint64 {
	if dir == BaseToQuote {
		return b.Quote
	}
	return b.Base
}

func (b *Bin) snapshot() model.BinSnapshot {
	return model.BinSnapshot{
		ID:                  b.ID,
		Base:                b.Base,
		Quote:               b.Quote,
		FeeBase:             b.FeeBase,
		FeeQuote:            b.FeeQuote,
		TotalShares:         b.TotalShares,
		FeePerShareBaseX64:  b.FeePerShareBaseX64.ToBig().String(),
		FeePerShareQuoteX64: b.FeePerShareQuoteX64.ToBig().String(),
	}
}

// BinLedger maps bin ids to bins. Ids are kept sorted so swaps can walk
// neighbouring bins in price order. It is not safe for concurrent use; the
// owning Pool serializes access.
type BinLedger struct {
	binStep uint16
	bins    map[int32]*Bin
	ids     []int32
}

func NewBinLedger(binStep uint16) *BinLedger {
	return &BinLedger{binStep: binStep, bins: make(map[int32]*Bin)}
}

// Price returns the Q64.64 price of a bin.
func (l *BinLedger) Price(id int32) (*uint256.Int, error) {
	return fixedpoint.PriceX64(l.binStep, id)
}

// Get returns the bin with id, if it was ever funded.
func (l *BinLedger) Get(id int32) (*Bin, bool) {
	b, ok := l.bins[id]
	return b, ok
}

// peek returns the stored bin or a fresh detached one.
func (l *BinLedger) peek(id int32) *Bin {
	if b, ok := l.bins[id]; ok {
		return b
	}
	return newBin(id)
}

// put stores b, registering its id on first use.
func (l *BinLedger) put(b *Bin) {
	if _, ok := l.bins[b.ID]; !ok {
		i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= b.ID })
		l.ids = append(l.ids, 0)
		copy(l.ids[i+1:], l.ids[i:])
		l.ids[i] = b.ID
	}
	l.bins[b.ID] = b
}

// walk visits bins starting at from in the direction a swap moves the price:
// downwards for BaseToQuote, upwards for QuoteToBase. fn returns false to stop.
func (l *BinLedger) walk(from int32, dir Direction, fn func(*Bin) bool) {
	if dir == BaseToQuote {
		i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] > from }) - 1
		for ; i >= 0; i-- {
			if !fn(l.bins[l.ids[i]]) {
				return
			}
		}
		return
	}
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= from })
	for ; i < len(l.ids); i++ {
		if !fn(l.bins[l.ids[i]]) {
			return
		}
	}
}

// Totals sums reserves and fee escrow over all bins.
func (l *BinLedger) Totals() (base, quote, feeBase, feeQuote uint64) {
	for _, b := range l.bins {
		base += b.Base
		quote += b.Quote
		feeBase += b.FeeBase
		feeQuote += b.FeeQuote
	}
	return base, quote, feeBase, feeQuote
}

// Snapshot lists non-empty bins in id order.
func (l *BinLedger) Snapshot() []model.BinSnapshot {
	out := make([]model.BinSnapshot, 0, len(l.ids))
	for _, id := range l.ids {
		b := l.bins[id]
		if b.Base == 0 && b.Quote == 0 && b.FeeBase == 0 && b.FeeQuote == 0 && b.TotalShares == 0 {
			continue
		}
		out = append(out, b.snapshot())
	}
	return out
}
