package storage

import (
	"context"
	"sync"

	"pudl/internal/model"
)

// Buffer is an events.Sink that holds records until they are drained into
// a Storage in batches.
type Buffer struct {
	mu      sync.Mutex
	records []model.EventRecord
}

func (b *Buffer) Emit(_ context.Context, rec model.EventRecord) error {
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()
	return nil
}

// Len reports how many records are buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Drain returns the buffered records and empties the buffer.
func (b *Buffer) Drain() []model.EventRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = nil
	return out
}
