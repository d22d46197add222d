// Package events carries domain notifications from the protocol to sinks.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pudl/internal/model"
)

// Sink receives committed events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, rec model.EventRecord) error
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// Emitter stamps events with a sequence number and timestamp and forwards
// them to a Sink. Emission happens after state is committed, so a sink
// failure is logged and never rolls the operation back.
type Emitter struct {
	mu     sync.Mutex
	seq    uint64
	sink   Sink
	clock  Clock
	logger *zap.Logger
}

func NewEmitter(sink Sink, clock Clock, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Emitter{sink: sink, clock: clock, logger: logger}
}

// Now exposes the emitter clock so callers stamp state with the same time.
func (e *Emitter) Now() time.Time {
	if e == nil {
		return time.Now()
	}
	return e.clock()
}

// Emit marshals payload and sends it under name. A nil Emitter drops events.
func (e *Emitter) Emit(ctx context.Context, name, entity string, payload interface{}) {
	if e == nil || e.sink == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("marshal event", zap.String("event", name), zap.Error(err))
		return
	}

	// seq and sink order stay aligned under the lock.
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	rec := model.EventRecord{
		Version:   model.EventVersion,
		Seq:       e.seq,
		Name:      name,
		Entity:    entity,
		Timestamp: e.clock().Unix(),
		Payload:   data,
	}
	if err := e.sink.Emit(ctx, rec); err != nil {
		e.logger.Warn("emit event", zap.String("event", name), zap.Uint64("seq", rec.Seq), zap.Error(err))
	}
}

// MemorySink keeps every event in memory.
type MemorySink struct {
	mu      sync.RWMutex
	records []model.EventRecord
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, rec model.EventRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Records returns a copy of the stored events.
func (s *MemorySink) Records() []model.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.EventRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Named returns stored events with the given name.
func (s *MemorySink) Named(name string) []model.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EventRecord
	for _, rec := range s.records {
		if rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// Reset drops stored events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// MultiSink fans an event out to every sink and reports the first failure.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, rec model.EventRecord) error {
	var firstErr error
	for i, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return firstErr
}
