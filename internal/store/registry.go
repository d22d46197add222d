// Package store keeps records addressed by derived keys.
package store

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"pudl/internal/errs"
)

// Registry maps a derived key to a record. A key can be created once;
// later creation attempts fail with ErrAlreadyExists.
type Registry[T any] struct {
	mu      sync.RWMutex
	records map[common.Hash]T
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{records: make(map[common.Hash]T)}
}

// Create stores v under key if the key is unused.
func (r *Registry[T]) Create(key common.Hash, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; ok {
		return errs.Wrapf(errs.ErrAlreadyExists, "key %s", key.Hex())
	}
	r.records[key] = v
	return nil
}

// Get returns the record under key or ErrNotFound.
func (r *Registry[T]) Get(key common.Hash) (T, error) {
	r.mu.RLock()
	v, ok := r.records[key]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, errs.Wrapf(errs.ErrNotFound, "key %s", key.Hex())
	}
	return v, nil
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Keys returns every key in ascending byte order.
func (r *Registry[T]) Keys() []common.Hash {
	r.mu.RLock()
	keys := make([]common.Hash, 0, len(r.records))
	for k := range r.records {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
	return keys
}
