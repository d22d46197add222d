package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pudl/internal/model"
)

// JsonlStorage appends records to a JSONL file, one JSON value per line.
// Each batch is written and synced before the call returns.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) PutEventBatch(_ context.Context, records []model.EventRecord) error {
	return appendJSONL(s, records)
}

// UpsertWindowMetrics appends window metrics. Later lines for the same pool
// window supersede earlier ones.
func (s *JsonlStorage) UpsertWindowMetrics(_ context.Context, metrics []model.PoolWindowMetrics) error {
	return appendJSONL(s, metrics)
}

func appendJSONL[T any](s *JsonlStorage, values []T) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for i := range values {
		if err := enc.Encode(values[i]); err != nil {
			file.Close()
			return fmt.Errorf("encode line %d of batch: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	return file.Close()
}
