package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"pudl/internal/model"
)

func TestJsonlStorageAppendsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	s := NewJsonlStorage(path)
	ctx := context.Background()

	batch := []model.EventRecord{
		{Version: model.EventVersion, Seq: 1, Name: model.EventStaked, Payload: json.RawMessage(`{"amount":1}`)},
		{Version: model.EventVersion, Seq: 2, Name: model.EventUnstaked, Payload: json.RawMessage(`{"amount":1}`)},
	}
	if err := s.PutEventBatch(ctx, batch[:1]); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutEventBatch(ctx, batch[1:]); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutEventBatch(ctx, nil); err != nil {
		t.Fatalf("empty put: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.EventRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec model.EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, rec)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Name != model.EventUnstaked {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestBufferDrain(t *testing.T) {
	var b Buffer
	_ = b.Emit(context.Background(), model.EventRecord{Seq: 1})
	_ = b.Emit(context.Background(), model.EventRecord{Seq: 2})
	if b.Len() != 2 {
		t.Fatalf("len: %d", b.Len())
	}
	if got := b.Drain(); len(got) != 2 || got[1].Seq != 2 {
		t.Fatalf("drain: %+v", got)
	}
	if b.Len() != 0 {
		t.Fatalf("buffer not emptied")
	}
}
