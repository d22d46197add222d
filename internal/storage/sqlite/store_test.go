package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"pudl/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "pudl.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEventsAreIdempotentBySeq(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	batch := []model.EventRecord{
		{Version: model.EventVersion, Seq: 1, Name: model.EventStaked, Entity: "a", Timestamp: 10, Payload: json.RawMessage(`{"amount":1}`)},
		{Version: model.EventVersion, Seq: 2, Name: model.EventUnstaked, Entity: "a", Timestamp: 11, Payload: json.RawMessage(`{"amount":1}`)},
	}
	if err := s.PutEventBatch(ctx, batch); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutEventBatch(ctx, batch); err != nil {
		t.Fatalf("put again: %v", err)
	}
	got, err := s.Events(ctx)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got) != 2 || got[1].Name != model.EventUnstaked || string(got[0].Payload) != `{"amount":1}` {
		t.Fatalf("events: %+v", got)
	}
}

func TestSaveDeploymentUpserts(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	st := model.DeploymentState{
		Pools:   []model.PoolSnapshot{{Key: "p1", BinStep: 10, ActiveBinID: 3}},
		Bins:    map[string][]model.BinSnapshot{"p1": {{ID: 3, Base: 5}}},
		Stakes:  []model.StakeSnapshot{{Key: "s1", Amount: 7}},
		Staking: model.StakingSnapshot{TotalStaked: 7},
	}
	if err := s.SaveDeployment(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.Pools[0].ActiveBinID = 4
	if err := s.SaveDeployment(ctx, st); err != nil {
		t.Fatalf("save again: %v", err)
	}

	var pool model.PoolSnapshot
	if ok, err := s.Snapshot(ctx, KindPool, "p1", &pool); err != nil || !ok || pool.ActiveBinID != 4 {
		t.Fatalf("pool snapshot: %v %v %+v", ok, err, pool)
	}
	var bins []model.BinSnapshot
	if ok, err := s.Snapshot(ctx, KindBins, "p1", &bins); err != nil || !ok || len(bins) != 1 || bins[0].Base != 5 {
		t.Fatalf("bins snapshot: %v %v %+v", ok, err, bins)
	}
	var staking model.StakingSnapshot
	if ok, _ := s.Snapshot(ctx, KindStaking, KindStaking, &staking); !ok || staking.TotalStaked != 7 {
		t.Fatalf("staking snapshot: %+v", staking)
	}
	if ok, err := s.Snapshot(ctx, KindPosition, "missing", &struct{}{}); ok || err != nil {
		t.Fatalf("missing snapshot: %v %v", ok, err)
	}
}

func TestWindowMetricsAndState(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	start := time.Unix(1_700_000_000, 0).UTC()
	m := model.PoolWindowMetrics{Pool: "p1", WindowSizeSecs: 60, WindowStart: start, WindowEnd: start.Add(time.Minute), SwapCount: 1, VolumeBase: "10"}
	if err := s.UpsertWindowMetrics(ctx, []model.PoolWindowMetrics{m}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	m.SwapCount = 2
	if err := s.UpsertWindowMetrics(ctx, []model.PoolWindowMetrics{m}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	rows, err := s.WindowMetrics(ctx, "p1")
	if err != nil || len(rows) != 1 || rows[0].SwapCount != 2 || !rows[0].WindowStart.Equal(start) {
		t.Fatalf("metrics: %v %+v", err, rows)
	}

	if _, ok, err := s.LoadState(ctx, "stats:60"); ok || err != nil {
		t.Fatalf("empty state: %v %v", ok, err)
	}
	if err := s.SaveState(ctx, "stats:60", 42); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if ts, ok, err := s.LoadState(ctx, "stats:60"); !ok || err != nil || ts != 42 {
		t.Fatalf("state: %d %v %v", ts, ok, err)
	}
}
