package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestEventRecordJSONRoundTrip(t *testing.T) {
	payload, err := json.Marshal(SwapExecuted{
		Pool:        "0xpool",
		Trader:      "0xtrader",
		AmountIn:    1_000_000,
		AmountOut:   997_000,
		FeeAmount:   3_000,
		ProtocolFee: 300,
		FeeBps:      30,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	original := EventRecord{
		Version:   EventVersion,
		Seq:       7,
		Name:      EventSwapExecuted,
		Entity:    "0xpool",
		Timestamp: 1700000000,
		Payload:   payload,
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded EventRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}

	var swap SwapExecuted
	if err := decoded.Decode(&swap); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if swap.FeeAmount != 3_000 || swap.ProtocolFee != 300 {
		t.Fatalf("payload mismatch: %+v", swap)
	}
}

func TestEventRecordRejectsUnknownVersion(t *testing.T) {
	var rec EventRecord
	err := json.Unmarshal([]byte(`{"version":2,"seq":1,"name":"staked","payload":{}}`), &rec)
	if err == nil || !strings.Contains(err.Error(), "unsupported event version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestRewardsSyncedIndexIsString(t *testing.T) {
	data, err := json.Marshal(RewardsSynced{NewRewards: 5, NewIndex: "18446744073709551616"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["new_index"].(string); !ok {
		t.Fatalf("new_index should be string")
	}
}
