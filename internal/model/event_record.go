package model

import (
	"encoding/json"
	"fmt"
)

// EventVersion is the schema version written into every EventRecord.
const EventVersion = 1

// Event names. One payload type per name, see payloads.go.
const (
	EventPoolInitialized       = "pool_initialized"
	EventLiquidityAdded        = "liquidity_added"
	EventLiquidityRemoved      = "liquidity_removed"
	EventSwapExecuted          = "swap_executed"
	EventFeesClaimed           = "fees_claimed"
	EventProtocolFeesCollected = "protocol_fees_collected"
	EventPoolPaused            = "pool_paused"
	EventPoolUnpaused          = "pool_unpaused"
	EventPoolDeactivated       = "pool_deactivated"
	EventPoolClosed            = "pool_closed"
	EventFeeRecorded           = "fee_recorded"
	EventHarvested             = "harvested"
	EventSplitUpdated          = "split_updated"
	EventBuybackUpdated        = "buyback_updated"
	EventStaked                = "staked"
	EventUnstaked              = "unstaked"
	EventRewardsClaimed        = "rewards_claimed"
	EventRewardsSynced         = "rewards_synced"
)

// EventRecord is the append-only envelope every sink receives.
type EventRecord struct {
	Version   int             `json:"version"`
	Seq       uint64          `json:"seq"`
	Name      string          `json:"name"`
	Entity    string          `json:"entity"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes an EventRecord and rejects unknown schema versions.
func (r *EventRecord) UnmarshalJSON(data []byte) error {
	type alias EventRecord
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Version != EventVersion {
		return fmt.Errorf("unsupported event version %d", a.Version)
	}
	*r = EventRecord(a)
	return nil
}

// Decode unmarshals the payload into v.
func (r EventRecord) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Name, err)
	}
	return nil
}
