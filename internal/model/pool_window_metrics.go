package model

import "time"

// PoolWindowMetrics stores aggregated swap metrics for a pool window.
// Amounts are decimal strings in base units.
type PoolWindowMetrics struct {
	Pool             string    `json:"pool"`
	WindowSizeSecs   int64     `json:"window_size_seconds"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	SwapCount        uint64    `json:"swap_count"`
	VolumeBase       string    `json:"volume_base"`
	VolumeQuote      string    `json:"volume_quote"`
	FeeBase          string    `json:"fee_base"`
	FeeQuote         string    `json:"fee_quote"`
	ProtocolFeeBase  string    `json:"protocol_fee_base"`
	ProtocolFeeQuote string    `json:"protocol_fee_quote"`
	FeeRateBase      *string   `json:"fee_rate_base,omitempty"`
	FeeRateQuote     *string   `json:"fee_rate_quote,omitempty"`
	TVLBase          *string   `json:"tvl_base,omitempty"`
	TVLQuote         *string   `json:"tvl_quote,omitempty"`
	APR              *string   `json:"apr,omitempty"`
	LastActiveBinID  int32     `json:"last_active_bin_id"`
	TVLMethod        string    `json:"tvl_method"`
}
