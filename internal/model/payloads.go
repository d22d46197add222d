package model

// PoolInitialized is emitted once per pool key.
type PoolInitialized struct {
	Pool           string `json:"pool"`
	BaseMint       string `json:"base_mint"`
	QuoteMint      string `json:"quote_mint"`
	Creator        string `json:"creator"`
	Authority      string `json:"authority"`
	BaseFeeBps     uint16 `json:"base_fee_bps"`
	ProtocolFeeBps uint16 `json:"protocol_fee_bps"`
	BinStep        uint16 `json:"bin_step"`
	ActiveBinID    int32  `json:"active_bin_id"`
}

// LiquidityAdded records a deposit into a single bin.
type LiquidityAdded struct {
	Pool         string `json:"pool"`
	Position     string `json:"position"`
	Owner        string `json:"owner"`
	BinID        int32  `json:"bin_id"`
	BaseAmount   uint64 `json:"base_amount"`
	QuoteAmount  uint64 `json:"quote_amount"`
	SharesMinted uint64 `json:"shares_minted"`
}

// LiquidityRemoved records a proportional withdrawal.
type LiquidityRemoved struct {
	Pool         string `json:"pool"`
	Position     string `json:"position"`
	Owner        string `json:"owner"`
	BinID        int32  `json:"bin_id"`
	Bps          uint16 `json:"bps"`
	BaseAmount   uint64 `json:"base_amount"`
	QuoteAmount  uint64 `json:"quote_amount"`
	SharesBurned uint64 `json:"shares_burned"`
}

// SwapExecuted carries the full fee breakdown of a swap.
type SwapExecuted struct {
	Pool        string `json:"pool"`
	Trader      string `json:"trader"`
	InputMint   string `json:"input_mint"`
	OutputMint  string `json:"output_mint"`
	AmountIn    uint64 `json:"amount_in"`
	AmountOut   uint64 `json:"amount_out"`
	FeeAmount   uint64 `json:"fee_amount"`
	ProtocolFee uint64 `json:"protocol_fee"`
	FeeBps      uint16 `json:"fee_bps"`
	StartBinID  int32  `json:"start_bin_id"`
	ActiveBinID int32  `json:"active_bin_id"`
	BinsCrossed int    `json:"bins_crossed"`
}

// FeesClaimed records LP fees paid to a position owner.
type FeesClaimed struct {
	Pool        string `json:"pool"`
	Position    string `json:"position"`
	Owner       string `json:"owner"`
	BaseAmount  uint64 `json:"base_amount"`
	QuoteAmount uint64 `json:"quote_amount"`
}

// ProtocolFeesCollected records the protocol share leaving a pool.
type ProtocolFeesCollected struct {
	Pool        string `json:"pool"`
	Recipient   string `json:"recipient"`
	BaseAmount  uint64 `json:"base_amount"`
	QuoteAmount uint64 `json:"quote_amount"`
}

// PoolAuthorityAction is the payload of pause, unpause and deactivate.
type PoolAuthorityAction struct {
	Pool      string `json:"pool"`
	Authority string `json:"authority"`
}

// PoolClosed records a decommissioned pool and its refunded bond.
type PoolClosed struct {
	Pool         string `json:"pool"`
	Creator      string `json:"creator"`
	BondRefunded uint64 `json:"bond_refunded"`
}

// FeeRecorded is tagged with the authority of the originating pool.
type FeeRecorded struct {
	Pool      string `json:"pool"`
	Mint      string `json:"mint"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// Harvested reports one harvest_and_convert run.
type Harvested struct {
	FeeMint   string `json:"fee_mint"`
	TotalIn   uint64 `json:"total_in"`
	Converted uint64 `json:"converted"`
	PudlOut   uint64 `json:"pudl_out"`
	Burned    uint64 `json:"burned"`
	ToStakers uint64 `json:"to_stakers"`
	ToOps     uint64 `json:"to_ops"`
	Forwarded uint64 `json:"forwarded"`
}

// SplitUpdated records a new treasury split.
type SplitUpdated struct {
	BurnBps   uint16 `json:"burn_bps"`
	StakerBps uint16 `json:"staker_bps"`
	OpsBps    uint16 `json:"ops_bps"`
}

// BuybackUpdated records a new buyback ratio.
type BuybackUpdated struct {
	BuybackBps uint16 `json:"buyback_bps"`
}

// StakeChanged is the payload of staked and unstaked.
type StakeChanged struct {
	User    string `json:"user"`
	Amount  uint64 `json:"amount"`
	Total   uint64 `json:"total"`
	NewTier uint8  `json:"new_tier"`
}

// RewardsClaimed records a reward payout.
type RewardsClaimed struct {
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
}

// RewardsSynced reports an index bump. NewIndex is a decimal Q64.64 value.
type RewardsSynced struct {
	NewRewards  uint64 `json:"new_rewards"`
	Distributed uint64 `json:"distributed"`
	Escrowed    uint64 `json:"escrowed"`
	NewIndex    string `json:"new_index"`
}
