package model

// PoolSnapshot is the persisted view of a pool.
type PoolSnapshot struct {
	Key              string `json:"key"`
	BaseMint         string `json:"base_mint"`
	QuoteMint        string `json:"quote_mint"`
	Creator          string `json:"creator"`
	Authority        string `json:"authority"`
	BaseFeeBps       uint16 `json:"base_fee_bps"`
	ProtocolFeeBps   uint16 `json:"protocol_fee_bps"`
	BinStep          uint16 `json:"bin_step"`
	ActiveBinID      int32  `json:"active_bin_id"`
	Flags            uint8  `json:"flags"`
	Paused           bool   `json:"paused"`
	Closed           bool   `json:"closed"`
	TotalVolume      uint64 `json:"total_volume"`
	TotalFees        uint64 `json:"total_fees"`
	ProtocolFeeBase  uint64 `json:"protocol_fee_base"`
	ProtocolFeeQuote uint64 `json:"protocol_fee_quote"`
	ReserveBase      uint64 `json:"reserve_base"`
	ReserveQuote     uint64 `json:"reserve_quote"`
	BinCount         int    `json:"bin_count"`
}

// BinSnapshot is one non-empty bin of a pool.
type BinSnapshot struct {
	ID                  int32  `json:"id"`
	Base                uint64 `json:"base"`
	Quote               uint64 `json:"quote"`
	FeeBase             uint64 `json:"fee_base"`
	FeeQuote            uint64 `json:"fee_quote"`
	TotalShares         uint64 `json:"total_shares"`
	FeePerShareBaseX64  string `json:"fee_per_share_base_x64"`
	FeePerShareQuoteX64 string `json:"fee_per_share_quote_x64"`
}

// PositionSnapshot is the persisted view of a position.
type PositionSnapshot struct {
	Key           string `json:"key"`
	Pool          string `json:"pool"`
	Owner         string `json:"owner"`
	LowerBinID    int32  `json:"lower_bin_id"`
	UpperBinID    int32  `json:"upper_bin_id"`
	Shares        uint64 `json:"shares"`
	BaseAmount    uint64 `json:"base_amount"`
	QuoteAmount   uint64 `json:"quote_amount"`
	FeeDebtBase   string `json:"fee_debt_base"`
	FeeDebtQuote  string `json:"fee_debt_quote"`
	FeesOwedBase  uint64 `json:"fees_owed_base"`
	FeesOwedQuote uint64 `json:"fees_owed_quote"`
}

// TreasurySnapshot is the persisted view of the treasury singleton.
type TreasurySnapshot struct {
	Authority          string `json:"authority"`
	PudlMint           string `json:"pudl_mint"`
	BuybackBps         uint16 `json:"buyback_bps"`
	BurnBps            uint16 `json:"burn_bps"`
	StakerBps          uint16 `json:"staker_bps"`
	OpsBps             uint16 `json:"ops_bps"`
	TotalFeesCollected uint64 `json:"total_fees_collected"`
	TotalPudlBurned    uint64 `json:"total_pudl_burned"`
	LastHarvestAt      int64  `json:"last_harvest_at"`
}

// StakingSnapshot is the persisted view of the staking pool singleton.
type StakingSnapshot struct {
	TotalStaked    uint64 `json:"total_staked"`
	RewardIndexX64 string `json:"reward_index_x64"`
	Undistributed  uint64 `json:"undistributed"`
	LastUpdate     int64  `json:"last_update"`
}

// StakeSnapshot is the persisted view of a stake account.
type StakeSnapshot struct {
	Key           string `json:"key"`
	Owner         string `json:"owner"`
	Amount        uint64 `json:"amount"`
	RewardDebtX64 string `json:"reward_debt_x64"`
	Owed          uint64 `json:"owed"`
	Tier          uint8  `json:"tier"`
}

// DeploymentState is every persisted record of one deployment.
type DeploymentState struct {
	Pools     []PoolSnapshot           `json:"pools"`
	Bins      map[string][]BinSnapshot `json:"bins"`
	Positions []PositionSnapshot       `json:"positions"`
	Treasury  TreasurySnapshot         `json:"treasury"`
	Staking   StakingSnapshot          `json:"staking"`
	Stakes    []StakeSnapshot          `json:"stakes"`
}
