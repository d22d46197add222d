package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pudl/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS protocol_events (
	seq BIGINT PRIMARY KEY,
	version INT NOT NULL,
	name TEXT NOT NULL,
	entity TEXT NOT NULL,
	ts BIGINT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS pools (
	pool_key TEXT PRIMARY KEY,
	base_mint TEXT NOT NULL,
	quote_mint TEXT NOT NULL,
	creator TEXT NOT NULL,
	authority TEXT NOT NULL,
	base_fee_bps INT NOT NULL,
	protocol_fee_bps INT NOT NULL,
	bin_step INT NOT NULL,
	active_bin_id INT NOT NULL,
	flags INT NOT NULL,
	paused BOOLEAN NOT NULL,
	closed BOOLEAN NOT NULL,
	total_volume NUMERIC NOT NULL,
	total_fees NUMERIC NOT NULL,
	protocol_fee_base NUMERIC NOT NULL,
	protocol_fee_quote NUMERIC NOT NULL,
	reserve_base NUMERIC NOT NULL,
	reserve_quote NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	position_key TEXT PRIMARY KEY,
	pool_key TEXT NOT NULL,
	owner TEXT NOT NULL,
	lower_bin_id INT NOT NULL,
	upper_bin_id INT NOT NULL,
	shares NUMERIC NOT NULL,
	base_amount NUMERIC NOT NULL,
	quote_amount NUMERIC NOT NULL,
	fee_debt_base NUMERIC NOT NULL,
	fee_debt_quote NUMERIC NOT NULL,
	fees_owed_base NUMERIC NOT NULL,
	fees_owed_quote NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS stake_accounts (
	stake_key TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	reward_debt_x64 NUMERIC NOT NULL,
	owed NUMERIC NOT NULL,
	tier INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS singletons (
	name TEXT PRIMARY KEY,
	body JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS pool_window_metrics (
	pool_key TEXT NOT NULL,
	window_size_seconds BIGINT NOT NULL,
	window_start_ts TIMESTAMPTZ NOT NULL,
	window_end_ts TIMESTAMPTZ NOT NULL,
	swap_count BIGINT NOT NULL,
	volume_base NUMERIC NOT NULL,
	volume_quote NUMERIC NOT NULL,
	fee_base NUMERIC NOT NULL,
	fee_quote NUMERIC NOT NULL,
	protocol_fee_base NUMERIC NOT NULL,
	protocol_fee_quote NUMERIC NOT NULL,
	fee_rate_base NUMERIC,
	fee_rate_quote NUMERIC,
	tvl_base NUMERIC,
	tvl_quote NUMERIC,
	apr NUMERIC,
	last_active_bin_id INT NOT NULL,
	tvl_method TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_key, window_size_seconds, window_start_ts)
);
CREATE TABLE IF NOT EXISTS pudl_state (
	name TEXT PRIMARY KEY,
	last_processed_ts BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for events, entity snapshots and metrics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutEventBatch appends events. Sequence numbers already stored are skipped,
// so replaying the same run is idempotent.
func (s *Store) PutEventBatch(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO protocol_events (seq, version, name, entity, ts, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (seq) DO NOTHING
		`,
			int64(rec.Seq),
			rec.Version,
			rec.Name,
			rec.Entity,
			rec.Timestamp,
			[]byte(rec.Payload),
		)
	}
	return s.sendBatch(ctx, batch)
}

// SaveDeployment upserts every pool, position and stake account, plus the
// treasury and staking singletons.
func (s *Store) SaveDeployment(ctx context.Context, st model.DeploymentState) error {
	batch := &pgx.Batch{}
	for _, p := range st.Pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_key, base_mint, quote_mint, creator, authority, base_fee_bps, protocol_fee_bps,
				bin_step, active_bin_id, flags, paused, closed, total_volume, total_fees,
				protocol_fee_base, protocol_fee_quote, reserve_base, reserve_quote, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now())
			ON CONFLICT (pool_key)
			DO UPDATE SET
				active_bin_id = EXCLUDED.active_bin_id,
				flags = EXCLUDED.flags,
				paused = EXCLUDED.paused,
				closed = EXCLUDED.closed,
				total_volume = EXCLUDED.total_volume,
				total_fees = EXCLUDED.total_fees,
				protocol_fee_base = EXCLUDED.protocol_fee_base,
				protocol_fee_quote = EXCLUDED.protocol_fee_quote,
				reserve_base = EXCLUDED.reserve_base,
				reserve_quote = EXCLUDED.reserve_quote,
				updated_at = now()
		`,
			p.Key, p.BaseMint, p.QuoteMint, p.Creator, p.Authority,
			int32(p.BaseFeeBps), int32(p.ProtocolFeeBps), int32(p.BinStep), p.ActiveBinID, int32(p.Flags),
			p.Paused, p.Closed,
			numeric(p.TotalVolume), numeric(p.TotalFees),
			numeric(p.ProtocolFeeBase), numeric(p.ProtocolFeeQuote),
			numeric(p.ReserveBase), numeric(p.ReserveQuote),
		)
	}
	for _, pos := range st.Positions {
		batch.Queue(`
			INSERT INTO positions (
				position_key, pool_key, owner, lower_bin_id, upper_bin_id, shares, base_amount, quote_amount,
				fee_debt_base, fee_debt_quote, fees_owed_base, fees_owed_quote, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
			ON CONFLICT (position_key)
			DO UPDATE SET
				lower_bin_id = EXCLUDED.lower_bin_id,
				upper_bin_id = EXCLUDED.upper_bin_id,
				shares = EXCLUDED.shares,
				base_amount = EXCLUDED.base_amount,
				quote_amount = EXCLUDED.quote_amount,
				fee_debt_base = EXCLUDED.fee_debt_base,
				fee_debt_quote = EXCLUDED.fee_debt_quote,
				fees_owed_base = EXCLUDED.fees_owed_base,
				fees_owed_quote = EXCLUDED.fees_owed_quote,
				updated_at = now()
		`,
			pos.Key, pos.Pool, pos.Owner, pos.LowerBinID, pos.UpperBinID,
			numeric(pos.Shares), numeric(pos.BaseAmount), numeric(pos.QuoteAmount),
			pos.FeeDebtBase, pos.FeeDebtQuote,
			numeric(pos.FeesOwedBase), numeric(pos.FeesOwedQuote),
		)
	}
	for _, acct := range st.Stakes {
		batch.Queue(`
			INSERT INTO stake_accounts (stake_key, owner, amount, reward_debt_x64, owed, tier, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
			ON CONFLICT (stake_key)
			DO UPDATE SET
				amount = EXCLUDED.amount,
				reward_debt_x64 = EXCLUDED.reward_debt_x64,
				owed = EXCLUDED.owed,
				tier = EXCLUDED.tier,
				updated_at = now()
		`,
			acct.Key, acct.Owner, numeric(acct.Amount), acct.RewardDebtX64, numeric(acct.Owed), int32(acct.Tier),
		)
	}
	singletons := map[string]interface{}{"treasury": st.Treasury, "staking": st.Staking}
	for name, body := range singletons {
		batch.Queue(`
			INSERT INTO singletons (name, body, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
		`, name, body)
	}
	return s.sendBatch(ctx, batch)
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool_key, window_size_seconds, window_start_ts, window_end_ts,
				swap_count, volume_base, volume_quote, fee_base, fee_quote, protocol_fee_base, protocol_fee_quote,
				fee_rate_base, fee_rate_quote, tvl_base, tvl_quote, apr, last_active_bin_id, tvl_method,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now(),now())
			ON CONFLICT (pool_key, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				volume_base = EXCLUDED.volume_base,
				volume_quote = EXCLUDED.volume_quote,
				fee_base = EXCLUDED.fee_base,
				fee_quote = EXCLUDED.fee_quote,
				protocol_fee_base = EXCLUDED.protocol_fee_base,
				protocol_fee_quote = EXCLUDED.protocol_fee_quote,
				fee_rate_base = EXCLUDED.fee_rate_base,
				fee_rate_quote = EXCLUDED.fee_rate_quote,
				tvl_base = EXCLUDED.tvl_base,
				tvl_quote = EXCLUDED.tvl_quote,
				apr = EXCLUDED.apr,
				last_active_bin_id = EXCLUDED.last_active_bin_id,
				tvl_method = EXCLUDED.tvl_method,
				updated_at = now()
		`,
			m.Pool,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.SwapCount),
			m.VolumeBase,
			m.VolumeQuote,
			m.FeeBase,
			m.FeeQuote,
			m.ProtocolFeeBase,
			m.ProtocolFeeQuote,
			m.FeeRateBase,
			m.FeeRateQuote,
			m.TVLBase,
			m.TVLQuote,
			m.APR,
			m.LastActiveBinID,
			m.TVLMethod,
		)
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM pudl_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pudl_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

// numeric renders an amount for a NUMERIC column without int64 overflow.
func numeric(v uint64) string {
	return fmt.Sprintf("%d", v)
}
