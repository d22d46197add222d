// Package sqlite is a single-file store for replays that run without a
// Postgres server. It mirrors the postgres store's surface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pudl/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS protocol_events (
	seq INTEGER PRIMARY KEY,
	version INTEGER NOT NULL,
	name TEXT NOT NULL,
	entity TEXT NOT NULL,
	ts INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS protocol_events_entity ON protocol_events (entity, ts);
CREATE TABLE IF NOT EXISTS snapshots (
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (kind, key)
);
CREATE TABLE IF NOT EXISTS pool_window_metrics (
	pool_key TEXT NOT NULL,
	window_size_seconds INTEGER NOT NULL,
	window_start_ts INTEGER NOT NULL,
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (pool_key, window_size_seconds, window_start_ts)
);
CREATE TABLE IF NOT EXISTS pudl_state (
	name TEXT PRIMARY KEY,
	last_processed_ts INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Snapshot kinds stored in the snapshots table.
const (
	KindPool     = "pool"
	KindBins     = "bins"
	KindPosition = "position"
	KindStake    = "stake"
	KindTreasury = "treasury"
	KindStaking  = "staking"
)

// Store persists events, snapshots and metrics in a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// one writer keeps transactions serialized on the file
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutEventBatch appends events, skipping sequence numbers already stored.
func (s *Store) PutEventBatch(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO protocol_events (seq, version, name, entity, ts, payload)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, int64(rec.Seq), rec.Version, rec.Name, rec.Entity, rec.Timestamp, string(rec.Payload)); err != nil {
				return fmt.Errorf("insert event %d: %w", rec.Seq, err)
			}
		}
		return nil
	})
}

// Events returns stored events in sequence order.
func (s *Store) Events(ctx context.Context) ([]model.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, version, name, entity, ts, payload FROM protocol_events ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var (
			rec     model.EventRecord
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &rec.Version, &rec.Name, &rec.Entity, &rec.Timestamp, &payload); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveDeployment upserts every record of the deployment as JSON bodies.
func (s *Store) SaveDeployment(ctx context.Context, st model.DeploymentState) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO snapshots (kind, key, body, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (kind, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		put := func(kind, key string, body interface{}) error {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal %s %s: %w", kind, key, err)
			}
			if _, err := stmt.ExecContext(ctx, kind, key, string(data), now); err != nil {
				return fmt.Errorf("upsert %s %s: %w", kind, key, err)
			}
			return nil
		}

		for _, p := range st.Pools {
			if err := put(KindPool, p.Key, p); err != nil {
				return err
			}
		}
		for pool, bins := range st.Bins {
			if err := put(KindBins, pool, bins); err != nil {
				return err
			}
		}
		for _, pos := range st.Positions {
			if err := put(KindPosition, pos.Key, pos); err != nil {
				return err
			}
		}
		for _, acct := range st.Stakes {
			if err := put(KindStake, acct.Key, acct); err != nil {
				return err
			}
		}
		if err := put(KindTreasury, KindTreasury, st.Treasury); err != nil {
			return err
		}
		return put(KindStaking, KindStaking, st.Staking)
	})
}

// Snapshot decodes one stored record into v.
func (s *Store) Snapshot(ctx context.Context, kind, key string, v interface{}) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE kind = ? AND key = ?`, kind, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", kind, key, err)
	}
	return true, nil
}

// UpsertWindowMetrics inserts or replaces window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pool_window_metrics (pool_key, window_size_seconds, window_start_ts, body, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (pool_key, window_size_seconds, window_start_ts)
			DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range metrics {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("marshal metrics: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, m.Pool, m.WindowSizeSecs, m.WindowStart.Unix(), string(data), now); err != nil {
				return fmt.Errorf("upsert metrics %s: %w", m.Pool, err)
			}
		}
		return nil
	})
}

// WindowMetrics returns stored metrics for a pool ordered by window start.
func (s *Store) WindowMetrics(ctx context.Context, pool string) ([]model.PoolWindowMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM pool_window_metrics WHERE pool_key = ? ORDER BY window_size_seconds, window_start_ts`, pool)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PoolWindowMetrics
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m model.PoolWindowMetrics
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT last_processed_ts FROM pudl_state WHERE name = ?`, name).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pudl_state (name, last_processed_ts, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET last_processed_ts = excluded.last_processed_ts, updated_at = excluded.updated_at`,
		name, int64(ts), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
