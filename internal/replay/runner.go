package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pudl/internal/convert"
	"pudl/internal/errs"
	"pudl/internal/gate"
	"pudl/internal/ledger"
	"pudl/internal/model"
	"pudl/internal/protocol"
	"pudl/internal/storage"
)

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	Protocol protocol.Config
	// Desk, when set, converts fee mints without a pool route at
	// RateNum/RateDen PUDL per unit.
	Desk    common.Address
	RateNum uint64
	RateDen uint64
	// Quorum > 0 puts privileged actions behind a stake-weighted timelock.
	Quorum       uint64
	Delay        time.Duration
	BatchSize    int
	StatePath    string
	MaxRetries   int
	RetryBackoff time.Duration
	Start        time.Time
	StopOnError  bool
}

// SnapshotStore receives the final deployment records.
type SnapshotStore interface {
	SaveDeployment(ctx context.Context, st model.DeploymentState) error
}

// Summary counts what a replay did.
type Summary struct {
	Ops      uint64
	Applied  uint64
	Rejected uint64
	Events   uint64
}

// Runner applies an operation log to an in-process deployment and writes
// the resulting events to storage.
type Runner struct {
	cfg       RunConfig
	proto     *protocol.Protocol
	ledger    *ledger.Memory
	timelock  *gate.Timelock
	voted     map[string]struct{}
	buffer    *storage.Buffer
	sinks     []storage.Storage
	snapshots SnapshotStore
	state     *StateStore
	retry     backoff
	logger    *zap.Logger
	metrics   *Metrics
	now       time.Time
	summary   Summary
}

// NewRunner builds a Runner with a fresh in-memory ledger.
func NewRunner(cfg RunConfig, sinks []storage.Storage, snapshots SnapshotStore, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC()
	}

	r := &Runner{
		cfg:       cfg,
		ledger:    ledger.NewMemory(),
		buffer:    &storage.Buffer{},
		sinks:     sinks,
		snapshots: snapshots,
		state:     NewStateStore(cfg.StatePath),
		retry:     newBackoff(cfg.MaxRetries, cfg.RetryBackoff),
		voted:     make(map[string]struct{}),
		logger:    logger,
		now:       cfg.Start,
	}

	opts := protocol.Options{
		Ledger: r.ledger,
		Sink:   r.buffer,
		Clock:  r.clock,
		Logger: logger,
	}
	if cfg.Desk != (common.Address{}) {
		opts.Converter = &convert.FixedRate{Ledger: r.ledger, Desk: cfg.Desk, Num: cfg.RateNum, Den: cfg.RateDen}
	}
	if cfg.Quorum > 0 {
		r.timelock = gate.NewTimelock(cfg.Quorum, cfg.Delay, r.clock)
		opts.Gate = r.timelock
	}

	proto, err := protocol.New(cfg.Protocol, opts)
	if err != nil {
		return nil, err
	}
	r.proto = proto
	return r, nil
}

func (r *Runner) clock() time.Time { return r.now }

// UseMetrics records op outcomes and flush timings into m.
func (r *Runner) UseMetrics(m *Metrics) { r.metrics = m }

// Protocol exposes the replayed deployment.
func (r *Runner) Protocol() *protocol.Protocol { return r.proto }

// Ledger exposes the replayed balances.
func (r *Runner) Ledger() *ledger.Memory { return r.ledger }

// Run reads JSONL operations from in and applies them in order. Rejected
// operations are written to rejects as model.OpError lines when rejects
// is non-nil; they never stop the run unless StopOnError is set.
func (r *Runner) Run(ctx context.Context, in io.Reader, rejects io.Writer) (Summary, error) {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var rejectEnc *json.Encoder
	if rejects != nil {
		rejectEnc = json.NewEncoder(rejects)
	}

	var line uint64
	for scanner.Scan() {
		line++
		select {
		case <-ctx.Done():
			return r.summary, ctx.Err()
		default:
		}

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		r.summary.Ops++

		var op model.OpRecord
		if err := json.Unmarshal(raw, &op); err != nil {
			err = errs.Wrapf(errs.ErrInvalidParams, "decode op: %v", err)
			if rerr := r.reject(rejectEnc, line, op, err); rerr != nil {
				return r.summary, rerr
			}
			continue
		}

		if err := r.Apply(ctx, op); err != nil {
			if rerr := r.reject(rejectEnc, line, op, err); rerr != nil {
				return r.summary, rerr
			}
		} else {
			r.summary.Applied++
			r.metrics.observeOp(op.Op, "applied")
		}

		if r.summary.Ops%uint64(r.cfg.BatchSize) == 0 {
			if err := r.Flush(ctx); err != nil {
				return r.summary, err
			}
			r.logger.Info("batch complete", zap.Uint64("line", line), zap.Uint64("events", r.summary.Events))
		}
	}
	if err := scanner.Err(); err != nil {
		return r.summary, fmt.Errorf("scan ops: %w", err)
	}

	if err := r.Flush(ctx); err != nil {
		return r.summary, err
	}
	if err := r.proto.CheckVaults(ctx); err != nil {
		return r.summary, fmt.Errorf("vault check: %w", err)
	}
	if err := r.persist(ctx); err != nil {
		return r.summary, err
	}

	r.logger.Info("replay complete",
		zap.Uint64("ops", r.summary.Ops),
		zap.Uint64("applied", r.summary.Applied),
		zap.Uint64("rejected", r.summary.Rejected),
		zap.Uint64("events", r.summary.Events),
	)
	return r.summary, nil
}

// Apply runs a single operation against the deployment.
func (r *Runner) Apply(ctx context.Context, op model.OpRecord) error {
	if op.Timestamp > 0 {
		if ts := time.Unix(op.Timestamp, 0).UTC(); ts.After(r.now) {
			r.now = ts
		}
	}

	var caller common.Address
	if op.Caller != "" {
		addr, err := ParseAddress(op.Caller)
		if err != nil {
			return errs.Wrapf(errs.ErrInvalidParams, "caller: %v", err)
		}
		caller = addr
	}

	var (
		out interface{}
		err error
	)
	switch op.Op {
	case opPropose, opVote:
		err = r.govern(caller, op)
	default:
		out, err = r.apply(ctx, caller, op)
	}
	if err != nil {
		return err
	}
	r.logger.Debug("op applied", zap.String("op", op.Op), zap.Stringer("caller", caller), zap.Any("result", out))
	return nil
}

func (r *Runner) reject(enc *json.Encoder, line uint64, op model.OpRecord, err error) error {
	r.summary.Rejected++
	r.metrics.observeOp(op.Op, "rejected")
	r.logger.Debug("op rejected", zap.Uint64("line", line), zap.String("op", op.Op), zap.Error(err))
	if r.cfg.StopOnError {
		return fmt.Errorf("line %d %s: %w", line, op.Op, err)
	}
	if enc == nil {
		return nil
	}
	if werr := enc.Encode(opError(line, op, err)); werr != nil {
		return fmt.Errorf("write reject: %w", werr)
	}
	return nil
}

// Flush drains buffered events into every sink.
func (r *Runner) Flush(ctx context.Context) error {
	records := r.buffer.Drain()
	if len(records) == 0 {
		return nil
	}
	started := time.Now()
	for _, sink := range r.sinks {
		err := r.retry.do(ctx, r.logger, "store events", func(ctx context.Context) error {
			return sink.PutEventBatch(ctx, records)
		})
		if err != nil {
			return err
		}
	}
	r.summary.Events += uint64(len(records))
	r.metrics.observeFlush(len(records), time.Since(started).Seconds())
	return nil
}

func (r *Runner) persist(ctx context.Context) error {
	st := r.proto.State()
	if r.snapshots != nil {
		err := r.retry.do(ctx, r.logger, "save deployment", func(ctx context.Context) error {
			return r.snapshots.SaveDeployment(ctx, st)
		})
		if err != nil {
			return err
		}
	}
	return r.state.Save(r.summary.Ops, st)
}
