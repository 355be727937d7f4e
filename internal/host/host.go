package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/fees"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/store"
	"github.com/roach88/paystream/internal/stream"
	"github.com/roach88/paystream/internal/treasury"
)

// Host is the single-writer transactional runner.
type Host struct {
	mu        sync.Mutex
	store     *store.Store
	fees      fees.Schedule
	clock     engine.Clock
	sink      event.Sink
	tokens    engine.TokenGenerator
	logger    *slog.Logger
	collector solana.PublicKey
}

// Option configures a Host.
type Option func(*Host)

// WithClock sets the clock. Default: engine.SystemClock resumed from the
// last stored event sequence.
func WithClock(c engine.Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithSink sets the sink that receives committed events. Default: event.Discard.
func WithSink(s event.Sink) Option {
	return func(h *Host) { h.sink = s }
}

// WithTokens sets the correlation token generator. Default: engine.UUIDv7Generator.
func WithTokens(g engine.TokenGenerator) Option {
	return func(h *Host) { h.tokens = g }
}

// WithLogger sets the logger. Default: a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithFeeCollector overrides engine.DefaultFeeCollector.
func WithFeeCollector(k solana.PublicKey) Option {
	return func(h *Host) { h.collector = k }
}

// New creates a Host over an open store.
func New(ctx context.Context, st *store.Store, schedule fees.Schedule, opts ...Option) (*Host, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("fee schedule: %w", err)
	}
	h := &Host{
		store:     st,
		fees:      schedule,
		sink:      event.Discard{},
		tokens:    engine.UUIDv7Generator{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		collector: engine.DefaultFeeCollector,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		last, err := st.LastSeq(ctx)
		if err != nil {
			return nil, err
		}
		h.clock = engine.NewSystemClockAt(last)
	}
	return h, nil
}

// Store returns the underlying store for read-only queries.
func (h *Host) Store() *store.Store {
	return h.store
}

// Fees returns the schedule the host charges.
func (h *Host) Fees() fees.Schedule {
	return h.fees
}

// FeeCollector returns the account that receives protocol fees.
func (h *Host) FeeCollector() solana.PublicKey {
	return h.collector
}

// opFunc is the body of one operation inside its transaction.
type opFunc func(ctx context.Context, tx *store.Tx, e *engine.Engine, tick engine.Tick) error

// run executes fn in a fresh transaction and commits if it succeeds.
func (h *Host) run(ctx context.Context, op string, fn opFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tick := h.clock.Now()
	rec := &event.Recorder{}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	e, err := engine.New(h.fees, tx,
		engine.WithSink(rec),
		engine.WithTokens(h.tokens),
		engine.WithLogger(h.logger),
		engine.WithFeeCollector(h.collector),
	)
	if err != nil {
		return err
	}

	if err := fn(ctx, tx, e, tick); err != nil {
		h.logger.ErrorContext(ctx, "operation failed",
			"op", op,
			"seq", tick.Seq,
			"time", tick.Time,
			"error", err,
		)
		return err
	}

	evs := rec.Events()
	for _, ev := range evs {
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	h.logger.InfoContext(ctx, "operation committed",
		"op", op,
		"seq", tick.Seq,
		"time", tick.Time,
		"events", len(evs),
	)
	for _, ev := range evs {
		h.sink.Notify(ctx, ev)
	}
	return nil
}

// CreateTreasury creates a treasury at req.Key. The key must be unused.
func (h *Host) CreateTreasury(ctx context.Context, req engine.CreateTreasuryRequest) (*treasury.Treasury, error) {
	const op = "create_treasury"
	var out *treasury.Treasury
	err := h.run(ctx, op, func(ctx context.Context, tx *store.Tx, e *engine.Engine, tick engine.Tick) error {
		if _, err := tx.LoadTreasury(ctx, req.Key); !errors.Is(err, store.ErrNotFound) {
			if err == nil {
				return opError(op, engine.CodeInvalidTreasury, fmt.Errorf("treasury %s already exists", req.Key))
			}
			return storeError(op, err, engine.CodeInvalidTreasury)
		}
		tr, err := e.CreateTreasury(ctx, tick, req)
		if err != nil {
			return err
		}
		if err := tx.SaveTreasury(ctx, req.Key, tr); err != nil {
			return err
		}
		out = tr
		return nil
	})
	return out, err
}

// AddFunds deposits into a treasury.
func (h *Host) AddFunds(ctx context.Context, treasuryKey solana.PublicKey, req engine.AddFundsRequest) error {
	return h.withTreasury(ctx, "add_funds", treasuryKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef) error {
		return e.AddFunds(ctx, tick, t, req)
	})
}

// TreasuryWithdraw moves unallocated funds out of a treasury.
func (h *Host) TreasuryWithdraw(ctx context.Context, treasuryKey solana.PublicKey, req engine.TreasuryWithdrawRequest) error {
	return h.withTreasury(ctx, "treasury_withdraw", treasuryKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef) error {
		return e.TreasuryWithdraw(ctx, tick, t, req)
	})
}

// CloseTreasury empties a treasury and deletes its record.
func (h *Host) CloseTreasury(ctx context.Context, treasuryKey solana.PublicKey, req engine.CloseTreasuryRequest) error {
	return h.withTreasury(ctx, "close_treasury", treasuryKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef) error {
		return e.CloseTreasury(ctx, tick, t, req)
	})
}

// RefreshTreasuryData re-reads a treasury's balance from the ledger.
func (h *Host) RefreshTreasuryData(ctx context.Context, treasuryKey solana.PublicKey) error {
	return h.withTreasury(ctx, "refresh_treasury_data", treasuryKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef) error {
		return e.RefreshTreasuryData(ctx, tick, t)
	})
}

// RefreshAll refreshes every treasury, each in its own transaction. It keeps
// going after a failure and returns the failures joined.
func (h *Host) RefreshAll(ctx context.Context) (int, error) {
	records, err := h.store.ListTreasuries(ctx)
	if err != nil {
		return 0, err
	}
	var (
		errs []error
		done int
	)
	for _, r := range records {
		if err := h.RefreshTreasuryData(ctx, r.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// CreateStream creates a stream at req.Key backed by the treasury. The key
// must be unused.
func (h *Host) CreateStream(ctx context.Context, treasuryKey solana.PublicKey, req engine.CreateStreamRequest) (*stream.Stream, error) {
	const op = "create_stream"
	var out *stream.Stream
	err := h.run(ctx, op, func(ctx context.Context, tx *store.Tx, e *engine.Engine, tick engine.Tick) error {
		t, err := loadTreasury(ctx, op, tx, treasuryKey)
		if err != nil {
			return err
		}
		if _, err := tx.LoadStream(ctx, req.Key); !errors.Is(err, store.ErrNotFound) {
			if err == nil {
				return opError(op, engine.CodeInvalidArgument, fmt.Errorf("stream %s already exists", req.Key))
			}
			return storeError(op, err, engine.CodeInvalidArgument)
		}

		s, err := e.CreateStream(ctx, tick, t, req)
		if err != nil {
			return err
		}
		if err := saveTreasury(ctx, tx, t); err != nil {
			return err
		}
		if err := tx.SaveStream(ctx, req.Key, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Withdraw pays a beneficiary from their stream.
func (h *Host) Withdraw(ctx context.Context, streamKey solana.PublicKey, req engine.WithdrawRequest) error {
	return h.withStream(ctx, "withdraw", streamKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef, st engine.StreamRef) error {
		return e.Withdraw(ctx, tick, t, st, req)
	})
}

// Allocate tops up a stream from its treasury.
func (h *Host) Allocate(ctx context.Context, streamKey solana.PublicKey, req engine.AllocateRequest) error {
	return h.withStream(ctx, "allocate", streamKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef, st engine.StreamRef) error {
		return e.Allocate(ctx, tick, t, st, req)
	})
}

// PauseStream manually pauses a running stream.
func (h *Host) PauseStream(ctx context.Context, streamKey, caller solana.PublicKey) error {
	return h.withStream(ctx, "pause_stream", streamKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef, st engine.StreamRef) error {
		return e.PauseStream(ctx, tick, t, st, caller)
	})
}

// ResumeStream resumes a manually paused stream.
func (h *Host) ResumeStream(ctx context.Context, streamKey, caller solana.PublicKey) error {
	return h.withStream(ctx, "resume_stream", streamKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef, st engine.StreamRef) error {
		return e.ResumeStream(ctx, tick, t, st, caller)
	})
}

// CloseStream settles a stream and deletes its record. Closing the last
// stream of an auto-close treasury closes the treasury too, paying what is
// left to the treasurer.
func (h *Host) CloseStream(ctx context.Context, streamKey solana.PublicKey, req engine.CloseStreamRequest) error {
	return h.withStream(ctx, "close_stream", streamKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef, st engine.StreamRef) error {
		if err := e.CloseStream(ctx, tick, t, st, req); err != nil {
			return err
		}
		if !t.Record.AutoClose || t.Record.TotalStreams > 0 {
			return nil
		}
		return e.CloseTreasury(ctx, h.clock.Now(), t, engine.CloseTreasuryRequest{
			Treasurer:   req.Treasurer,
			Destination: req.Treasurer,
			Payer:       req.Payer,
		})
	})
}

// TransferStream hands a stream to a new beneficiary.
func (h *Host) TransferStream(ctx context.Context, streamKey solana.PublicKey, req engine.TransferStreamRequest) error {
	return h.withStream(ctx, "transfer_stream", streamKey, func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef, st engine.StreamRef) error {
		return e.TransferStream(ctx, tick, t, st, req)
	})
}

// GetStream returns the derived view of a stream at the current tick. Nothing
// is written.
func (h *Host) GetStream(ctx context.Context, streamKey solana.PublicKey) (stream.View, error) {
	const op = "get_stream"
	h.mu.Lock()
	tick := h.clock.Now()
	h.mu.Unlock()

	s, err := h.store.Stream(ctx, streamKey)
	if err != nil {
		return stream.View{}, storeError(op, err, engine.CodeStreamNotInitialized)
	}
	e, err := engine.New(h.fees, ledger.NewMemory(), engine.WithLogger(h.logger))
	if err != nil {
		return stream.View{}, err
	}
	return e.GetStream(tick, engine.StreamRef{Key: streamKey, Record: s})
}

// Fund credits funding units to owner's holding account for mint. It is the
// only way value enters the sqlite ledger and is meant for local use.
func (h *Host) Fund(ctx context.Context, owner, mint solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	holding, err := ledger.HoldingAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	err = h.store.Update(ctx, func(tx *store.Tx) error {
		return tx.Credit(ctx, holding, amount)
	})
	if err != nil {
		return solana.PublicKey{}, err
	}
	h.logger.InfoContext(ctx, "holding funded", "owner", owner, "holding", holding, "amount", amount)
	return holding, nil
}

// FundFeeCurrency credits fee currency to an account.
func (h *Host) FundFeeCurrency(ctx context.Context, account solana.PublicKey, amount uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.store.Update(ctx, func(tx *store.Tx) error {
		return tx.CreditFeeCurrency(ctx, account, amount)
	})
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "fee currency funded", "account", account, "amount", amount)
	return nil
}

type treasuryFunc func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef) error

// withTreasury loads a treasury, runs fn, and persists the treasury.
func (h *Host) withTreasury(ctx context.Context, op string, key solana.PublicKey, fn treasuryFunc) error {
	return h.run(ctx, op, func(ctx context.Context, tx *store.Tx, e *engine.Engine, tick engine.Tick) error {
		t, err := loadTreasury(ctx, op, tx, key)
		if err != nil {
			return err
		}
		if err := fn(ctx, e, tick, t); err != nil {
			return err
		}
		return saveTreasury(ctx, tx, t)
	})
}

type streamFunc func(ctx context.Context, e *engine.Engine, tick engine.Tick, t engine.TreasuryRef, st engine.StreamRef) error

// withStream loads a stream and the treasury it points at, runs fn, and
// persists both.
func (h *Host) withStream(ctx context.Context, op string, key solana.PublicKey, fn streamFunc) error {
	return h.run(ctx, op, func(ctx context.Context, tx *store.Tx, e *engine.Engine, tick engine.Tick) error {
		s, err := tx.LoadStream(ctx, key)
		if err != nil {
			return storeError(op, err, engine.CodeStreamNotInitialized)
		}
		t, err := loadTreasury(ctx, op, tx, s.Treasury)
		if err != nil {
			return err
		}
		st := engine.StreamRef{Key: key, Record: s}

		if err := fn(ctx, e, tick, t, st); err != nil {
			return err
		}
		if err := saveStream(ctx, tx, st); err != nil {
			return err
		}
		return saveTreasury(ctx, tx, t)
	})
}
