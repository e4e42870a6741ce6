// Package service coordinates the state engine with persistence, caching,
// and event delivery. All writes funnel through a single Writer so the
// engine sees one total call order; reads go straight to the cache and
// stores.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// EventChannel is the pub/sub channel committed engine events are published
// on.
const EventChannel = "engine.events"

// EventStream is the durable stream committed events are appended to for
// consumers that must not miss entries.
const EventStream = "engine.events.stream"

// streamAppender is the optional durable-stream capability of a signal bus.
type streamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Stores bundles the persistent stores the writer snapshots into.
type Stores struct {
	Opinions domain.OpinionStore
	History  domain.AnswerHistoryStore
	Pools    domain.PoolStore
	Fees     domain.FeeStore
	Journal  domain.JournalStore
}

// Writer owns the engine and serializes every mutation. A successful call is
// journaled, its snapshots written through to the stores, stale cache
// entries invalidated, and its events published. A failed call leaves no
// trace anywhere.
type Writer struct {
	mu     sync.Mutex
	eng    *engine.Engine
	stores Stores
	cache  domain.OpinionCache
	bus    domain.SignalBus
	logger *slog.Logger

	blockWindow time.Duration
	now         func() time.Time
}

// NewWriter creates a Writer around an engine. blockWindow is the wall-clock
// span mapped to one throttling block.
func NewWriter(
	eng *engine.Engine,
	stores Stores,
	cache domain.OpinionCache,
	bus domain.SignalBus,
	blockWindow time.Duration,
	logger *slog.Logger,
) *Writer {
	if blockWindow <= 0 {
		blockWindow = 12 * time.Second
	}
	return &Writer{
		eng:         eng,
		stores:      stores,
		cache:       cache,
		bus:         bus,
		logger:      logger,
		blockWindow: blockWindow,
		now:         time.Now,
	}
}

// Engine exposes the wrapped engine for read-only snapshot queries. Callers
// must not mutate through it.
func (w *Writer) Engine() *engine.Engine { return w.eng }

// call builds the engine call for a new submission. The block number is the
// current wall-clock time quantized to the block window, which makes the
// throttle a real-time window while staying replayable from the journal.
func (w *Writer) call(caller common.Address, allowance uint64) engine.Call {
	now := w.now().UTC()
	return engine.Call{
		Caller:    caller,
		Allowance: allowance,
		Block:     uint64(now.Unix()) / uint64(w.blockWindow.Seconds()),
		Time:      now,
	}
}

// record journals a committed call and publishes its events. The journal
// append must succeed: a transition applied in memory but missing from the
// journal would be lost on replay.
func (w *Writer) record(ctx context.Context, op domain.Op, c engine.Call, args any, events []domain.Event) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("writer: marshal %s args: %w", op, err)
	}
	entry := domain.JournalEntry{
		Seq:       w.eng.Seq(),
		Op:        op,
		Caller:    c.Caller,
		Allowance: c.Allowance,
		Block:     c.Block,
		Args:      raw,
		CreatedAt: c.Time,
	}
	if err := w.stores.Journal.Append(ctx, entry); err != nil {
		w.logger.ErrorContext(ctx, "writer: journal append failed, state diverges from journal",
			slog.Uint64("seq", entry.Seq),
			slog.String("op", string(op)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("writer: journal %s seq=%d: %w", op, entry.Seq, err)
	}
	for _, ev := range events {
		w.publish(ctx, ev)
	}
	return nil
}

// publish fans a committed event out to the pub/sub channel and the durable
// stream. Delivery failures are logged, never surfaced: the journal already
// holds the truth.
func (w *Writer) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		w.logger.WarnContext(ctx, "writer: marshal event failed",
			slog.String("kind", ev.Kind),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := w.bus.Publish(ctx, EventChannel, payload); err != nil {
		w.logger.WarnContext(ctx, "writer: publish event failed",
			slog.String("kind", ev.Kind),
			slog.String("error", err.Error()),
		)
	}
	if sa, ok := w.bus.(streamAppender); ok {
		if err := sa.StreamAppend(ctx, EventStream, payload); err != nil {
			w.logger.WarnContext(ctx, "writer: stream append failed",
				slog.String("kind", ev.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
}

// persistOpinion writes through an opinion snapshot and drops the stale
// cache entry.
func (w *Writer) persistOpinion(ctx context.Context, o domain.Opinion) error {
	if err := w.stores.Opinions.Upsert(ctx, o); err != nil {
		return fmt.Errorf("writer: persist opinion %d: %w", o.ID, err)
	}
	if err := w.cache.Invalidate(ctx, o.ID); err != nil {
		w.logger.WarnContext(ctx, "writer: cache invalidate failed",
			slog.Uint64("opinion_id", o.ID),
			slog.String("error", err.Error()),
		)
		// Non-fatal: the entry expires on its own TTL.
	}
	return nil
}

func (w *Writer) persistHistory(ctx context.Context, e domain.AnswerHistoryEntry) error {
	if err := w.stores.History.Append(ctx, e); err != nil {
		return fmt.Errorf("writer: persist answer history for opinion %d: %w", e.OpinionID, err)
	}
	return nil
}

func (w *Writer) persistPool(ctx context.Context, p domain.Pool) error {
	if err := w.stores.Pools.Upsert(ctx, p); err != nil {
		return fmt.Errorf("writer: persist pool %d: %w", p.ID, err)
	}
	return nil
}

func (w *Writer) persistContribution(ctx context.Context, c domain.PoolContribution) error {
	if err := w.stores.Pools.UpsertContribution(ctx, c); err != nil {
		return fmt.Errorf("writer: persist contribution pool=%d: %w", c.PoolID, err)
	}
	return nil
}

// persistFees writes through the balances of the named accounts plus the
// ledger totals.
func (w *Writer) persistFees(ctx context.Context, at time.Time, accounts ...common.Address) error {
	seen := make(map[common.Address]bool, len(accounts))
	for _, a := range accounts {
		if seen[a] {
			continue
		}
		seen[a] = true
		b := domain.FeeBalance{Account: a, Amount: w.eng.AccumulatedFees(a), UpdatedAt: at}
		if err := w.stores.Fees.UpsertBalance(ctx, b); err != nil {
			return fmt.Errorf("writer: persist fee balance %s: %w", a.Hex(), err)
		}
	}
	if err := w.stores.Fees.SetTotals(ctx, w.eng.FeeTotals()); err != nil {
		return fmt.Errorf("writer: persist fee totals: %w", err)
	}
	return nil
}
