package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// PoolService handles crowdfunding pools: creation, contributions,
// execution side effects, and refunds.
type PoolService struct {
	writer *Writer
	store  domain.PoolStore
	logger *slog.Logger
}

// NewPoolService creates a PoolService with all required dependencies.
func NewPoolService(writer *Writer, store domain.PoolStore, logger *slog.Logger) *PoolService {
	return &PoolService{writer: writer, store: store, logger: logger}
}

// Create opens a pool and persists it along with the creator's seed
// contribution. A pool funded entirely by its seed executes immediately.
func (s *PoolService) Create(ctx context.Context, caller common.Address, allowance uint64, args engine.CreatePoolArgs) (domain.Pool, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, allowance)
	p, events, err := w.eng.CreatePool(c, args)
	if err != nil {
		return domain.Pool{}, err
	}
	if err := w.record(ctx, domain.OpCreatePool, c, args, events); err != nil {
		return domain.Pool{}, err
	}
	if err := s.persistAfterPoolChange(ctx, p, caller, events); err != nil {
		return domain.Pool{}, err
	}

	s.logger.InfoContext(ctx, "pool_service: created pool",
		slog.Uint64("pool_id", p.ID),
		slog.Uint64("opinion_id", p.OpinionID),
		slog.String("creator", caller.Hex()),
		slog.Uint64("target_price", p.TargetPrice),
	)
	return p, nil
}

// Contribute adds funds to a pool, persisting the updated ledger. When the
// contribution completes the pool, the executed trade's side effects are
// persisted too.
func (s *PoolService) Contribute(ctx context.Context, caller common.Address, allowance uint64, args engine.ContributeArgs) (domain.Pool, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, allowance)
	p, events, err := w.eng.ContributeToPool(c, args)
	if err != nil {
		return domain.Pool{}, err
	}
	if err := w.record(ctx, domain.OpContributeToPool, c, args, events); err != nil {
		return domain.Pool{}, err
	}
	if err := s.persistAfterPoolChange(ctx, p, caller, events); err != nil {
		return domain.Pool{}, err
	}

	if p.Status == domain.PoolStatusExecuted {
		s.logger.InfoContext(ctx, "pool_service: pool executed",
			slog.Uint64("pool_id", p.ID),
			slog.Uint64("opinion_id", p.OpinionID),
			slog.Uint64("paid", p.TotalAmount),
		)
	}
	return p, nil
}

// persistAfterPoolChange writes through the pool snapshot, the caller's
// contribution row, and, when the pool executed, the updated opinion with
// its new history row and the fee snapshot.
func (s *PoolService) persistAfterPoolChange(ctx context.Context, p domain.Pool, caller common.Address, events []domain.Event) error {
	w := s.writer
	if err := w.persistPool(ctx, p); err != nil {
		return err
	}
	contribs, err := w.eng.PoolContributors(p.ID)
	if err != nil {
		return fmt.Errorf("pool_service: contributors for %d: %w", p.ID, err)
	}
	for _, c := range contribs {
		if c.Contributor != caller {
			continue
		}
		c.UpdatedAt = p.UpdatedAt
		if err := w.persistContribution(ctx, c); err != nil {
			return err
		}
	}

	executed := false
	for _, ev := range events {
		if ev.Kind == domain.EventPoolExecuted {
			executed = true
		}
	}
	if !executed {
		return nil
	}

	o, err := w.eng.GetOpinion(p.OpinionID)
	if err != nil {
		return fmt.Errorf("pool_service: opinion %d after execution: %w", p.OpinionID, err)
	}
	if err := w.persistOpinion(ctx, o); err != nil {
		return err
	}
	if err := w.persistHistory(ctx, domain.AnswerHistoryEntry{
		OpinionID:   o.ID,
		Answer:      o.CurrentAnswer,
		Description: o.CurrentAnswerDescription,
		Owner:       o.CurrentAnswerOwner,
		Price:       o.LastPrice,
		Timestamp:   o.UpdatedAt,
	}); err != nil {
		return err
	}
	// Execution splits fees to owners the service cannot cheaply name, so
	// write the full balance snapshot.
	for _, b := range w.eng.FeeBalanceSnapshot(o.UpdatedAt) {
		if err := w.stores.Fees.UpsertBalance(ctx, b); err != nil {
			return fmt.Errorf("pool_service: persist fee balance %s: %w", b.Account.Hex(), err)
		}
	}
	if err := w.stores.Fees.SetTotals(ctx, w.eng.FeeTotals()); err != nil {
		return fmt.Errorf("pool_service: persist fee totals: %w", err)
	}
	return nil
}

// WithdrawExpired refunds the caller's contribution from an expired pool.
func (s *PoolService) WithdrawExpired(ctx context.Context, caller common.Address, args engine.PoolIDArgs) (uint64, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	amount, events, err := w.eng.WithdrawFromExpiredPool(c, args)
	if err != nil {
		return 0, err
	}
	if err := w.record(ctx, domain.OpWithdrawExpiredPool, c, args, events); err != nil {
		return 0, err
	}
	p, err := w.eng.GetPool(args.PoolID)
	if err != nil {
		return 0, err
	}
	if err := w.persistPool(ctx, p); err != nil {
		return 0, err
	}
	if err := w.persistContribution(ctx, domain.PoolContribution{
		PoolID:      p.ID,
		Contributor: caller,
		Amount:      0,
		UpdatedAt:   p.UpdatedAt,
	}); err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "pool_service: refund from expired pool",
		slog.Uint64("pool_id", p.ID),
		slog.String("contributor", caller.Hex()),
		slog.Uint64("amount", amount),
	)
	return amount, nil
}

// EarlyWithdraw exits an active pool before its deadline for a penalty.
func (s *PoolService) EarlyWithdraw(ctx context.Context, caller common.Address, args engine.PoolIDArgs) (uint64, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	refund, events, err := w.eng.EarlyWithdraw(c, args)
	if err != nil {
		return 0, err
	}
	if err := w.record(ctx, domain.OpEarlyWithdraw, c, args, events); err != nil {
		return 0, err
	}
	p, err := w.eng.GetPool(args.PoolID)
	if err != nil {
		return 0, err
	}
	if err := w.persistPool(ctx, p); err != nil {
		return 0, err
	}
	if err := w.persistContribution(ctx, domain.PoolContribution{
		PoolID:      p.ID,
		Contributor: caller,
		Amount:      0,
		UpdatedAt:   p.UpdatedAt,
	}); err != nil {
		return 0, err
	}
	if err := w.stores.Fees.SetTotals(ctx, w.eng.FeeTotals()); err != nil {
		return 0, fmt.Errorf("pool_service: persist fee totals: %w", err)
	}

	s.logger.InfoContext(ctx, "pool_service: early withdrawal",
		slog.Uint64("pool_id", p.ID),
		slog.String("contributor", caller.Hex()),
		slog.Uint64("refund", refund),
	)
	return refund, nil
}

// Get retrieves a pool from the engine's live state.
func (s *PoolService) Get(ctx context.Context, id uint64) (domain.Pool, error) {
	return s.writer.eng.GetPool(id)
}

// Contributors returns a pool's contribution ledger.
func (s *PoolService) Contributors(ctx context.Context, id uint64) ([]domain.PoolContribution, error) {
	return s.writer.eng.PoolContributors(id)
}

// ListByOpinion returns a target opinion's pools from the persistent store.
func (s *PoolService) ListByOpinion(ctx context.Context, opinionID uint64, opts domain.ListOpts) ([]domain.Pool, error) {
	pools, err := s.store.ListByOpinion(ctx, opinionID, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list for opinion %d: %w", opinionID, err)
	}
	return pools, nil
}

// ListByStatus returns pools with the given status from the persistent store.
func (s *PoolService) ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	pools, err := s.store.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list status %s: %w", status, err)
	}
	return pools, nil
}
