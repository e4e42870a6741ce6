package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/engine"
)

// OpinionService handles the opinion registry: creation, answer trading,
// question sales, and the read path over snapshots.
type OpinionService struct {
	writer *Writer
	store  domain.OpinionStore
	hist   domain.AnswerHistoryStore
	cache  domain.OpinionCache
	logger *slog.Logger
}

// NewOpinionService creates an OpinionService with all required dependencies.
func NewOpinionService(
	writer *Writer,
	store domain.OpinionStore,
	hist domain.AnswerHistoryStore,
	cache domain.OpinionCache,
	logger *slog.Logger,
) *OpinionService {
	return &OpinionService{
		writer: writer,
		store:  store,
		hist:   hist,
		cache:  cache,
		logger: logger,
	}
}

// Create applies an opinion creation and persists the new record.
func (s *OpinionService) Create(ctx context.Context, caller common.Address, allowance uint64, args engine.CreateOpinionArgs) (domain.Opinion, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, allowance)
	o, events, err := w.eng.CreateOpinion(c, args)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := w.record(ctx, domain.OpCreateOpinion, c, args, events); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistOpinion(ctx, o); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistHistory(ctx, domain.AnswerHistoryEntry{
		OpinionID:   o.ID,
		Answer:      o.CurrentAnswer,
		Description: o.CurrentAnswerDescription,
		Owner:       o.Creator,
		Price:       o.NextPrice,
		Timestamp:   o.CreatedAt,
	}); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistFees(ctx, o.CreatedAt); err != nil {
		return domain.Opinion{}, err
	}

	s.logger.InfoContext(ctx, "opinion_service: created opinion",
		slog.Uint64("opinion_id", o.ID),
		slog.String("creator", caller.Hex()),
		slog.Uint64("initial_price", o.NextPrice),
	)
	return o, nil
}

// SubmitAnswer applies an answer trade and persists the updated snapshot,
// the new history row, and the displaced owners' fee balances.
func (s *OpinionService) SubmitAnswer(ctx context.Context, caller common.Address, allowance uint64, args engine.SubmitAnswerArgs) (domain.Opinion, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, err := w.eng.GetOpinion(args.OpinionID)
	if err != nil {
		return domain.Opinion{}, err
	}

	c := w.call(caller, allowance)
	o, events, err := w.eng.SubmitAnswer(c, args)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := w.record(ctx, domain.OpSubmitAnswer, c, args, events); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistOpinion(ctx, o); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistHistory(ctx, domain.AnswerHistoryEntry{
		OpinionID:   o.ID,
		Answer:      o.CurrentAnswer,
		Description: o.CurrentAnswerDescription,
		Owner:       o.CurrentAnswerOwner,
		Price:       o.LastPrice,
		Timestamp:   o.UpdatedAt,
	}); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistFees(ctx, o.UpdatedAt, prev.QuestionOwner, prev.CurrentAnswerOwner); err != nil {
		return domain.Opinion{}, err
	}

	s.logger.InfoContext(ctx, "opinion_service: answer traded",
		slog.Uint64("opinion_id", o.ID),
		slog.String("owner", caller.Hex()),
		slog.Uint64("paid", o.LastPrice),
		slog.Uint64("next_price", o.NextPrice),
	)
	return o, nil
}

// ListForSale lists or delists the question ownership.
func (s *OpinionService) ListForSale(ctx context.Context, caller common.Address, args engine.ListForSaleArgs) (domain.Opinion, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	o, events, err := w.eng.ListQuestionForSale(c, args)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := w.record(ctx, domain.OpListQuestionForSale, c, args, events); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistOpinion(ctx, o); err != nil {
		return domain.Opinion{}, err
	}
	return o, nil
}

// BuyQuestion transfers the question ownership to the caller.
func (s *OpinionService) BuyQuestion(ctx context.Context, caller common.Address, allowance uint64, args engine.BuyQuestionArgs) (domain.Opinion, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, err := w.eng.GetOpinion(args.OpinionID)
	if err != nil {
		return domain.Opinion{}, err
	}

	c := w.call(caller, allowance)
	o, events, err := w.eng.BuyQuestion(c, args)
	if err != nil {
		return domain.Opinion{}, err
	}
	if err := w.record(ctx, domain.OpBuyQuestion, c, args, events); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistOpinion(ctx, o); err != nil {
		return domain.Opinion{}, err
	}
	if err := w.persistFees(ctx, o.UpdatedAt, prev.QuestionOwner); err != nil {
		return domain.Opinion{}, err
	}

	s.logger.InfoContext(ctx, "opinion_service: question sold",
		slog.Uint64("opinion_id", o.ID),
		slog.String("seller", prev.QuestionOwner.Hex()),
		slog.String("buyer", caller.Hex()),
	)
	return o, nil
}

// Get retrieves an opinion snapshot, checking the cache first and falling
// back to the engine, then the persistent store.
func (s *OpinionService) Get(ctx context.Context, id uint64) (domain.Opinion, error) {
	o, err := s.cache.Get(ctx, id)
	if err == nil {
		return o, nil
	}

	// The engine holds the authoritative live state.
	o, err = s.writer.eng.GetOpinion(id)
	if err != nil {
		return domain.Opinion{}, err
	}

	if cacheErr := s.cache.Set(ctx, o); cacheErr != nil {
		s.logger.WarnContext(ctx, "opinion_service: cache set failed",
			slog.Uint64("opinion_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return o, nil
}

// List returns opinion snapshots from the persistent store.
func (s *OpinionService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Opinion, error) {
	opinions, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("opinion_service: list: %w", err)
	}
	return opinions, nil
}

// ListByCategory returns snapshots tagged with the category.
func (s *OpinionService) ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Opinion, error) {
	opinions, err := s.store.ListByCategory(ctx, category, opts)
	if err != nil {
		return nil, fmt.Errorf("opinion_service: list category %q: %w", category, err)
	}
	return opinions, nil
}

// History returns an opinion's answer log from the persistent store.
func (s *OpinionService) History(ctx context.Context, opinionID uint64, opts domain.ListOpts) ([]domain.AnswerHistoryEntry, error) {
	entries, err := s.hist.ListByOpinion(ctx, opinionID, opts)
	if err != nil {
		return nil, fmt.Errorf("opinion_service: history for %d: %w", opinionID, err)
	}
	return entries, nil
}

// Count returns the total number of opinions.
func (s *OpinionService) Count(ctx context.Context) (int64, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("opinion_service: count: %w", err)
	}
	return count, nil
}

// Categories returns the catalog of allowed categories.
func (s *OpinionService) Categories() []string {
	return s.writer.eng.AvailableCategories()
}
