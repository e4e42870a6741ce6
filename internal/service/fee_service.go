package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// withdrawPlatformArgs is the journaled argument set of OpWithdrawPlatform.
type withdrawPlatformArgs struct {
	To common.Address `json:"to"`
}

// claimArgs is the (empty) journaled argument set of OpClaimFees.
type claimArgs struct{}

// FeeService handles pull-based fee claiming and the treasury sweep.
type FeeService struct {
	writer *Writer
	store  domain.FeeStore
	logger *slog.Logger
}

// NewFeeService creates a FeeService with all required dependencies.
func NewFeeService(writer *Writer, store domain.FeeStore, logger *slog.Logger) *FeeService {
	return &FeeService{writer: writer, store: store, logger: logger}
}

// Claim transfers the caller's full claimable balance out of the ledger.
// Claiming works even while the engine is paused.
func (s *FeeService) Claim(ctx context.Context, caller common.Address) (uint64, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	amount, ev, err := w.eng.ClaimFees(c)
	if err != nil {
		return 0, err
	}
	if err := w.record(ctx, domain.OpClaimFees, c, claimArgs{}, []domain.Event{ev}); err != nil {
		return 0, err
	}
	if err := w.persistFees(ctx, c.Time, caller); err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "fee_service: claimed",
		slog.String("account", caller.Hex()),
		slog.Uint64("amount", amount),
	)
	return amount, nil
}

// WithdrawPlatform sweeps the ledger-held platform share to the given
// destination. Treasury role required.
func (s *FeeService) WithdrawPlatform(ctx context.Context, caller, to common.Address) (uint64, error) {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	c := w.call(caller, 0)
	amount, err := w.eng.WithdrawPlatformFees(c, to)
	if err != nil {
		return 0, err
	}
	if err := w.record(ctx, domain.OpWithdrawPlatform, c, withdrawPlatformArgs{To: to}, nil); err != nil {
		return 0, err
	}
	if err := w.persistFees(ctx, c.Time); err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "fee_service: platform fees swept",
		slog.String("to", to.Hex()),
		slog.Uint64("amount", amount),
	)
	return amount, nil
}

// Balance returns an account's claimable balance from the engine's live
// ledger.
func (s *FeeService) Balance(ctx context.Context, account common.Address) uint64 {
	return s.writer.eng.AccumulatedFees(account)
}

// Totals returns the ledger's audit counters.
func (s *FeeService) Totals(ctx context.Context) domain.FeeTotals {
	return s.writer.eng.FeeTotals()
}

// ListBalances returns persisted claimable balances, largest first.
func (s *FeeService) ListBalances(ctx context.Context, opts domain.ListOpts) ([]domain.FeeBalance, error) {
	balances, err := s.store.ListBalances(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("fee_service: list balances: %w", err)
	}
	return balances, nil
}
