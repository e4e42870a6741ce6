package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpinionStore persists opinion snapshots. The engine's in-memory state is
// authoritative; the store is a write-through snapshot for the read path and
// cold starts.
type OpinionStore interface {
	Upsert(ctx context.Context, o Opinion) error
	GetByID(ctx context.Context, id uint64) (Opinion, error)
	List(ctx context.Context, opts ListOpts) ([]Opinion, error)
	ListByCategory(ctx context.Context, category string, opts ListOpts) ([]Opinion, error)
	Count(ctx context.Context) (int64, error)
}

// AnswerHistoryStore persists the append-only answer log.
type AnswerHistoryStore interface {
	Append(ctx context.Context, e AnswerHistoryEntry) error
	ListByOpinion(ctx context.Context, opinionID uint64, opts ListOpts) ([]AnswerHistoryEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AnswerHistoryEntry, error)
}

// PoolStore persists pool snapshots and their contributor maps.
type PoolStore interface {
	Upsert(ctx context.Context, p Pool) error
	GetByID(ctx context.Context, id uint64) (Pool, error)
	ListByOpinion(ctx context.Context, opinionID uint64, opts ListOpts) ([]Pool, error)
	ListByStatus(ctx context.Context, status PoolStatus, opts ListOpts) ([]Pool, error)
	UpsertContribution(ctx context.Context, c PoolContribution) error
	ListContributions(ctx context.Context, poolID uint64) ([]PoolContribution, error)
}

// FeeStore persists claimable balances and ledger totals.
type FeeStore interface {
	UpsertBalance(ctx context.Context, b FeeBalance) error
	GetBalance(ctx context.Context, account common.Address) (FeeBalance, error)
	ListBalances(ctx context.Context, opts ListOpts) ([]FeeBalance, error)
	SetTotals(ctx context.Context, t FeeTotals) error
	GetTotals(ctx context.Context) (FeeTotals, error)
}

// JournalStore persists the append-only trade journal that replay rebuilds
// engine state from.
type JournalStore interface {
	Append(ctx context.Context, e JournalEntry) error
	ListFrom(ctx context.Context, fromSeq uint64, limit int) ([]JournalEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]JournalEntry, error)
	LastSeq(ctx context.Context) (uint64, error)
}
