package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// FeeStore implements domain.FeeStore using PostgreSQL.
type FeeStore struct {
	pool *pgxpool.Pool
}

// NewFeeStore creates a new FeeStore backed by the given connection pool.
func NewFeeStore(pool *pgxpool.Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

// UpsertBalance writes one account's claimable balance.
func (s *FeeStore) UpsertBalance(ctx context.Context, b domain.FeeBalance) error {
	const query = `
		INSERT INTO fee_balances (account, amount, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, b.Account.Hex(), int64(b.Amount), b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert fee balance %s: %w", b.Account.Hex(), err)
	}
	return nil
}

// GetBalance returns one account's claimable balance.
func (s *FeeStore) GetBalance(ctx context.Context, account common.Address) (domain.FeeBalance, error) {
	var b domain.FeeBalance
	var amount int64
	var acct string
	err := s.pool.QueryRow(ctx,
		`SELECT account, amount, updated_at FROM fee_balances WHERE account = $1`,
		account.Hex(),
	).Scan(&acct, &amount, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.FeeBalance{Account: account}, nil
		}
		return domain.FeeBalance{}, fmt.Errorf("postgres: get fee balance %s: %w", account.Hex(), err)
	}
	b.Account = common.HexToAddress(acct)
	b.Amount = uint64(amount)
	return b, nil
}

// ListBalances returns claimable balances, largest first.
func (s *FeeStore) ListBalances(ctx context.Context, opts domain.ListOpts) ([]domain.FeeBalance, error) {
	query := `SELECT account, amount, updated_at FROM fee_balances WHERE amount > 0
		ORDER BY amount DESC, account ASC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fee balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.FeeBalance
	for rows.Next() {
		var b domain.FeeBalance
		var amount int64
		var acct string
		if err := rows.Scan(&acct, &amount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan fee balance: %w", err)
		}
		b.Account = common.HexToAddress(acct)
		b.Amount = uint64(amount)
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fee balances rows: %w", err)
	}
	return balances, nil
}

// SetTotals writes the single-row audit counters.
func (s *FeeStore) SetTotals(ctx context.Context, t domain.FeeTotals) error {
	const query = `
		INSERT INTO fee_totals (id, accumulated_lifetime, claimed_lifetime, treasury_direct, backing)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			accumulated_lifetime = EXCLUDED.accumulated_lifetime,
			claimed_lifetime     = EXCLUDED.claimed_lifetime,
			treasury_direct      = EXCLUDED.treasury_direct,
			backing              = EXCLUDED.backing`

	_, err := s.pool.Exec(ctx, query,
		int64(t.AccumulatedLifetime), int64(t.ClaimedLifetime), int64(t.TreasuryDirect), int64(t.Backing),
	)
	if err != nil {
		return fmt.Errorf("postgres: set fee totals: %w", err)
	}
	return nil
}

// GetTotals reads the audit counters. A missing row means a fresh ledger.
func (s *FeeStore) GetTotals(ctx context.Context) (domain.FeeTotals, error) {
	var accumulated, claimed, direct, backing int64
	err := s.pool.QueryRow(ctx,
		`SELECT accumulated_lifetime, claimed_lifetime, treasury_direct, backing FROM fee_totals`,
	).Scan(&accumulated, &claimed, &direct, &backing)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.FeeTotals{}, nil
		}
		return domain.FeeTotals{}, fmt.Errorf("postgres: get fee totals: %w", err)
	}
	return domain.FeeTotals{
		AccumulatedLifetime: uint64(accumulated),
		ClaimedLifetime:     uint64(claimed),
		TreasuryDirect:      uint64(direct),
		Backing:             uint64(backing),
	}, nil
}
