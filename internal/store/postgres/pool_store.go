package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolCols = `id, opinion_id, proposed_answer, name, ipfs_hash, creator,
	total_amount, target_price, deadline, status, created_at, updated_at`

// Upsert writes a pool snapshot, inserting or replacing by id.
func (s *PoolStore) Upsert(ctx context.Context, p domain.Pool) error {
	const query = `
		INSERT INTO pools (
			id, opinion_id, proposed_answer, name, ipfs_hash, creator,
			total_amount, target_price, deadline, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (id) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			target_price = EXCLUDED.target_price,
			status       = EXCLUDED.status,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(p.ID), int64(p.OpinionID), p.ProposedAnswer, p.Name, p.IPFSHash, p.Creator.Hex(),
		int64(p.TotalAmount), int64(p.TargetPrice), p.Deadline, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pool %d: %w", p.ID, err)
	}
	return nil
}

func scanPool(row pgx.Row) (domain.Pool, error) {
	var p domain.Pool
	var id, opinionID, totalAmount, targetPrice int64
	var creator, status string
	err := row.Scan(
		&id, &opinionID, &p.ProposedAnswer, &p.Name, &p.IPFSHash, &creator,
		&totalAmount, &targetPrice, &p.Deadline, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Pool{}, err
	}
	p.ID = uint64(id)
	p.OpinionID = uint64(opinionID)
	p.TotalAmount = uint64(totalAmount)
	p.TargetPrice = uint64(targetPrice)
	p.Creator = common.HexToAddress(creator)
	p.Status = domain.PoolStatus(status)
	return p, nil
}

// GetByID retrieves a pool snapshot by id.
func (s *PoolStore) GetByID(ctx context.Context, id uint64) (domain.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE id = $1`, int64(id))
	p, err := scanPool(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Pool{}, domain.ErrInvalidPoolID
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %d: %w", id, err)
	}
	return p, nil
}

// ListByOpinion returns a target opinion's pools in creation order.
func (s *PoolStore) ListByOpinion(ctx context.Context, opinionID uint64, opts domain.ListOpts) ([]domain.Pool, error) {
	query := `SELECT ` + poolCols + ` FROM pools WHERE opinion_id = $1 ORDER BY id ASC`
	args := []any{int64(opinionID)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryPools(ctx, query, args...)
}

// ListByStatus returns pools with the given status, soonest deadline first.
func (s *PoolStore) ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	query := `SELECT ` + poolCols + ` FROM pools WHERE status = $1 ORDER BY deadline ASC, id ASC`
	args := []any{string(status)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryPools(ctx, query, args...)
}

func (s *PoolStore) queryPools(ctx context.Context, query string, args ...any) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return pools, nil
}

// UpsertContribution writes a contributor's tracked amount for a pool.
func (s *PoolStore) UpsertContribution(ctx context.Context, c domain.PoolContribution) error {
	const query = `
		INSERT INTO pool_contributions (pool_id, contributor, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pool_id, contributor) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(c.PoolID), c.Contributor.Hex(), int64(c.Amount), c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert contribution pool=%d contributor=%s: %w",
			c.PoolID, c.Contributor.Hex(), err)
	}
	return nil
}

// ListContributions returns a pool's contributor ledger.
func (s *PoolStore) ListContributions(ctx context.Context, poolID uint64) ([]domain.PoolContribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pool_id, contributor, amount, updated_at
		 FROM pool_contributions WHERE pool_id = $1 ORDER BY updated_at ASC, contributor ASC`,
		int64(poolID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list contributions for pool %d: %w", poolID, err)
	}
	defer rows.Close()

	var contribs []domain.PoolContribution
	for rows.Next() {
		var c domain.PoolContribution
		var id, amount int64
		var contributor string
		if err := rows.Scan(&id, &contributor, &amount, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan contribution: %w", err)
		}
		c.PoolID = uint64(id)
		c.Amount = uint64(amount)
		c.Contributor = common.HexToAddress(contributor)
		contribs = append(contribs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list contributions rows: %w", err)
	}
	return contribs, nil
}
