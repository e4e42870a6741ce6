package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// OpinionStore implements domain.OpinionStore using PostgreSQL.
type OpinionStore struct {
	pool *pgxpool.Pool
}

// NewOpinionStore creates a new OpinionStore backed by the given connection pool.
func NewOpinionStore(pool *pgxpool.Pool) *OpinionStore {
	return &OpinionStore{pool: pool}
}

const opinionCols = `id, question, current_answer, answer_description, link, ipfs_hash,
	categories, creator, question_owner, current_answer_owner,
	last_price, next_price, sale_price, total_volume, is_active,
	created_at, updated_at`

// Upsert writes an opinion snapshot, inserting or replacing by id.
func (s *OpinionStore) Upsert(ctx context.Context, o domain.Opinion) error {
	const query = `
		INSERT INTO opinions (
			id, question, current_answer, answer_description, link, ipfs_hash,
			categories, creator, question_owner, current_answer_owner,
			last_price, next_price, sale_price, total_volume, is_active,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			current_answer       = EXCLUDED.current_answer,
			answer_description   = EXCLUDED.answer_description,
			link                 = EXCLUDED.link,
			question_owner       = EXCLUDED.question_owner,
			current_answer_owner = EXCLUDED.current_answer_owner,
			last_price           = EXCLUDED.last_price,
			next_price           = EXCLUDED.next_price,
			sale_price           = EXCLUDED.sale_price,
			total_volume         = EXCLUDED.total_volume,
			is_active            = EXCLUDED.is_active,
			updated_at           = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(o.ID), o.Question, o.CurrentAnswer, o.CurrentAnswerDescription, o.Link, o.IPFSHash,
		o.Categories, o.Creator.Hex(), o.QuestionOwner.Hex(), o.CurrentAnswerOwner.Hex(),
		int64(o.LastPrice), int64(o.NextPrice), int64(o.SalePrice), int64(o.TotalVolume), o.IsActive,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert opinion %d: %w", o.ID, err)
	}
	return nil
}

func scanOpinion(row pgx.Row) (domain.Opinion, error) {
	var o domain.Opinion
	var id, lastPrice, nextPrice, salePrice, totalVolume int64
	var creator, questionOwner, answerOwner string
	err := row.Scan(
		&id, &o.Question, &o.CurrentAnswer, &o.CurrentAnswerDescription, &o.Link, &o.IPFSHash,
		&o.Categories, &creator, &questionOwner, &answerOwner,
		&lastPrice, &nextPrice, &salePrice, &totalVolume, &o.IsActive,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Opinion{}, err
	}
	o.ID = uint64(id)
	o.LastPrice = uint64(lastPrice)
	o.NextPrice = uint64(nextPrice)
	o.SalePrice = uint64(salePrice)
	o.TotalVolume = uint64(totalVolume)
	o.Creator = common.HexToAddress(creator)
	o.QuestionOwner = common.HexToAddress(questionOwner)
	o.CurrentAnswerOwner = common.HexToAddress(answerOwner)
	return o, nil
}

// GetByID retrieves an opinion snapshot by id.
func (s *OpinionStore) GetByID(ctx context.Context, id uint64) (domain.Opinion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+opinionCols+` FROM opinions WHERE id = $1`, int64(id))
	o, err := scanOpinion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Opinion{}, domain.ErrOpinionNotFound
		}
		return domain.Opinion{}, fmt.Errorf("postgres: get opinion %d: %w", id, err)
	}
	return o, nil
}

// List returns opinion snapshots newest-first with pagination and optional
// time filtering.
func (s *OpinionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Opinion, error) {
	query := `SELECT ` + opinionCols + ` FROM opinions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryOpinions(ctx, query, args...)
}

// ListByCategory returns snapshots tagged with the category, newest-first.
func (s *OpinionStore) ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Opinion, error) {
	query := `SELECT ` + opinionCols + ` FROM opinions WHERE $1 = ANY(categories)
		ORDER BY created_at DESC, id DESC`
	args := []any{category}
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

	return s.queryOpinions(ctx, query, args...)
}

func (s *OpinionStore) queryOpinions(ctx context.Context, query string, args ...any) ([]domain.Opinion, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opinions: %w", err)
	}
	defer rows.Close()

	var opinions []domain.Opinion
	for rows.Next() {
		o, err := scanOpinion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opinion: %w", err)
		}
		opinions = append(opinions, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opinions rows: %w", err)
	}
	return opinions, nil
}

// Count returns the total number of stored opinions.
func (s *OpinionStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opinions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count opinions: %w", err)
	}
	return count, nil
}
