package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// AnswerHistoryStore implements domain.AnswerHistoryStore using PostgreSQL.
type AnswerHistoryStore struct {
	pool *pgxpool.Pool
}

// NewAnswerHistoryStore creates a new AnswerHistoryStore backed by the given
// connection pool.
func NewAnswerHistoryStore(pool *pgxpool.Pool) *AnswerHistoryStore {
	return &AnswerHistoryStore{pool: pool}
}

// Append writes one answer log row. Rows are never updated or deleted except
// by the archiver.
func (s *AnswerHistoryStore) Append(ctx context.Context, e domain.AnswerHistoryEntry) error {
	const query = `
		INSERT INTO answer_history (opinion_id, answer, description, owner, price, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		int64(e.OpinionID), e.Answer, e.Description, e.Owner.Hex(), int64(e.Price), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append answer history for opinion %d: %w", e.OpinionID, err)
	}
	return nil
}

// ListByOpinion returns an opinion's answer log newest-first.
func (s *AnswerHistoryStore) ListByOpinion(ctx context.Context, opinionID uint64, opts domain.ListOpts) ([]domain.AnswerHistoryEntry, error) {
	query := `SELECT opinion_id, answer, description, owner, price, ts
		FROM answer_history WHERE opinion_id = $1 ORDER BY ts DESC, id DESC`
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

	return s.queryEntries(ctx, query, args...)
}

// ListBefore returns all rows older than the cutoff, oldest-first, for
// archiving.
func (s *AnswerHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AnswerHistoryEntry, error) {
	const query = `SELECT opinion_id, answer, description, owner, price, ts
		FROM answer_history WHERE ts < $1 ORDER BY ts ASC, id ASC`
	return s.queryEntries(ctx, query, before)
}

func (s *AnswerHistoryStore) queryEntries(ctx context.Context, query string, args ...any) ([]domain.AnswerHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list answer history: %w", err)
	}
	defer rows.Close()

	var entries []domain.AnswerHistoryEntry
	for rows.Next() {
		var e domain.AnswerHistoryEntry
		var opinionID, price int64
		var owner string
		if err := rows.Scan(&opinionID, &e.Answer, &e.Description, &owner, &price, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan answer history: %w", err)
		}
		e.OpinionID = uint64(opinionID)
		e.Price = uint64(price)
		e.Owner = common.HexToAddress(owner)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list answer history rows: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes archived rows older than the cutoff and returns the
// count removed.
func (s *AnswerHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM answer_history WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete answer history before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
