package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL. The journal
// is the engine's source of truth for replay; rows are only ever appended,
// and removed solely by the archiver after upload to cold storage.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append writes one committed transition. The primary key on seq makes a
// duplicate append from a crashed retry a visible conflict rather than a
// silent fork.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	const query = `
		INSERT INTO journal (seq, op, caller, allowance, block, args, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		int64(e.Seq), string(e.Op), e.Caller.Hex(), int64(e.Allowance), int64(e.Block),
		[]byte(e.Args), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append journal seq=%d: %w", e.Seq, err)
	}
	return nil
}

// ListFrom returns up to limit entries with seq >= fromSeq in sequence order.
func (s *JournalStore) ListFrom(ctx context.Context, fromSeq uint64, limit int) ([]domain.JournalEntry, error) {
	query := `SELECT seq, op, caller, allowance, block, args, created_at
		FROM journal WHERE seq >= $1 ORDER BY seq ASC`
	args := []any{int64(fromSeq)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryEntries(ctx, query, args...)
}

// ListBefore returns all entries older than the cutoff, oldest-first, for
// archiving.
func (s *JournalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.JournalEntry, error) {
	const query = `SELECT seq, op, caller, allowance, block, args, created_at
		FROM journal WHERE created_at < $1 ORDER BY seq ASC`
	return s.queryEntries(ctx, query, before)
}

func (s *JournalStore) queryEntries(ctx context.Context, query string, args ...any) ([]domain.JournalEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var seq, allowance, block int64
		var op, caller string
		var raw []byte
		if err := rows.Scan(&seq, &op, &caller, &allowance, &block, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		e.Seq = uint64(seq)
		e.Op = domain.Op(op)
		e.Caller = common.HexToAddress(caller)
		e.Allowance = uint64(allowance)
		e.Block = uint64(block)
		e.Args = raw
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list journal rows: %w", err)
	}
	return entries, nil
}

// LastSeq returns the highest committed sequence number, zero when the
// journal is empty.
func (s *JournalStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM journal`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: journal last seq: %w", err)
	}
	return uint64(seq), nil
}

// DeleteBefore removes archived entries older than the cutoff and returns
// the count removed.
func (s *JournalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM journal WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete journal before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
