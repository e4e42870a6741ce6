package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// JournalArchiveStore provides read and prune access to the journal for
// archival purposes. The archiver only requires the time-ranged query and
// delete methods it actually calls, not the full domain store interface;
// the Postgres store satisfies this implicitly.
type JournalArchiveStore interface {
	// ListBefore returns all journal entries created strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.JournalEntry, error)
	// DeleteBefore removes the archived entries and returns how many rows
	// were pruned.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// HistoryArchiveStore provides read and prune access to the answer history
// for archival purposes.
type HistoryArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AnswerHistoryEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// rows, serializing them to JSONL, uploading the result to S3, and pruning
// the archived rows from the primary store.
//
// The journal remains the replay source of truth: replay only needs entries
// newer than the latest persisted snapshots, so pruning entries past the
// retention window does not break rebuilds. Rows are only deleted after the
// upload has been read back from the bucket.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	journal JournalArchiveStore
	history HistoryArchiveStore
	logger  *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. reader is used to confirm each
// upload before the source rows are pruned.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	journal JournalArchiveStore,
	history HistoryArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		reader:  reader,
		journal: journal,
		history: history,
		logger:  logger,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveJournal moves journal entries older than the cutoff to
// archive/journal/YYYY-MM.jsonl and returns the count of archived records.
func (a *ArchiveImpl) ArchiveJournal(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.journal.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal query: %w", err)
	}
	prune := func() (int64, error) { return a.journal.DeleteBefore(ctx, before) }
	return archiveRows(ctx, a, "journal", before, entries, prune)
}

// ArchiveAnswerHistory moves answer-history rows older than the cutoff to
// archive/answer_history/YYYY-MM.jsonl and returns the count of archived
// records.
func (a *ArchiveImpl) ArchiveAnswerHistory(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	prune := func() (int64, error) { return a.history.DeleteBefore(ctx, before) }
	return archiveRows(ctx, a, "answer_history", before, entries, prune)
}

// archiveRows is the shared upload-verify-prune sequence. On a verification
// failure the rows stay in the primary store and the pass reports an error;
// re-running after the bucket recovers is safe because the upload key is
// deterministic for the cutoff month.
func archiveRows[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, entries []T, prune func() (int64, error)) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
	}

	pruned, err := prune()
	if err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive %s prune: %w", kind, err)
	}

	a.logger.InfoContext(ctx, "s3blob: archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int("archived", len(entries)),
		slog.Int64("pruned", pruned),
	)
	return int64(len(entries)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/journal/2025-01.jsonl
//	archive/answer_history/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
