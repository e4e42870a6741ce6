package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// memBlob is an in-memory BlobWriter/BlobReader pair.
type memBlob struct {
	objects map[string][]byte
	putErr  error
	// dropUploads simulates a bucket that acknowledges Put but where the
	// object never becomes visible.
	dropUploads bool
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if !m.dropUploads {
		m.objects[path] = b
	}
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, b := range m.objects {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type fakeJournalStore struct {
	entries   []domain.JournalEntry
	deleted   int64
	deleteErr error
}

func (s *fakeJournalStore) ListBefore(_ context.Context, _ time.Time) ([]domain.JournalEntry, error) {
	return s.entries, nil
}

func (s *fakeJournalStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deleted = int64(len(s.entries))
	return s.deleted, nil
}

type fakeHistoryStore struct {
	entries []domain.AnswerHistoryEntry
	deleted int64
}

func (s *fakeHistoryStore) ListBefore(_ context.Context, _ time.Time) ([]domain.AnswerHistoryEntry, error) {
	return s.entries, nil
}

func (s *fakeHistoryStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	s.deleted = int64(len(s.entries))
	return s.deleted, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func journalFixture(n int) []domain.JournalEntry {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	entries := make([]domain.JournalEntry, n)
	for i := range entries {
		entries[i] = domain.JournalEntry{
			Seq:       uint64(i + 1),
			Op:        domain.OpSubmitAnswer,
			Allowance: 5_000_000,
			Block:     uint64(100 + i),
			Args:      json.RawMessage(`{"opinion_id":1,"answer":"yes"}`),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return entries
}

func TestArchiveJournalUploadsAndPrunes(t *testing.T) {
	blob := newMemBlob()
	journal := &fakeJournalStore{entries: journalFixture(3)}
	a := NewArchiver(blob, blob, journal, &fakeHistoryStore{}, testLogger())

	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveJournal(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(3), journal.deleted)

	data, ok := blob.objects["archive/journal/2025-02.jsonl"]
	require.True(t, ok, "archive object should exist under the cutoff month key")

	// One JSON document per line, decodable back into journal entries.
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 3)
	var first domain.JournalEntry
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, domain.OpSubmitAnswer, first.Op)
}

func TestArchiveJournalEmptyIsNoOp(t *testing.T) {
	blob := newMemBlob()
	journal := &fakeJournalStore{}
	a := NewArchiver(blob, blob, journal, &fakeHistoryStore{}, testLogger())

	n, err := a.ArchiveJournal(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
	assert.Zero(t, journal.deleted)
}

func TestArchiveJournalUploadFailureKeepsRows(t *testing.T) {
	blob := newMemBlob()
	blob.putErr = errors.New("bucket unavailable")
	journal := &fakeJournalStore{entries: journalFixture(2)}
	a := NewArchiver(blob, blob, journal, &fakeHistoryStore{}, testLogger())

	_, err := a.ArchiveJournal(context.Background(), time.Now())
	require.Error(t, err)
	assert.Zero(t, journal.deleted, "rows must not be pruned when the upload fails")
}

func TestArchiveJournalVerifyFailureKeepsRows(t *testing.T) {
	blob := newMemBlob()
	blob.dropUploads = true
	journal := &fakeJournalStore{entries: journalFixture(2)}
	a := NewArchiver(blob, blob, journal, &fakeHistoryStore{}, testLogger())

	_, err := a.ArchiveJournal(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing after upload")
	assert.Zero(t, journal.deleted, "rows must not be pruned when the upload cannot be read back")
}

func TestArchiveAnswerHistory(t *testing.T) {
	blob := newMemBlob()
	history := &fakeHistoryStore{entries: []domain.AnswerHistoryEntry{
		{OpinionID: 1, Answer: "yes", Price: 2_000_000, Timestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{OpinionID: 1, Answer: "no", Price: 2_400_000, Timestamp: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)},
	}}
	a := NewArchiver(blob, blob, &fakeJournalStore{}, history, testLogger())

	cutoff := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveAnswerHistory(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), history.deleted)
	assert.Contains(t, blob.objects, "archive/answer_history/2025-04.jsonl")
}

func TestArchivePathPartitionsByMonth(t *testing.T) {
	before := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "archive/journal/2024-12.jsonl", archivePath("journal", before))
	assert.Equal(t, "archive/answer_history/2024-12.jsonl", archivePath("answer_history", before))
}
