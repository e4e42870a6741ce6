package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in the cold-storage bucket.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive files to object storage. PutMultipart exists
// for months whose JSONL outgrows a single-part upload.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archives back, both for the archiver's post-upload
// verification and for offline inspection tooling.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged journal and answer-history rows to cold storage.
type Archiver interface {
	ArchiveJournal(ctx context.Context, before time.Time) (int64, error)
	ArchiveAnswerHistory(ctx context.Context, before time.Time) (int64, error)
}
