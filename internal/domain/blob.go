package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader retrieves objects from cold storage.
type BlobReader interface {
	// Get returns the object body; the caller closes it. ErrNotFound when no
	// object exists at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver exports aged raw event rows to cold storage. The raw table is the
// replay source, so archival copies rather than moves; pruning the database
// copy is a separate, explicit operation.
type Archiver interface {
	// ArchiveRawEvents exports rows from blocks strictly below the cutoff and
	// returns the number of rows written.
	ArchiveRawEvents(ctx context.Context, beforeBlock uint64) (int64, error)
}

// ArchiveRestorer reads archived raw event rows back out of cold storage.
// Replay mode folds restored rows before the live mirror table; rows present
// in both places dedupe through the mirror's idempotent append and the
// per-aggregate watermarks.
type ArchiveRestorer interface {
	// ListArchives returns archive object paths ordered by block cutoff.
	ListArchives(ctx context.Context) ([]string, error)
	// ReadArchive decodes one archive object back into mirror rows.
	ReadArchive(ctx context.Context, path string) ([]RawEvent, error)
}
