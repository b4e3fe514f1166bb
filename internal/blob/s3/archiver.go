package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the raw event mirror for
// rows below a block cutoff, serialising them to JSONL, and uploading the
// result. Archival copies; pruning the database rows is a separate, explicit
// step executed only after the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	raws   domain.RawEventStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, raws domain.RawEventStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, raws: raws}
}

// ArchiveRawEvents exports every mirror row from blocks strictly below the
// cutoff to archive/raw_events/before-<block>.jsonl and returns the row count.
func (a *ArchiveImpl) ArchiveRawEvents(ctx context.Context, beforeBlock uint64) (int64, error) {
	rows, err := a.raws.ListBeforeBlock(ctx, beforeBlock)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive raw events query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive raw events marshal: %w", err)
	}

	path := archivePath(beforeBlock)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive raw events upload: %w", err)
	}
	return int64(len(rows)), nil
}

// archivePrefix is the key space shared by the archiver and ArchiveRestore.
const archivePrefix = "archive/raw_events/"

// archivePath builds the S3 key for an archive file, partitioned by the
// block cutoff.
//
//	archive/raw_events/before-18000000.jsonl
func archivePath(beforeBlock uint64) string {
	return fmt.Sprintf("%sbefore-%d.jsonl", archivePrefix, beforeBlock)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes one compact JSON line.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
