package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predindexer/internal/domain"
)

// ArchiveRestore implements domain.ArchiveRestorer: it finds the archive
// objects the Archiver wrote and decodes them back into mirror rows so replay
// can fold history that may already have been pruned from the database.
type ArchiveRestore struct {
	reader domain.BlobReader
}

// NewArchiveRestore creates an ArchiveRestore over the given blob reader.
func NewArchiveRestore(reader domain.BlobReader) *ArchiveRestore {
	return &ArchiveRestore{reader: reader}
}

// ListArchives returns archive object paths sorted by their block cutoff, so
// folding them in order preserves log order across objects. Objects under the
// prefix that do not match the archive naming are skipped.
func (r *ArchiveRestore) ListArchives(ctx context.Context) ([]string, error) {
	infos, err := r.reader.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}

	type entry struct {
		path   string
		cutoff uint64
	}
	entries := make([]entry, 0, len(infos))
	for _, info := range infos {
		cutoff, ok := archiveCutoff(info.Path)
		if !ok {
			continue
		}
		entries = append(entries, entry{path: info.Path, cutoff: cutoff})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].cutoff < entries[j].cutoff })

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths, nil
}

// ReadArchive streams one archive object and decodes its JSONL rows.
func (r *ArchiveRestore) ReadArchive(ctx context.Context, path string) ([]domain.RawEvent, error) {
	body, err := r.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read archive %s: %w", path, err)
	}
	defer body.Close()

	var rows []domain.RawEvent
	dec := json.NewDecoder(body)
	for {
		var row domain.RawEvent
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("s3blob: decode archive %s row %d: %w", path, len(rows), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// archiveCutoff extracts the block cutoff from an archive key like
// archive/raw_events/before-18000000.jsonl.
func archiveCutoff(path string) (uint64, bool) {
	name := path[strings.LastIndex(path, "/")+1:]
	name = strings.TrimSuffix(name, ".jsonl")
	num, ok := strings.CutPrefix(name, "before-")
	if !ok {
		return 0, false
	}
	cutoff, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, false
	}
	return cutoff, true
}

var _ domain.ArchiveRestorer = (*ArchiveRestore)(nil)
