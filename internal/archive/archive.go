// internal/archive/archive.go
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"strata/internal/fsutil"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/object"
	"strata/internal/safepath"
	"strata/internal/tree"
)

// Store is what Export needs to read a commit's files.
type Store interface {
	tree.Reader
	ReadBlob(id ident.BlobID) (*object.Blob, error)
}

type Options struct {
	// Level is a zstd level from 1 (fastest) to 4 (best). Zero means 2.
	Level  int
	Logger *zap.Logger
}

func (o Options) encoderLevel() zstd.EncoderLevel {
	if o.Level == 0 {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(o.Level)
}

// Summary describes a written or extracted archive.
type Summary struct {
	Commit ident.CommitID
	Files  int
	Bytes  int64
}

// Export writes the files of commit id to w as a zstd-compressed tar stream. Entries are
// sorted by path and stamped with the commit time, so the same commit always produces
// the same bytes.
func Export(id ident.CommitID, store Store, w io.Writer, opts Options) (*Summary, error) {
	log := logging.OrNop(opts.Logger)
	c, err := store.ReadCommit(id)
	if err != nil {
		return nil, err
	}
	snap, err := tree.Flatten(store, c.Tree, log)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(opts.encoderLevel()),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	tw := tar.NewWriter(enc)

	sum := &Summary{Commit: id}
	for _, p := range snap.Paths() {
		b, err := store.ReadBlob(snap[p])
		if err != nil {
			enc.Close()
			return nil, err
		}
		hdr := &tar.Header{
			Name:     p.String(),
			Mode:     0o644,
			Size:     int64(len(b.Data)),
			ModTime:  c.Timestamp,
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			enc.Close()
			return nil, fmt.Errorf("writing header for %s: %w", p, err)
		}
		if _, err := tw.Write(b.Data); err != nil {
			enc.Close()
			return nil, fmt.Errorf("writing %s: %w", p, err)
		}
		sum.Files++
		sum.Bytes += int64(len(b.Data))
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("finalizing tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}
	log.Info("archive exported",
		zap.String("commit", id.Short()),
		zap.Int("files", sum.Files),
		zap.Int64("bytes", sum.Bytes))
	return sum, nil
}

// Entry is one file read back from an archive.
type Entry struct {
	Path safepath.SafePath
	Data []byte
}

// Read decodes an archive produced by Export. Entries whose names are not valid
// repository paths, or that are not regular files, are rejected.
func Read(r io.Reader) ([]Entry, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	defer dec.Close()

	var out []Entry
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("archive entry %q is not a regular file", hdr.Name)
		}
		p, err := safepath.Parse(hdr.Name)
		if err != nil {
			return nil, fmt.Errorf("archive entry %q: %w", hdr.Name, err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		out = append(out, Entry{Path: p, Data: data})
	}
}

// Extract writes the archive's files below dest, creating it if needed. A file or
// symlink in dest standing where an entry needs a directory stops the extraction.
func Extract(r io.Reader, dest string) (*Summary, error) {
	entries, err := Read(r)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dest, err)
	}
	sum := &Summary{}
	for _, e := range entries {
		if blocker := safepath.BlockingParent(dest, e.Path); blocker != "" {
			return nil, fmt.Errorf("extracting %s: %s is not a directory", e.Path, blocker)
		}
		target := safepath.Join(dest, e.Path)
		if err := fsutil.WriteFileAtomic(target, e.Data, 0o644); err != nil {
			return nil, err
		}
		sum.Files++
		sum.Bytes += int64(len(e.Data))
	}
	return sum, nil
}

// ExtractFile is Extract reading from a file path.
func ExtractFile(path, dest string) (*Summary, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(f, dest)
}
