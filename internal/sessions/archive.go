package sessions

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const scratchPrefix = "archive-"

// Archive is a zip of a session written to a scratch file. Close removes
// the scratch file.
type Archive struct {
	*os.File
	Size    int64
	ModTime time.Time
}

// Close closes and deletes the scratch file.
func (a *Archive) Close() error {
	cerr := a.File.Close()
	if err := os.Remove(a.File.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return cerr
}

// ArchiveBuilder assembles zip archives of sessions on demand. Nothing is
// cached; every call walks the session again.
type ArchiveBuilder struct {
	Store      *Store
	ScratchDir string
}

// NewArchiveBuilder returns a builder writing scratch archives to dir.
func NewArchiveBuilder(store *Store, dir string) *ArchiveBuilder {
	return &ArchiveBuilder{Store: store, ScratchDir: dir}
}

// Build zips the session into a fresh scratch file, positioned at the
// start and ready to be streamed.
func (b *ArchiveBuilder) Build(ctx context.Context, id string) (*Archive, error) {
	if _, err := b.Store.ReadMetadata(id); err != nil {
		return nil, err
	}
	root := filepath.Join(b.Store.Root(), id)

	if err := os.MkdirAll(b.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %v", ErrIO, err)
	}
	f, err := os.CreateTemp(b.ScratchDir, scratchPrefix+uuid.NewString()+"-*.zip")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch file: %v", ErrIO, err)
	}
	a := &Archive{File: f}

	if err := WriteZip(ctx, root, f); err != nil {
		_ = a.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: build archive: %v", ErrIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%w: stat archive: %v", ErrIO, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%w: rewind archive: %v", ErrIO, err)
	}
	a.Size = info.Size()
	a.ModTime = info.ModTime()
	return a, nil
}

// WriteZip writes every file below root to w as a zip. Entry names are
// relative to root and reserved metadata names are skipped at any depth.
func WriteZip(ctx context.Context, root string, w io.Writer) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if IsReservedName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return addZipFile(zw, path, name)
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func addZipFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

// PurgeScratch removes scratch archives last modified before cutoff and
// returns how many were removed. Archives are normally removed when their
// response completes; this catches files left behind by a crash.
func (b *ArchiveBuilder) PurgeScratch(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(b.ScratchDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: list scratch: %v", ErrIO, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), scratchPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.ScratchDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
