package sessions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultFileName is used for parts that carry no filename.
const DefaultFileName = "default.bin"

// Limits bounds what a single upload may store.
type Limits struct {
	MaxFileSize int64 // bytes per file
	MaxFiles    int   // files per session
}

// DefaultLimits are 10 MiB per file and 10 files per session.
var DefaultLimits = Limits{
	MaxFileSize: 10 * 1024 * 1024,
	MaxFiles:    10,
}

// Upload is the result of a successful ingestion.
type Upload struct {
	Session
	// TTL is the requested lifetime, independent of how long the upload took.
	TTL   time.Duration
	Files []FileInfo
	Bytes int64
}

// Ingester turns one multipart stream into a new, complete session.
type Ingester struct {
	Store       *Store
	Limits      Limits
	TokenLength int
	Now         func() time.Time
	Logf        func(format string, args ...any)
}

// NewIngester returns an ingester with default limits and clock.
func NewIngester(store *Store, limits Limits) *Ingester {
	return &Ingester{
		Store:       store,
		Limits:      limits,
		TokenLength: DefaultTokenLength,
		Now:         time.Now,
		Logf:        log.Printf,
	}
}

// ParseExpiration validates a relative expiration given in whole seconds.
func ParseExpiration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrMissingExpiration
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return 0, ErrBadExpiration
	}
	if secs > int64(math.MaxInt64/time.Second) {
		return 0, fmt.Errorf("%w: too large", ErrBadExpiration)
	}
	return time.Duration(secs) * time.Second, nil
}

// Ingest validates expiration, creates a session and streams every part
// of mr into it. On any failure after the directory exists, the partial
// session is removed before the error is returned.
func (in *Ingester) Ingest(ctx context.Context, expiration string, mr *multipart.Reader) (*Upload, error) {
	ttl, err := ParseExpiration(expiration)
	if err != nil {
		return nil, err
	}
	if mr == nil {
		return nil, fmt.Errorf("%w: missing multipart body", ErrInvalidInput)
	}

	id, err := RandomString(in.tokenLength())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	token, err := RandomString(in.tokenLength())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := in.Store.Create(id); err != nil {
		return nil, err
	}

	up, err := in.fill(ctx, id, mr)
	if err != nil {
		in.rollback(id)
		return nil, err
	}

	expiresAt := in.now().Add(ttl)
	if err := in.Store.WriteMetadata(id, token, expiresAt.Unix()); err != nil {
		in.rollback(id)
		return nil, err
	}

	up.Session = Session{ID: id, Token: token, ExpiresAt: time.Unix(expiresAt.Unix(), 0)}
	up.TTL = ttl
	return up, nil
}

func (in *Ingester) fill(ctx context.Context, id string, mr *multipart.Reader) (*Upload, error) {
	dir := filepath.Join(in.Store.Root(), id)
	up := &Upload{}
	sizes := make(map[string]int64)
	count := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: upload cancelled: %v", ErrInvalidInput, err)
		}

		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: bad multipart: %v", ErrInvalidInput, err)
		}

		name := part.FileName()
		if name == "" {
			name = DefaultFileName
		}
		if IsReservedName(name) {
			_ = part.Close()
			return nil, fmt.Errorf("%w: %s", ErrReservedName, name)
		}
		if !validFileName(name) {
			_ = part.Close()
			return nil, fmt.Errorf("%w: bad file name %q", ErrInvalidInput, name)
		}

		count++
		if count > in.Limits.MaxFiles {
			_ = part.Close()
			return nil, ErrTooManyFiles
		}

		n, err := in.writePart(filepath.Join(dir, name), part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		sizes[name] = n
	}

	for name, size := range sizes {
		up.Files = append(up.Files, FileInfo{Name: name, Size: size})
		up.Bytes += size
	}
	return up, nil
}

// writePart copies one part to path, checking the size ceiling as bytes
// arrive so an oversized stream is never fully consumed.
func (in *Ingester) writePart(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: create file: %v", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > in.Limits.MaxFileSize {
				return total, ErrFileTooLarge
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("%w: write file: %v", ErrIO, werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return total, fmt.Errorf("%w: read upload: %v", ErrInvalidInput, rerr)
		}
	}
	if err := f.Close(); err != nil {
		return total, fmt.Errorf("%w: close file: %v", ErrIO, err)
	}
	return total, nil
}

func (in *Ingester) rollback(id string) {
	if err := in.Store.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
		in.logf("service=sessions msg=%q id=%s err=%v", "rollback_failed", id, err)
	}
}

func (in *Ingester) tokenLength() int {
	if in.TokenLength > 0 {
		return in.TokenLength
	}
	return DefaultTokenLength
}

func (in *Ingester) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

func (in *Ingester) logf(format string, args ...any) {
	if in.Logf != nil {
		in.Logf(format, args...)
	}
}
