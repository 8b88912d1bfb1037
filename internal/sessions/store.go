package sessions

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reserved metadata entries inside every session directory. They never
// appear in listings or archives and cannot be used as upload names.
const (
	TokenFile      = ".token"
	ExpirationFile = ".expiration"
)

// Session is a freshly created session as returned by ingestion.
type Session struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// Metadata is the persisted secret and expiration of a session.
type Metadata struct {
	Token      string
	Expiration int64 // unix seconds
}

// Expired reports whether the session is past its expiration at now.
func (m Metadata) Expired(now time.Time) bool {
	return now.Unix() >= m.Expiration
}

// FileInfo describes one user file stored in a session.
type FileInfo struct {
	Name string
	Size int64
}

// IsReservedName reports whether name collides with session metadata.
func IsReservedName(name string) bool {
	return name == TokenFile || name == ExpirationFile
}

// validFileName rejects names that would escape the session directory.
func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// Store keeps each session in its own directory below root.
type Store struct {
	root  string
	locks *keyedMutex
	// remove deletes a session directory; os.RemoveAll outside tests.
	remove func(path string) error
}

// NewStore returns a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions root: %w", err)
	}
	return &Store{root: dir, locks: newKeyedMutex(), remove: os.RemoveAll}, nil
}

// Root returns the sessions root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) dir(id string) (string, error) {
	if !isToken(id) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return filepath.Join(s.root, id), nil
}

// Create makes a fresh, empty session directory.
func (s *Store) Create(id string) error {
	if !isToken(id) {
		return fmt.Errorf("%w: bad session id", ErrInvalidInput)
	}
	err := os.Mkdir(filepath.Join(s.root, id), 0o755)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	default:
		return fmt.Errorf("%w: create session: %v", ErrIO, err)
	}
}

// WriteMetadata persists the owner token and then the expiration. The
// expiration file is written last and marks the session as complete.
func (s *Store) WriteMetadata(id, token string, expiration int64) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, TokenFile), []byte(token), 0o600); err != nil {
		return fmt.Errorf("%w: write token: %v", ErrIO, err)
	}
	exp := strconv.FormatInt(expiration, 10)
	if err := os.WriteFile(filepath.Join(dir, ExpirationFile), []byte(exp), 0o644); err != nil {
		return fmt.Errorf("%w: write expiration: %v", ErrIO, err)
	}
	return nil
}

// ReadMetadata returns the stored token and expiration. A session whose
// directory or metadata is missing (or still being written) is reported
// as ErrNotFound.
func (s *Store) ReadMetadata(id string) (Metadata, error) {
	dir, err := s.dir(id)
	if err != nil {
		return Metadata{}, err
	}

	token, err := os.ReadFile(filepath.Join(dir, TokenFile))
	if err != nil {
		return Metadata{}, notFoundOrIO(id, err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, ExpirationFile))
	if err != nil {
		return Metadata{}, notFoundOrIO(id, err)
	}
	exp, err := parseExpiration(string(raw))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s: incomplete metadata", ErrNotFound, id)
	}
	return Metadata{Token: string(token), Expiration: exp}, nil
}

// parseExpiration accepts decimal epoch seconds, truncating any fraction.
func parseExpiration(raw string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("expiration out of range: %q", raw)
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64, nil
	}
	return int64(math.Trunc(f)), nil
}

// Exists reports whether the session is complete, i.e. has its metadata.
func (s *Store) Exists(id string) bool {
	_, err := s.ReadMetadata(id)
	return err == nil
}

// ListFiles returns every user file in the session sorted by name.
func (s *Store) ListFiles(id string) ([]FileInfo, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, notFoundOrIO(id, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || IsReservedName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// OpenFile opens a user file for reading. Reserved and unsafe names are
// reported as ErrNotFound so metadata can never be served.
func (s *Store) OpenFile(id, name string) (*os.File, os.FileInfo, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, nil, err
	}
	if !validFileName(name) || IsReservedName(name) {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, id, name)
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, nil, notFoundOrIO(id, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, notFoundOrIO(id, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, id, name)
	}
	return f, info, nil
}

// IDs enumerates session directories below the root.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrIO, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && isToken(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Delete removes the session directory and everything in it. Concurrent
// calls for the same id are serialized: exactly one succeeds and the rest
// get ErrNotFound.
func (s *Store) Delete(id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := os.Stat(dir); err != nil {
		return notFoundOrIO(id, err)
	}
	if err := s.remove(dir); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, id, err)
	}
	return nil
}

func notFoundOrIO(id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, id, err)
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
