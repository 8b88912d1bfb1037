package sessions

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, r io.ReaderAt, size int64) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(r, size)
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			out[f.Name] = "<dir>"
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(data)
	}
	return out
}

func TestArchiveBuilder_Build(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "zipme", "tok", time.Now().Add(time.Hour), map[string]string{
		"a": "hi",
		"b": "bye",
	})
	scratch := t.TempDir()
	b := NewArchiveBuilder(store, scratch)

	a, err := b.Build(context.Background(), "zipme")
	require.NoError(t, err)

	got := readZip(t, a.File, a.Size)
	assert.Equal(t, map[string]string{"a": "hi", "b": "bye"}, got)

	name := a.Name()
	assert.Equal(t, scratch, filepath.Dir(name))
	require.NoError(t, a.Close())
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err), "scratch archive should be removed on close")
}

func TestWriteZip_SkipsReservedAtEveryDepth(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, TokenFile), []byte("secret"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ExpirationFile), []byte("1"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", TokenFile), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "inner.txt"), []byte("in"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", ExpirationFile), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", TokenFile, "hidden"), []byte("x"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, WriteZip(context.Background(), root, &buf))

	got := readZip(t, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.Equal(t, map[string]string{
		"top.txt":       "top",
		"sub/":          "<dir>",
		"sub/inner.txt": "in",
	}, got)
}

func TestArchiveBuilder_NotFound(t *testing.T) {
	store := newTestStore(t)
	scratch := t.TempDir()
	b := NewArchiveBuilder(store, scratch)

	_, err := b.Build(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchiveBuilder_PurgeScratch(t *testing.T) {
	scratch := t.TempDir()
	b := NewArchiveBuilder(newTestStore(t), scratch)

	old := filepath.Join(scratch, scratchPrefix+"old.zip")
	fresh := filepath.Join(scratch, scratchPrefix+"fresh.zip")
	other := filepath.Join(scratch, "unrelated.zip")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("z"), 0o644))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	n, err := b.PurgeScratch(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
