package sessions

import (
	"bytes"
	"mime/multipart"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPart struct {
	name string
	data []byte
}

func newMultipart(t *testing.T, parts ...testPart) *multipart.Reader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormFile("file", p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return multipart.NewReader(&buf, w.Boundary())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// sessionDirs lists every entry under the store root, complete or not.
func sessionDirs(t *testing.T, store *Store) []string {
	t.Helper()
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// seedSession creates a complete session directly through the store.
func seedSession(t *testing.T, store *Store, id, token string, expiresAt time.Time, files map[string]string) {
	t.Helper()
	require.NoError(t, store.Create(id))
	for name, content := range files {
		require.NoError(t, os.WriteFile(store.Root()+"/"+id+"/"+name, []byte(content), 0o644))
	}
	require.NoError(t, store.WriteMetadata(id, token, expiresAt.Unix()))
}
