package sessions

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngester(t *testing.T, limits Limits) (*Ingester, *Store) {
	t.Helper()
	store := newTestStore(t)
	in := NewIngester(store, limits)
	in.Logf = t.Logf
	return in, store
}

func TestParseExpiration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"60", time.Minute, false},
		{" 0 ", 0, false},
		{"", 0, true},
		{"-5", 0, true},
		{"1.5", 0, true},
		{"soon", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpiration(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIngest_Success(t *testing.T) {
	in, store := newTestIngester(t, DefaultLimits)
	now := time.Unix(1700000000, 0)
	in.Now = func() time.Time { return now }

	up, err := in.Ingest(context.Background(), "120", newMultipart(t,
		testPart{"a.txt", []byte("hi")},
		testPart{"b.txt", []byte("bye")},
	))
	require.NoError(t, err)

	assert.Len(t, up.ID, DefaultTokenLength)
	assert.Len(t, up.Token, DefaultTokenLength)
	assert.Equal(t, now.Add(120*time.Second).Unix(), up.ExpiresAt.Unix())
	assert.Equal(t, 120*time.Second, up.TTL)
	assert.Equal(t, int64(5), up.Bytes)

	files, err := store.ListFiles(up.ID)
	require.NoError(t, err)
	assert.Equal(t, []FileInfo{{"a.txt", 2}, {"b.txt", 3}}, files)

	meta, err := store.ReadMetadata(up.ID)
	require.NoError(t, err)
	assert.Equal(t, up.Token, meta.Token)
	assert.Equal(t, now.Unix()+120, meta.Expiration)
}

func TestIngest_DefaultFileName(t *testing.T) {
	in, store := newTestIngester(t, DefaultLimits)

	up, err := in.Ingest(context.Background(), "60", newMultipart(t, testPart{"", []byte("x")}))
	require.NoError(t, err)

	files, err := store.ListFiles(up.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, DefaultFileName, files[0].Name)
}

func TestIngest_InvalidExpirationHasNoSideEffects(t *testing.T) {
	in, store := newTestIngester(t, DefaultLimits)

	for _, exp := range []string{"", "-1", "tomorrow"} {
		_, err := in.Ingest(context.Background(), exp, newMultipart(t, testPart{"a", []byte("1")}))
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Empty(t, sessionDirs(t, store))
}

func TestIngest_ReservedNameRollsBack(t *testing.T) {
	for _, name := range []string{TokenFile, ExpirationFile} {
		t.Run(name, func(t *testing.T) {
			in, store := newTestIngester(t, DefaultLimits)

			_, err := in.Ingest(context.Background(), "60", newMultipart(t,
				testPart{"ok.txt", []byte("fine")},
				testPart{name, []byte("evil")},
			))
			assert.ErrorIs(t, err, ErrReservedName)
			assert.Empty(t, sessionDirs(t, store))
		})
	}
}

func TestIngest_TooManyFilesRollsBack(t *testing.T) {
	in, store := newTestIngester(t, DefaultLimits)

	parts := make([]testPart, 0, DefaultLimits.MaxFiles+1)
	for i := 0; i <= DefaultLimits.MaxFiles; i++ {
		parts = append(parts, testPart{"f" + strconv.Itoa(i), []byte("x")})
	}
	_, err := in.Ingest(context.Background(), "60", newMultipart(t, parts...))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.ErrorIs(t, err, ErrTooManyFiles)
	assert.Empty(t, sessionDirs(t, store))
}

func TestIngest_ExactlyMaxFiles(t *testing.T) {
	in, store := newTestIngester(t, Limits{MaxFileSize: 16, MaxFiles: 3})

	up, err := in.Ingest(context.Background(), "60", newMultipart(t,
		testPart{"a", []byte("1")},
		testPart{"b", []byte("2")},
		testPart{"c", bytes.Repeat([]byte("z"), 16)},
	))
	require.NoError(t, err)

	files, err := store.ListFiles(up.ID)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestIngest_FileTooLargeRollsBack(t *testing.T) {
	in, store := newTestIngester(t, Limits{MaxFileSize: 1024, MaxFiles: 10})

	_, err := in.Ingest(context.Background(), "60", newMultipart(t,
		testPart{"small", []byte("ok")},
		testPart{"big", bytes.Repeat([]byte("a"), 1025)},
	))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, sessionDirs(t, store))
}

func TestIngest_CancelledContextRollsBack(t *testing.T) {
	in, store := newTestIngester(t, DefaultLimits)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := in.Ingest(ctx, "60", newMultipart(t, testPart{"a", []byte("1")}))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, sessionDirs(t, store))
}
