package sessions

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReaper(t *testing.T, store *Store) *Reaper {
	t.Helper()
	r := NewReaper(store, nil)
	r.Logf = t.Logf
	return r
}

func TestReaper_SweepRemovesOnlyExpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Unix(1700000000, 0)

	seedSession(t, store, "expired", "t", now.Add(-time.Second), map[string]string{"a": "1"})
	seedSession(t, store, "boundary", "t", now, nil)
	seedSession(t, store, "alive", "t", now.Add(time.Minute), nil)
	require.NoError(t, store.Create("partial"))

	var reaped []string
	r := newTestReaper(t, store)
	r.Now = func() time.Time { return now }
	r.OnReaped = func(id string) { reaped = append(reaped, id) }

	n := r.Sweep(context.Background())
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"expired", "boundary"}, reaped)
	assert.ElementsMatch(t, []string{"alive", "partial"}, sessionDirs(t, store))
}

func TestReaper_SweepSkipsAlreadyDeleted(t *testing.T) {
	store := newTestStore(t)
	r := newTestReaper(t, store)

	assert.False(t, r.deleteWithRetry(context.Background(), "gone"))
}

// failingRemove fails the first n removals, then defers to os.RemoveAll.
func failingRemove(n int) func(string) error {
	var mu sync.Mutex
	return func(path string) error {
		mu.Lock()
		defer mu.Unlock()
		if n > 0 {
			n--
			return errors.New("device busy")
		}
		return os.RemoveAll(path)
	}
}

func TestReaper_RetriesFailedDeletionUntilItSucceeds(t *testing.T) {
	store := newTestStore(t)
	store.remove = failingRemove(2)
	now := time.Unix(1700000000, 0)
	seedSession(t, store, "stuck", "t", now.Add(-time.Second), map[string]string{"a": "1"})

	var retries []string
	var reaped []string
	r := newTestReaper(t, store)
	r.Now = func() time.Time { return now }
	r.RetryBackoff = time.Millisecond
	r.OnRetry = func(id string, err error) {
		assert.ErrorIs(t, err, ErrIO)
		retries = append(retries, id)
	}
	r.OnReaped = func(id string) { reaped = append(reaped, id) }

	assert.Equal(t, 1, r.Sweep(context.Background()))
	assert.Equal(t, []string{"stuck", "stuck"}, retries)
	assert.Equal(t, []string{"stuck"}, reaped)
	assert.False(t, store.Exists("stuck"))
	assert.Empty(t, sessionDirs(t, store))
}

func TestReaper_RetryStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	store.remove = func(string) error { return errors.New("device busy") }
	seedSession(t, store, "stuck", "t", time.Now().Add(-time.Second), nil)

	ctx, cancel := context.WithCancel(context.Background())
	r := newTestReaper(t, store)
	r.RetryBackoff = time.Hour
	r.OnRetry = func(string, error) { cancel() }

	done := make(chan bool, 1)
	go func() { done <- r.deleteWithRetry(ctx, "stuck") }()

	select {
	case removed := <-done:
		assert.False(t, removed)
	case <-time.After(5 * time.Second):
		t.Fatal("deleteWithRetry did not return after cancel")
	}
	assert.True(t, store.Exists("stuck"))
}

func TestReaper_RunRemovesExpiredWithoutInteraction(t *testing.T) {
	store := newTestStore(t)

	in := NewIngester(store, DefaultLimits)
	in.Logf = t.Logf
	up, err := in.Ingest(context.Background(), "0", newMultipart(t, testPart{"a", []byte("1")}))
	require.NoError(t, err)

	var mu sync.Mutex
	var reaped []string
	r := newTestReaper(t, store)
	r.Interval = 10 * time.Millisecond
	r.OnReaped = func(id string) {
		mu.Lock()
		defer mu.Unlock()
		reaped = append(reaped, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(sessionDirs(t, store)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{up.ID}, reaped)
}

func TestReaper_PurgesScratch(t *testing.T) {
	store := newTestStore(t)
	scratch := t.TempDir()
	b := NewArchiveBuilder(store, scratch)
	seedSession(t, store, "keep", "t", time.Now().Add(time.Hour), map[string]string{"a": "1"})

	a, err := b.Build(context.Background(), "keep")
	require.NoError(t, err)
	require.NoError(t, a.File.Close())

	r := newTestReaper(t, store)
	r.Archives = b
	r.ScratchTTL = time.Nanosecond
	r.Now = func() time.Time { return time.Now().Add(time.Minute) }
	r.Sweep(context.Background())

	assert.NoFileExists(t, a.Name())
	assert.True(t, store.Exists("keep"))
}
