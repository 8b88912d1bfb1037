package sessions

import (
	"context"
	"errors"
	"log"
	"time"
)

// Reaper defaults.
const (
	DefaultSweepInterval = 2 * time.Second
	DefaultRetryBackoff  = 1 * time.Second
	DefaultScratchTTL    = 1 * time.Hour
)

// Reaper periodically deletes sessions whose expiration has passed. A
// failed deletion is retried after RetryBackoff until it succeeds or the
// context is cancelled; sessions without readable metadata are skipped.
type Reaper struct {
	Store        *Store
	Archives     *ArchiveBuilder
	Interval     time.Duration
	RetryBackoff time.Duration
	ScratchTTL   time.Duration
	Now          func() time.Time

	// OnReaped is called after this reaper removed an expired session.
	OnReaped func(id string)
	// OnRetry is called each time a deletion attempt fails.
	OnRetry func(id string, err error)
	Logf    func(format string, args ...any)
}

// NewReaper returns a reaper with the default cadence.
func NewReaper(store *Store, archives *ArchiveBuilder) *Reaper {
	return &Reaper{
		Store:        store,
		Archives:     archives,
		Interval:     DefaultSweepInterval,
		RetryBackoff: DefaultRetryBackoff,
		ScratchTTL:   DefaultScratchTTL,
		Now:          time.Now,
		Logf:         log.Printf,
	}
}

// Run sweeps immediately and then once per Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.logf("service=reaper msg=%q interval=%s root=%s", "starting", r.interval(), r.Store.Root())

	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logf("service=reaper msg=%q", "shutting_down")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all sessions and returns how many it removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	ids, err := r.Store.IDs()
	if err != nil {
		r.logf("service=reaper msg=%q err=%v", "list_failed", err)
		return 0
	}

	reaped := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		meta, err := r.Store.ReadMetadata(id)
		if err != nil {
			// Incomplete or concurrently removed; never delete on doubt.
			continue
		}
		if !meta.Expired(r.now()) {
			continue
		}
		if r.deleteWithRetry(ctx, id) {
			reaped++
			r.logf("service=reaper msg=%q id=%s expiration=%d", "session_reaped", id, meta.Expiration)
			if r.OnReaped != nil {
				r.OnReaped(id)
			}
		}
	}

	if r.Archives != nil && r.ScratchTTL > 0 {
		if n, err := r.Archives.PurgeScratch(r.now().Add(-r.ScratchTTL)); err != nil {
			r.logf("service=reaper msg=%q err=%v", "scratch_purge_failed", err)
		} else if n > 0 {
			r.logf("service=reaper msg=%q removed=%d", "scratch_purged", n)
		}
	}
	return reaped
}

// deleteWithRetry reports whether this call removed the session. It gives
// up only when ctx is cancelled or someone else removed it first.
func (r *Reaper) deleteWithRetry(ctx context.Context, id string) bool {
	for {
		err := r.Store.Delete(id)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrNotFound) {
			return false
		}

		r.logf("service=reaper msg=%q id=%s err=%v", "delete_failed_retrying", id, err)
		if r.OnRetry != nil {
			r.OnRetry(id, err)
		}

		timer := time.NewTimer(r.backoff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (r *Reaper) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return DefaultSweepInterval
}

func (r *Reaper) backoff() time.Duration {
	if r.RetryBackoff > 0 {
		return r.RetryBackoff
	}
	return DefaultRetryBackoff
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reaper) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
