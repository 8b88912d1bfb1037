package server

import (
	"context"
	"log"
	"time"
)

// sessionLister is the local side of the mirror sweep.
type sessionLister interface {
	Exists(id string) bool
}

// mirrorCleaner removes mirrored sessions whose local copy is gone. These
// appear when a removal failed or the process stopped before the mirror
// caught up with a delete or reap.
type mirrorCleaner struct {
	mirror   *Mirror
	store    sessionLister
	interval time.Duration
}

// StartMirrorCleanupJob runs the sweep every interval until ctx is done.
func (c *mirrorCleaner) StartMirrorCleanupJob(ctx context.Context) {
	log.Printf("service=cleanup msg=%q interval=%s bucket=%s",
		"starting", c.interval, c.mirror.Bucket())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("service=cleanup msg=%q", "shutting_down")
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

// runCleanup performs one pass and returns how many sessions it removed.
func (c *mirrorCleaner) runCleanup(ctx context.Context) int {
	start := time.Now()

	ids, err := c.mirror.SessionIDs(ctx)
	if err != nil {
		log.Printf("service=cleanup msg=%q err=%v", "list_failed", err)
		return 0
	}

	deleted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if c.store.Exists(id) {
			continue
		}
		if err := c.mirror.RemoveSession(ctx, id); err != nil {
			GetMetrics().RecordMirrorFailure()
			log.Printf("service=cleanup msg=%q id=%s err=%v", "remove_failed", id, err)
			continue
		}
		log.Printf("service=cleanup msg=%q id=%s", "orphan_removed", id)
		deleted++
	}

	if deleted > 0 {
		log.Printf("service=cleanup msg=%q deleted=%d duration_ms=%d",
			"cleanup_complete", deleted, time.Since(start).Milliseconds())
	}
	return deleted
}
