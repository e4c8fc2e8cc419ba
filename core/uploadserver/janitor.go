package uploadserver

import (
	"context"
	"time"
)

// Janitor removes sessions that have been idle longer than the configured
// TTL so that abandoned uploads do not accumulate chunks forever.
type Janitor struct {
	ttl      time.Duration
	interval time.Duration
	store    *ChunkStore
	registry *SessionRegistry
}

func NewJanitor(store *ChunkStore, registry *SessionRegistry, ttl, interval time.Duration) *Janitor {
	return &Janitor{
		ttl:      ttl,
		interval: interval,
		store:    store,
		registry: registry,
	}
}

// Start runs the sweep loop until ctx is canceled. A TTL of zero or less
// disables sweeping.
func (j *Janitor) Start(ctx context.Context) {
	if j.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Infow("janitor", "status", "started", "ttl", j.ttl, "interval", j.interval)

	for {
		select {
		case <-ticker.C:
			if removed := j.Sweep(); removed > 0 {
				log.Infow("janitor", "event", "swept idle sessions", "removed", removed)
			}
		case <-ctx.Done():
			log.Infow("janitor", "status", "stopped")
			return
		}
	}
}

// Sweep removes every open session idle longer than the TTL and reports
// how many were removed.
func (j *Janitor) Sweep() int {
	cutoff := time.Now().Add(-j.ttl)
	removed := 0

	for _, key := range j.registry.IdleSessions(cutoff) {
		if err := j.store.Remove(key); err != nil {
			log.Errorw("janitor", "event", "sweep failed", "session", key, "error", err)
			continue
		}

		j.registry.Forget(key)
		removed++
	}

	return removed
}
