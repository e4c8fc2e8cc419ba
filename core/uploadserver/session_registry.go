package uploadserver

import (
	"sort"
	"sync"
	"time"

	"github.com/chunkd/chunkd/core/model"
	"github.com/chunkd/chunkd/lib/cmap"
)

// session tracks which chunk indices have arrived for one session key.
type session struct {
	mu       sync.Mutex
	received map[int]struct{}
	updated  time.Time
	closed   bool
}

// SessionRegistry keeps per-session upload bookkeeping in memory. The
// ChunkStore remains the source of truth; Rebuild restores registry state
// from it after a restart.
type SessionRegistry struct {
	sessions cmap.Map[string, *session]
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: cmap.NewMap[string, *session](),
	}
}

func (r *SessionRegistry) get(key string) (*session, bool) {
	s, exists := r.sessions.Get(key)
	if !exists {
		return nil, false
	}

	return *s, true
}

func (r *SessionRegistry) getOrCreate(key string) *session {
	if s, exists := r.get(key); exists {
		return s
	}

	s, _ := r.sessions.GetOrSet(key, &session{
		received: map[int]struct{}{},
		updated:  time.Now(),
	})

	return *s
}

// Known reports whether the registry holds an entry for key.
func (r *SessionRegistry) Known(key string) bool {
	_, exists := r.get(key)
	return exists
}

// CheckOpen returns ErrSessionClosed when a merge for the session has
// already begun. Unknown sessions are open by definition.
func (r *SessionRegistry) CheckOpen(key string) error {
	s, exists := r.get(key)
	if !exists {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	return nil
}

// RecordChunk marks a chunk index as received, creating the session entry
// on first sight of the key.
func (r *SessionRegistry) RecordChunk(key string, index int) error {
	s := r.getOrCreate(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	s.received[index] = struct{}{}
	s.updated = time.Now()

	return nil
}

// ReceivedIndices returns the sorted chunk indices recorded for a session.
func (r *SessionRegistry) ReceivedIndices(key string) []int {
	s, exists := r.get(key)
	if !exists {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	indices := make([]int, 0, len(s.received))
	for index := range s.received {
		indices = append(indices, index)
	}

	sort.Ints(indices)
	return indices
}

// Snapshot returns a point-in-time view of a session.
func (r *SessionRegistry) Snapshot(key string) (model.Session, bool) {
	s, exists := r.get(key)
	if !exists {
		return model.Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	indices := make([]int, 0, len(s.received))
	for index := range s.received {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	return model.Session{
		Key:       key,
		Received:  indices,
		UpdatedAt: s.updated,
		Closed:    s.closed,
	}, true
}

// Close marks a session as merging. Further chunk uploads are rejected
// until the session is reopened or forgotten.
func (r *SessionRegistry) Close(key string) {
	s := r.getOrCreate(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

// Reopen makes a session accept chunk uploads again after a failed merge.
func (r *SessionRegistry) Reopen(key string) {
	s, exists := r.get(key)
	if !exists {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = false
}

// Forget drops all metadata held for a session.
func (r *SessionRegistry) Forget(key string) {
	r.sessions.Delete(key)
}

// IdleSessions returns the keys of open sessions whose last activity is
// older than the cutoff.
func (r *SessionRegistry) IdleSessions(cutoff time.Time) []string {
	var keys []string

	r.sessions.Range(func(k, v any) bool {
		key := k.(string)
		s := v.(*session)

		s.mu.Lock()
		idle := !s.closed && s.updated.Before(cutoff)
		s.mu.Unlock()

		if idle {
			keys = append(keys, key)
		}

		return true
	})

	return keys
}

// Rebuild seeds the registry from chunks already present in the store.
// Called at startup so that sessions survive a restart.
func (r *SessionRegistry) Rebuild(store *ChunkStore) error {
	keys, err := store.Sessions()
	if err != nil {
		return err
	}

	for _, key := range keys {
		indices, err := store.ListIndices(key)
		if err != nil {
			return err
		}

		s := r.getOrCreate(key)
		s.mu.Lock()
		for _, index := range indices {
			s.received[index] = struct{}{}
		}
		s.mu.Unlock()
	}

	return nil
}
