package uploadserver

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/singleflight"

	"github.com/chunkd/chunkd/core/model"
	"github.com/chunkd/chunkd/lib/keyspace"
)

// MissingChunkError reports the smallest chunk index absent at merge time.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}

// MergeEngine concatenates a session's chunks, in index order, into a
// single artifact published atomically under the artifact directory.
type MergeEngine struct {
	store     *ChunkStore
	registry  *SessionRegistry
	artifacts *ArtifactStore
	merges    singleflight.Group
}

func NewMergeEngine(store *ChunkStore, registry *SessionRegistry, artifacts *ArtifactStore) *MergeEngine {
	return &MergeEngine{
		store:     store,
		registry:  registry,
		artifacts: artifacts,
	}
}

// GetArtifactName derives the deterministic output name for a session key
// and original filename pair. Repeated merges of the same pair overwrite
// the same artifact.
func GetArtifactName(sessionKey, filename string) string {
	return fmt.Sprintf("%s_%s", sessionKey, filename)
}

// Merge validates its inputs, verifies that every chunk 0..totalChunks-1 is
// present, then streams them in order into the artifact store. Concurrent
// merges of the same session join the in-flight call and share its result.
func (m *MergeEngine) Merge(ctx context.Context, sessionKey string, totalChunks int, filename string) (model.Artifact, error) {
	if err := keyspace.Validate(sessionKey); err != nil {
		return model.Artifact{}, err
	}

	if err := keyspace.Validate(filename); err != nil {
		return model.Artifact{}, err
	}

	if totalChunks < 0 {
		return model.Artifact{}, ErrInvalidChunkCount
	}

	v, err, _ := m.merges.Do(sessionKey, func() (interface{}, error) {
		return m.merge(ctx, sessionKey, totalChunks, filename)
	})
	if err != nil {
		return model.Artifact{}, err
	}

	return v.(model.Artifact), nil
}

func (m *MergeEngine) merge(ctx context.Context, sessionKey string, totalChunks int, filename string) (model.Artifact, error) {
	name := GetArtifactName(sessionKey, filename)

	// A session that has already been merged and cleaned up still answers
	// with its recorded artifact, so a repeated merge of the same pair is
	// idempotent.
	if !m.registry.Known(sessionKey) {
		if prior, err := m.artifacts.Get(ctx, name); err == nil && prior.SessionKey == sessionKey {
			return *prior, nil
		}
	}

	m.registry.Close(sessionKey)

	for i := 0; i < totalChunks; i++ {
		exists, err := m.store.Exists(sessionKey, i)
		if err != nil {
			m.registry.Reopen(sessionKey)
			return model.Artifact{}, err
		}
		if !exists {
			m.registry.Reopen(sessionKey)
			return model.Artifact{}, &MissingChunkError{Index: i}
		}
	}

	size, sum, err := m.artifacts.publish(name, func(w io.Writer) error {
		for i := 0; i < totalChunks; i++ {
			rc, err := m.store.Open(sessionKey, i)
			if err != nil {
				return err
			}

			_, err = io.Copy(w, rc)
			rc.Close()
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		m.registry.Reopen(sessionKey)
		return model.Artifact{}, err
	}

	artifact := model.NewArtifact(name, sessionKey, filename, size, sum)
	if err := m.artifacts.Save(ctx, artifact); err != nil {
		m.registry.Reopen(sessionKey)
		return model.Artifact{}, err
	}

	// Cleanup is best effort, the artifact is already published.
	if err := m.store.Remove(sessionKey); err != nil {
		log.Errorw("merge", "event", "chunk cleanup failed", "session", sessionKey, "error", err)
	}
	m.registry.Forget(sessionKey)

	return artifact, nil
}
