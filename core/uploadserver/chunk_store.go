package uploadserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	fp "path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chunkd/chunkd/lib/keyspace"
)

// ChunkStore persists raw chunk bytes on the local filesystem, one file per
// (session, index) slot under a per-session directory.
type ChunkStore struct {
	root string
}

func NewChunkStore(root string) *ChunkStore {
	return &ChunkStore{
		root: root,
	}
}

func GetChunkFilename(index int) string {
	return fmt.Sprintf("%d.chunk", index)
}

func (cs *ChunkStore) sessionDir(sessionKey string) string {
	return fp.Join(cs.root, sessionKey)
}

func (cs *ChunkStore) chunkPath(sessionKey string, index int) string {
	return fp.Join(cs.sessionDir(sessionKey), GetChunkFilename(index))
}

// Put writes the bytes read from r into the (sessionKey, index) slot,
// replacing any previous bytes. The data lands in a temporary file that is
// renamed into place, so two writers racing on the same slot can never
// leave interleaved bytes behind.
func (cs *ChunkStore) Put(sessionKey string, index int, r io.Reader) (int64, error) {
	if err := keyspace.Validate(sessionKey); err != nil {
		return 0, err
	}

	if index < 0 {
		return 0, ErrInvalidChunkIndex
	}

	dir := cs.sessionDir(sessionKey)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%d-*.part", index))
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}

	if err := os.Rename(tmp.Name(), cs.chunkPath(sessionKey, index)); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}

	return written, nil
}

// Open returns a reader over the chunk bytes stored at (sessionKey, index).
func (cs *ChunkStore) Open(sessionKey string, index int) (io.ReadCloser, error) {
	if err := keyspace.Validate(sessionKey); err != nil {
		return nil, err
	}

	f, err := os.Open(cs.chunkPath(sessionKey, index))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, err
	}

	return f, nil
}

// Exists reports whether a chunk has been stored at (sessionKey, index).
func (cs *ChunkStore) Exists(sessionKey string, index int) (bool, error) {
	if err := keyspace.Validate(sessionKey); err != nil {
		return false, err
	}

	_, err := os.Stat(cs.chunkPath(sessionKey, index))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Remove deletes all chunks stored for a session. Removing a session that
// was never written is not an error.
func (cs *ChunkStore) Remove(sessionKey string) error {
	if err := keyspace.Validate(sessionKey); err != nil {
		return err
	}

	return os.RemoveAll(cs.sessionDir(sessionKey))
}

// ListIndices returns the sorted chunk indices present for a session.
func (cs *ChunkStore) ListIndices(sessionKey string) ([]int, error) {
	if err := keyspace.Validate(sessionKey); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(cs.sessionDir(sessionKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".chunk") {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSuffix(name, ".chunk"))
		if err != nil {
			continue
		}

		indices = append(indices, index)
	}

	sort.Ints(indices)
	return indices, nil
}

// Sessions lists the session keys that currently hold chunks on disk.
func (cs *ChunkStore) Sessions() ([]string, error) {
	entries, err := os.ReadDir(cs.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			keys = append(keys, entry.Name())
		}
	}

	return keys, nil
}
