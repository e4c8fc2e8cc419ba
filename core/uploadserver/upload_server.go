package uploadserver

import (
	"context"
	"errors"
	"io"

	"github.com/chunkd/chunkd/core/model"
	"github.com/chunkd/chunkd/lib/logger"
)

var log, _ = logger.New("uploadserver")

var (
	ErrChunkNotFound     = errors.New("chunk not found")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidChunkIndex = errors.New("chunk index must not be negative")
	ErrInvalidChunkCount = errors.New("total chunk count must not be negative")
	ErrSessionClosed     = errors.New("session closed for upload")
)

// UploadServer composes the chunk store, session registry, merge engine,
// artifact store and janitor behind a single engine surface.
type UploadServer struct {
	Chunks    *ChunkStore
	Sessions  *SessionRegistry
	Merger    *MergeEngine
	Artifacts *ArtifactStore
	Janitor   *Janitor

	Cfg *Config
}

func NewUploadServer(cfg *Config) (*UploadServer, error) {
	chunks := NewChunkStore(cfg.Storage.ChunksPath)
	sessions := NewSessionRegistry()

	artifacts, err := NewArtifactStore(cfg.Storage.ArtifactsPath, cfg.Storage.MetaPath)
	if err != nil {
		return nil, err
	}

	if err := sessions.Rebuild(chunks); err != nil {
		artifacts.Close()
		return nil, err
	}

	return &UploadServer{
		Chunks:    chunks,
		Sessions:  sessions,
		Merger:    NewMergeEngine(chunks, sessions, artifacts),
		Artifacts: artifacts,
		Janitor:   NewJanitor(chunks, sessions, cfg.Janitor.SessionTTL, cfg.Janitor.SweepInterval),
		Cfg:       cfg,
	}, nil
}

// UploadChunk persists one chunk and records its arrival. Re-uploading an
// index replaces the previous bytes.
func (u *UploadServer) UploadChunk(sessionKey string, index int, r io.Reader) (int64, error) {
	if err := u.Sessions.CheckOpen(sessionKey); err != nil {
		return 0, err
	}

	written, err := u.Chunks.Put(sessionKey, index, r)
	if err != nil {
		return 0, err
	}

	if err := u.Sessions.RecordChunk(sessionKey, index); err != nil {
		return written, err
	}

	return written, nil
}

// Merge reassembles a fully uploaded session into one artifact.
func (u *UploadServer) Merge(ctx context.Context, sessionKey string, totalChunks int, filename string) (model.Artifact, error) {
	return u.Merger.Merge(ctx, sessionKey, totalChunks, filename)
}

// OpenArtifact returns a stream over a merged artifact's bytes.
func (u *UploadServer) OpenArtifact(name string) (io.ReadCloser, int64, error) {
	return u.Artifacts.Open(name)
}

// Session returns a view of an upload in progress.
func (u *UploadServer) Session(key string) (model.Session, error) {
	snapshot, exists := u.Sessions.Snapshot(key)
	if !exists {
		return model.Session{}, ErrSessionNotFound
	}

	return snapshot, nil
}

// AbortSession drops a session and all of its chunks without merging.
func (u *UploadServer) AbortSession(key string) error {
	if err := u.Chunks.Remove(key); err != nil {
		return err
	}

	u.Sessions.Forget(key)
	return nil
}

func (u *UploadServer) Close() error {
	return u.Artifacts.Close()
}
