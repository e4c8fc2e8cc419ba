package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chunkd/chunkd/core/uploadserver"
	"github.com/chunkd/chunkd/lib/keyspace"
)

type API struct {
	server *uploadserver.UploadServer
}

func NewAPI(server *uploadserver.UploadServer) *API {
	return &API{
		server: server,
	}
}

func (a *API) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Post("/upload", a.UploadChunk)
	rtr.Post("/merge", a.Merge)
	rtr.Get("/download/{artifact}", a.Download)
	rtr.Get("/artifacts", a.ListArtifacts)
	rtr.Get("/sessions/{session}", a.SessionStatus)
	rtr.Delete("/sessions/{session}", a.AbortSession)

	return rtr
}

// UploadChunk stores one chunk under ?session=<key>&index=<i>. The payload
// is either the multipart form field "chunk" or the raw request body.
func (a *API) UploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionKey := r.URL.Query().Get("session")
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		writeError(w, uploadserver.ErrInvalidChunkIndex)
		return
	}

	log.Infow("http", "event", "API.UploadChunk", "session", sessionKey, "index", index)

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("chunk")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid multipart payload"})
			return
		}
		defer f.Close()
		body = f
	}

	written, err := a.server.UploadChunk(sessionKey, index, body)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session": sessionKey,
		"index":   index,
		"size":    written,
	})
}

// Merge reassembles ?session=<key> from ?total=<n> chunks into an artifact
// named after ?filename=<name>.
func (a *API) Merge(w http.ResponseWriter, r *http.Request) {
	sessionKey := r.URL.Query().Get("session")
	filename := r.URL.Query().Get("filename")
	total, err := strconv.Atoi(r.URL.Query().Get("total"))
	if err != nil {
		writeError(w, uploadserver.ErrInvalidChunkCount)
		return
	}

	log.Infow("http", "event", "API.Merge", "session", sessionKey, "total", total, "filename", filename)

	artifact, err := a.server.Merge(r.Context(), sessionKey, total, filename)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, artifact)
}

// Download streams a merged artifact's bytes.
func (a *API) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "artifact")

	log.Infow("http", "event", "API.Download", "artifact", name)

	rc, size, err := a.server.OpenArtifact(name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if meta, err := a.server.Artifacts.Get(r.Context(), name); err == nil {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
	}

	if _, err := io.Copy(w, rc); err != nil {
		log.Errorw("http", "event", "API.Download", "artifact", name, "error", err)
	}
}

// ListArtifacts returns the artifact index.
func (a *API) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := a.server.Artifacts.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, artifacts)
}

// SessionStatus reports the chunk indices received so far for a session.
func (a *API) SessionStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "session")

	snapshot, err := a.server.Session(key)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// AbortSession drops a session and its chunks without merging.
func (a *API) AbortSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "session")

	log.Infow("http", "event", "API.AbortSession", "session", key)

	if err := a.server.AbortSession(key); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorw("http", "event", "writeJSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var missing *uploadserver.MissingChunkError

	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":        err.Error(),
			"missingChunk": missing.Index,
		})
		return
	case errors.Is(err, uploadserver.ErrSessionClosed):
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": err.Error()})
		return
	case errors.Is(err, keyspace.ErrUnsafeKey),
		errors.Is(err, uploadserver.ErrInvalidChunkIndex),
		errors.Is(err, uploadserver.ErrInvalidChunkCount):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	case errors.Is(err, uploadserver.ErrArtifactNotFound),
		errors.Is(err, uploadserver.ErrChunkNotFound),
		errors.Is(err, uploadserver.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
}
