package model

import (
	"time"

	"github.com/google/uuid"
)

// Artifact describes one merged output file.
type Artifact struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	SessionKey string    `json:"session"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"sha256"`
	CreatedAt  time.Time `json:"createdAt"`
}

func NewArtifact(name, sessionKey, filename string, size int64, checksum string) Artifact {
	return Artifact{
		ID:         uuid.New(),
		Name:       name,
		SessionKey: sessionKey,
		Filename:   filename,
		Size:       size,
		Checksum:   checksum,
		CreatedAt:  time.Now().UTC(),
	}
}
