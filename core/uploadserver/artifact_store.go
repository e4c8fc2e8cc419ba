package uploadserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	fp "path/filepath"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"

	"github.com/chunkd/chunkd/core/model"
	"github.com/chunkd/chunkd/lib/checksum"
	"github.com/chunkd/chunkd/lib/keyspace"
)

// ArtifactStore holds finalized artifacts on disk alongside a leveldb index
// of their metadata.
type ArtifactStore struct {
	root  string
	index *dslvl.Datastore
}

func NewArtifactStore(root, metaPath string) (*ArtifactStore, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, err
	}

	index, err := dslvl.NewDatastore(fp.Join(metaPath, "artifacts"), nil)
	if err != nil {
		return nil, err
	}

	return &ArtifactStore{
		root:  root,
		index: index,
	}, nil
}

func (a *ArtifactStore) Save(ctx context.Context, artifact model.Artifact) error {
	b, err := json.Marshal(artifact)
	if err != nil {
		return err
	}

	k := ds.NewKey(artifact.Name)
	return a.index.Put(ctx, k, b)
}

func (a *ArtifactStore) Get(ctx context.Context, name string) (*model.Artifact, error) {
	k := ds.NewKey(name)
	b, err := a.index.Get(ctx, k)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}

	var artifact model.Artifact
	err = json.Unmarshal(b, &artifact)
	if err != nil {
		return nil, err
	}

	return &artifact, nil
}

func (a *ArtifactStore) All(ctx context.Context) ([]*model.Artifact, error) {
	q := dsq.Query{}
	artifacts := make([]*model.Artifact, 0)

	res, err := a.index.Query(ctx, q)
	if err != nil {
		return artifacts, err
	}

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}

		var artifact model.Artifact
		err = json.Unmarshal(r.Value, &artifact)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, &artifact)
	}

	return artifacts, err
}

// Open returns a stream over the artifact bytes and their total size.
// Names that would resolve outside the artifact directory come back as
// ErrArtifactNotFound, never as a filesystem error.
func (a *ArtifactStore) Open(name string) (io.ReadCloser, int64, error) {
	if err := keyspace.Validate(name); err != nil {
		return nil, 0, ErrArtifactNotFound
	}

	f, err := os.Open(fp.Join(a.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, ErrArtifactNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, fi.Size(), nil
}

// publish streams fill into a temporary file and renames it onto the final
// artifact name, so readers never observe a partially written artifact.
func (a *ArtifactStore) publish(name string, fill func(io.Writer) error) (int64, string, error) {
	tmp, err := os.CreateTemp(a.root, ".merge-*")
	if err != nil {
		return 0, "", err
	}

	h := checksum.Hash()
	if err := fill(io.MultiWriter(tmp, h)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, "", err
	}

	fi, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, "", err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, "", err
	}

	if err := os.Rename(tmp.Name(), fp.Join(a.root, name)); err != nil {
		os.Remove(tmp.Name())
		return 0, "", err
	}

	return fi.Size(), checksum.HexDigest(h), nil
}

func (a *ArtifactStore) Close() error {
	return a.index.Close()
}
