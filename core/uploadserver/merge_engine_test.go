package uploadserver

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/chunkd/chunkd/lib/keyspace"
)

func readArtifact(t *testing.T, server *UploadServer, name string) string {
	t.Helper()

	rc, _, err := server.OpenArtifact(name)
	if err != nil {
		t.Fatalf("open artifact %q: %v", name, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}

	return string(b)
}

func TestMergeConcatenatesInIndexOrder(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	uploadString(t, server, "s1", 1, "World")
	uploadString(t, server, "s1", 0, "Hello, ")

	artifact, err := server.Merge(ctx, "s1", 2, "greeting.txt")
	if err != nil {
		t.Fatal(err)
	}

	if artifact.Name != "s1_greeting.txt" {
		t.Fatalf("artifact name = %q, want %q", artifact.Name, "s1_greeting.txt")
	}
	if got := readArtifact(t, server, artifact.Name); got != "Hello, World" {
		t.Fatalf("artifact bytes = %q, want %q", got, "Hello, World")
	}
	if artifact.Size != int64(len("Hello, World")) {
		t.Fatalf("artifact size = %d, want %d", artifact.Size, len("Hello, World"))
	}
}

func TestMergeCleansUpSession(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	uploadString(t, server, "s1", 0, "data")

	if _, err := server.Merge(ctx, "s1", 1, "out.bin"); err != nil {
		t.Fatal(err)
	}

	if exists, _ := server.Chunks.Exists("s1", 0); exists {
		t.Fatal("chunks still on disk after merge")
	}
	if server.Sessions.Known("s1") {
		t.Fatal("session still registered after merge")
	}
}

func TestMergeUploadOrderIrrelevant(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	parts := []string{"aa", "bb", "cc", "dd"}

	for i := 0; i < len(parts); i++ {
		uploadString(t, server, "fwd", i, parts[i])
	}
	for i := len(parts) - 1; i >= 0; i-- {
		uploadString(t, server, "rev", i, parts[i])
	}

	fwd, err := server.Merge(ctx, "fwd", len(parts), "out.bin")
	if err != nil {
		t.Fatal(err)
	}
	rev, err := server.Merge(ctx, "rev", len(parts), "out.bin")
	if err != nil {
		t.Fatal(err)
	}

	if readArtifact(t, server, fwd.Name) != readArtifact(t, server, rev.Name) {
		t.Fatal("upload order changed merged bytes")
	}
	if fwd.Checksum != rev.Checksum {
		t.Fatalf("checksums differ: %q vs %q", fwd.Checksum, rev.Checksum)
	}
}

func TestMergeReportsSmallestMissingIndex(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	uploadString(t, server, "s1", 0, "a")
	uploadString(t, server, "s1", 2, "c")

	_, err := server.Merge(ctx, "s1", 3, "out.bin")

	var missing *MissingChunkError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingChunkError", err)
	}
	if missing.Index != 1 {
		t.Fatalf("missing index = %d, want 1", missing.Index)
	}

	if _, _, err := server.OpenArtifact("s1_out.bin"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("artifact present after failed merge: %v", err)
	}

	// the session accepts the missing chunk and a retried merge succeeds
	uploadString(t, server, "s1", 1, "b")
	artifact, err := server.Merge(ctx, "s1", 3, "out.bin")
	if err != nil {
		t.Fatal(err)
	}
	if got := readArtifact(t, server, artifact.Name); got != "abc" {
		t.Fatalf("artifact bytes = %q, want %q", got, "abc")
	}
}

func TestMergeZeroChunksProducesEmptyArtifact(t *testing.T) {
	server := newTestServer(t)

	artifact, err := server.Merge(context.Background(), "empty", 0, "nothing.bin")
	if err != nil {
		t.Fatal(err)
	}

	if artifact.Size != 0 {
		t.Fatalf("artifact size = %d, want 0", artifact.Size)
	}
	if got := readArtifact(t, server, artifact.Name); got != "" {
		t.Fatalf("artifact bytes = %q, want empty", got)
	}
}

func TestMergeFailurePublishesNothing(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	uploadString(t, server, "s1", 0, "a")
	uploadString(t, server, "s1", 1, "b")

	// sabotage chunk 1: a directory passes the existence check but fails
	// once the merge starts reading it
	path := server.Chunks.chunkPath("s1", 1)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0750); err != nil {
		t.Fatal(err)
	}

	if _, err := server.Merge(ctx, "s1", 2, "out.bin"); err == nil {
		t.Fatal("merge succeeded reading a directory")
	}

	if _, _, err := server.OpenArtifact("s1_out.bin"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("artifact visible after failed merge: %v", err)
	}

	entries, err := os.ReadDir(server.Cfg.Storage.ArtifactsPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("artifact dir not empty after failed merge: %v", entries)
	}
}

func TestMergeConcurrentCallsShareResult(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	uploadString(t, server, "s1", 0, "Hello, ")
	uploadString(t, server, "s1", 1, "World")

	var wg sync.WaitGroup
	names := make([]string, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifact, err := server.Merge(ctx, "s1", 2, "greeting.txt")
			names[i], errs[i] = artifact.Name, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("merge %d: %v", i, errs[i])
		}
	}
	if names[0] != names[1] {
		t.Fatalf("artifact names differ: %q vs %q", names[0], names[1])
	}
	if got := readArtifact(t, server, names[0]); got != "Hello, World" {
		t.Fatalf("artifact bytes = %q, want %q", got, "Hello, World")
	}
}

func TestMergeRepeatedCallIsIdempotent(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	uploadString(t, server, "s1", 0, "data")

	first, err := server.Merge(ctx, "s1", 1, "out.bin")
	if err != nil {
		t.Fatal(err)
	}

	second, err := server.Merge(ctx, "s1", 1, "out.bin")
	if err != nil {
		t.Fatal(err)
	}

	if first.Name != second.Name || first.ID != second.ID {
		t.Fatalf("repeated merge returned a different artifact: %+v vs %+v", first, second)
	}
}

func TestMergeRejectsInvalidInput(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	if _, err := server.Merge(ctx, "../escape", 1, "out.bin"); !errors.Is(err, keyspace.ErrUnsafeKey) {
		t.Fatalf("err = %v, want %v", err, keyspace.ErrUnsafeKey)
	}
	if _, err := server.Merge(ctx, "s1", 1, "../../etc/passwd"); !errors.Is(err, keyspace.ErrUnsafeKey) {
		t.Fatalf("err = %v, want %v", err, keyspace.ErrUnsafeKey)
	}
	if _, err := server.Merge(ctx, "s1", -1, "out.bin"); !errors.Is(err, ErrInvalidChunkCount) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidChunkCount)
	}
}

func TestMergeRecordsArtifactMetadata(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	uploadString(t, server, "s1", 0, "data")

	artifact, err := server.Merge(ctx, "s1", 1, "out.bin")
	if err != nil {
		t.Fatal(err)
	}

	stored, err := server.Artifacts.Get(ctx, artifact.Name)
	if err != nil {
		t.Fatal(err)
	}
	if stored.SessionKey != "s1" || stored.Filename != "out.bin" || stored.Size != 4 {
		t.Fatalf("stored metadata = %+v", stored)
	}
	if stored.Checksum == "" {
		t.Fatal("stored metadata has no checksum")
	}

	all, err := server.Artifacts.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("artifact index holds %d records, want 1", len(all))
	}
}
