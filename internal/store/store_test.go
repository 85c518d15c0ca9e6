package store

import (
	"bytes"
	"io"
	"testing"

	"github.com/spf13/afero"

	ourhash "github.com/ccwrap/ccwrap/internal/hash"
)

func TestStageCreatesItsOwnTempDirOnARealFilesystem(t *testing.T) {
	dir := t.TempDir()
	s := New(afero.NewOsFs(), dir, 2, "")

	fh := ourhash.FileHash{Digest: [16]byte{4, 4, 4}, Size: 5}
	p := s.PathOf(fh, ".o")

	if err := s.Stage(p, bytes.NewReader([]byte("bytes")), false); err != nil {
		t.Fatalf("Stage failed on a freshly created cache dir: %v", err)
	}
	if !s.Exists(p) {
		t.Fatalf("expected cache entry to exist after Stage")
	}
}

func TestStageUsesConfiguredTempDirInsteadOfDirSlashTmp(t *testing.T) {
	cacheDir := t.TempDir()
	tempDir := t.TempDir()
	s := New(afero.NewOsFs(), cacheDir, 2, tempDir)

	fh := ourhash.FileHash{Digest: [16]byte{7, 7, 7}, Size: 5}
	p := s.PathOf(fh, ".o")

	if err := s.Stage(p, bytes.NewReader([]byte("bytes")), false); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if !s.Exists(p) {
		t.Fatalf("expected cache entry to exist after Stage")
	}

	entries, err := afero.ReadDir(afero.NewOsFs(), cacheDir+"/tmp")
	if err == nil && len(entries) != 0 {
		t.Errorf("expected no leftover temp files under the default tmp dir when TempDir is set")
	}
}

func TestStageThenMaterializeRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/cache", 2, "")

	fh := ourhash.FileHash{Digest: [16]byte{1, 2, 3}, Size: 7}
	p := s.PathOf(fh, ".o")

	if err := s.Stage(p, bytes.NewReader([]byte("object bytes")), false); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if !s.Exists(p) {
		t.Fatalf("expected cache entry to exist after Stage")
	}

	if err := s.Materialize(p, "/build/main.o", false); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	out, err := fs.Open("/build/main.o")
	if err != nil {
		t.Fatalf("expected materialized file to exist: %v", err)
	}
	defer out.Close()
	data, _ := io.ReadAll(out)
	if string(data) != "object bytes" {
		t.Errorf("got %q", data)
	}
}

func TestStageCompressedThenMaterializeDecompresses(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/cache", 2, "")

	fh := ourhash.FileHash{Digest: [16]byte{9}, Size: 3}
	p := s.PathOf(fh, ".o")

	if err := s.Stage(p, bytes.NewReader([]byte("abc")), true); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	compressed, err := s.IsCompressed(p)
	if err != nil || !compressed {
		t.Fatalf("expected staged file to be detected as compressed, got %v, %v", compressed, err)
	}

	if err := s.Materialize(p, "/build/main.o", false); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	out, _ := fs.Open("/build/main.o")
	defer out.Close()
	data, _ := io.ReadAll(out)
	if string(data) != "abc" {
		t.Errorf("expected decompressed contents, got %q", data)
	}
}

func TestTwoEqualFileHashesYieldSameCachePath(t *testing.T) {
	fh1 := ourhash.FileHash{Digest: [16]byte{5, 5, 5}, Size: 42}
	fh2 := ourhash.FileHash{Digest: [16]byte{5, 5, 5}, Size: 42}

	p1 := PathOf("/cache", fh1, ".o", 2)
	p2 := PathOf("/cache", fh2, ".o", 2)

	if p1.Full() != p2.Full() {
		t.Errorf("expected equal FileHashes to yield the same CachePath, got %q vs %q", p1.Full(), p2.Full())
	}
}
